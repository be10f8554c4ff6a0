// Package llm provides the chat-completion client used to turn retrieved
// context into prose answers.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Client completes a system/user prompt pair into text. Calls are
// synchronous, blocking, single-attempt: a failure is fatal to the current
// request only.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Config configures the chat model. BaseURL may point at any OpenAI-compatible
// chat-completions endpoint.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

// ChatModelClient implements Client on top of an eino chat model.
type ChatModelClient struct {
	chatModel model.ChatModel
}

// NewChatModelClient builds a chat model from cfg.
func NewChatModelClient(ctx context.Context, cfg Config) (*ChatModelClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm model name is required")
	}

	var temperature *float32
	if cfg.Temperature > 0 {
		val := float32(cfg.Temperature)
		temperature = &val
	}
	var maxTokens *int
	if cfg.MaxTokens > 0 {
		val := cfg.MaxTokens
		maxTokens = &val
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	return &ChatModelClient{chatModel: chatModel}, nil
}

// Complete runs one chat completion and returns the trimmed answer text.
func (c *ChatModelClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msg, err := c.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return strings.TrimSpace(msg.Content), nil
}
