package llm

import (
	"context"
	"sync"
)

// MockClient is a canned-answer Client for tests. It records the prompts it
// was called with.
type MockClient struct {
	Answer string
	Err    error

	mu      sync.Mutex
	Systems []string
	Users   []string
}

// Complete records the prompts and returns the canned answer or error.
func (m *MockClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	m.Systems = append(m.Systems, systemPrompt)
	m.Users = append(m.Users, userPrompt)
	m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	return m.Answer, nil
}

// Calls returns how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Users)
}
