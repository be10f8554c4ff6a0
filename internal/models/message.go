// Package models defines core data structures for messages, answers, and conversation memory.
package models

import "time"

// Message type values as they appear in chat exports.
const (
	MessageTypeMessage  = "message"
	MessageTypeQuestion = "question"
	MessageTypeImage    = "image"
)

// SentinelUser is the synthetic author of injected metadata messages.
// It is excluded from "first message", date-range, and user-list queries.
const SentinelUser = "system"

// MessageRecord is one ingested chat message with its embedding and metadata.
// SequenceID is assigned at ingest time, strictly increasing in ingestion
// order, and is the sole ordering key for retrieval ("first message", "next
// message", follow-up resolution).
type MessageRecord struct {
	SequenceID   int64     `json:"sequence_id"`
	ChatID       string    `json:"chat_id"`
	GroupID      string    `json:"group_id"`
	UserName     string    `json:"user_name"`
	CreatedOn    time.Time `json:"created_on"`
	Text         string    `json:"text,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	ImageContext string    `json:"image_context,omitempty"`
	MessageType  string    `json:"message_type"`
	Embedding    []float32 `json:"-"`
}

// HasPayload reports whether the record carries text or an image URL.
// Records with neither are dropped at ingest.
func (m *MessageRecord) HasPayload() bool {
	return m.Text != "" || m.ImageURL != ""
}

// IsImage reports whether the record is image-only (has an image URL).
// Such records are excluded from text answer context.
func (m *MessageRecord) IsImage() bool {
	return m.ImageURL != ""
}

// EmbeddingText returns the text used to embed the record: the message text
// when present, otherwise the image context.
func (m *MessageRecord) EmbeddingText() string {
	if m.Text != "" {
		return m.Text
	}
	return m.ImageContext
}
