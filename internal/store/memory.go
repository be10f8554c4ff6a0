package store

import (
	"context"

	"github.com/hyperchat/kaiwa/internal/models"
)

// ReadMemory returns the conversation memory singleton, creating it with all
// fields null on first use.
func (s *Store) ReadMemory(ctx context.Context) (*models.Memory, error) {
	if err := s.ensureMemoryRow(ctx); err != nil {
		return nil, err
	}
	var (
		mem  models.Memory
		id   *int64
		text *string
		top  *string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_message_id, last_message_text, last_topic
		 FROM conversation_memory WHERE id = 1`).Scan(&id, &text, &top)
	if err != nil {
		return nil, err
	}
	mem.LastMessageID = id
	if text != nil {
		mem.LastMessageText = *text
	}
	if top != nil {
		mem.LastTopic = *top
	}
	return &mem, nil
}

// WriteMemory overwrites all three memory fields atomically. id may be nil to
// clear the pointer. No history is retained.
func (s *Store) WriteMemory(ctx context.Context, id *int64, text, topic string) error {
	if err := s.ensureMemoryRow(ctx); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_memory
		 SET last_message_id = ?, last_message_text = ?, last_topic = ?
		 WHERE id = 1`, id, text, topic)
	return err
}

func (s *Store) ensureMemoryRow(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversation_memory (id, last_message_id, last_message_text, last_topic)
		 VALUES (1, NULL, NULL, NULL)`)
	return err
}
