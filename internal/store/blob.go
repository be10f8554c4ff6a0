package store

import (
	"context"
	"database/sql"
	"time"
)

// IndexBlob is the persisted vector index: opaque serialized bytes plus the
// metadata needed to deserialize them deterministically.
type IndexBlob struct {
	FormatTag  string
	Dimensions int
	Count      int
	Data       []byte
	UpdatedAt  time.Time
}

// SaveIndexBlob replaces the persisted index blob.
func (s *Store) SaveIndexBlob(ctx context.Context, tag string, dimensions, count int, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO index_blob (id, format_tag, dimensions, vector_count, data, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?)`,
		tag, dimensions, count, data, time.Now().UTC())
	return err
}

// LoadIndexBlob returns the persisted index blob, or (nil, nil) when no
// index has been built yet.
func (s *Store) LoadIndexBlob(ctx context.Context) (*IndexBlob, error) {
	var blob IndexBlob
	err := s.db.QueryRowContext(ctx,
		`SELECT format_tag, dimensions, vector_count, data, updated_at
		 FROM index_blob WHERE id = 1`).
		Scan(&blob.FormatTag, &blob.Dimensions, &blob.Count, &blob.Data, &blob.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &blob, nil
}
