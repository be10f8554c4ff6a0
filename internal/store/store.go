// Package store provides the SQLite-backed embedding store: every ingested
// message with its embedding and metadata, the persisted vector index blob,
// and the single-slot conversation memory.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperchat/kaiwa/internal/models"
)

// Store wraps the SQLite database. Finder methods return (nil, nil) when no
// row matches, so "no rows" is never conflated with "storage unavailable".
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		seq_id INTEGER PRIMARY KEY,
		chat_id TEXT NOT NULL,
		group_id TEXT NOT NULL,
		user_name TEXT NOT NULL,
		created_on TIMESTAMP NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		image_context TEXT NOT NULL DEFAULT '',
		message_type TEXT NOT NULL,
		embedding BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_messages_group_seq ON messages(group_id, seq_id);
	CREATE INDEX IF NOT EXISTS idx_messages_group_created ON messages(group_id, created_on);

	CREATE TABLE IF NOT EXISTS index_blob (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		format_tag TEXT NOT NULL,
		dimensions INTEGER NOT NULL,
		vector_count INTEGER NOT NULL,
		data BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_memory (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_message_id INTEGER,
		last_message_text TEXT,
		last_topic TEXT
	);

	CREATE TABLE IF NOT EXISTS chat_groups (
		id TEXT PRIMARY KEY,
		name TEXT,
		description TEXT,
		category TEXT,
		subcategory TEXT,
		image TEXT,
		created_on TEXT,
		updated_on TEXT,
		created_by TEXT
	);

	CREATE TABLE IF NOT EXISTS chat_users (
		user_name TEXT PRIMARY KEY,
		first_name TEXT,
		last_name TEXT,
		is_mute BOOLEAN
	);
	`
	_, err := db.Exec(schema)
	return err
}

const messageColumns = "seq_id, chat_id, group_id, user_name, created_on, text, image_url, image_context, message_type, embedding"

// Append assigns the next sequential id to rec, persists it, and returns the id.
func (s *Store) Append(ctx context.Context, rec *models.MessageRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq_id) + 1, 0) FROM messages`).Scan(&next); err != nil {
		return 0, err
	}
	rec.SequenceID = next
	if err := insertMessage(ctx, tx, rec); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return next, nil
}

// RebuildAll clears the store and reloads it, reassigning sequence ids
// 0..N-1 in input order. The whole reload is one transaction: callers never
// observe a partial commit.
func (s *Store) RebuildAll(ctx context.Context, recs []*models.MessageRecord) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return 0, err
	}
	for i, rec := range recs {
		rec.SequenceID = int64(i)
		if err := insertMessage(ctx, tx, rec); err != nil {
			return 0, fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(recs), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, ex execer, rec *models.MessageRecord) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SequenceID, rec.ChatID, rec.GroupID, rec.UserName, rec.CreatedOn.UTC(),
		rec.Text, rec.ImageURL, rec.ImageContext, rec.MessageType,
		embeddingToBytes(rec.Embedding),
	)
	return err
}

func scanMessage(row interface{ Scan(...any) error }) (*models.MessageRecord, error) {
	var rec models.MessageRecord
	var blob []byte
	err := row.Scan(&rec.SequenceID, &rec.ChatID, &rec.GroupID, &rec.UserName,
		&rec.CreatedOn, &rec.Text, &rec.ImageURL, &rec.ImageContext,
		&rec.MessageType, &blob)
	if err != nil {
		return nil, err
	}
	rec.Embedding = bytesToEmbedding(blob)
	return &rec, nil
}

// GetBySequenceID returns the record with the given id, or (nil, nil).
func (s *Store) GetBySequenceID(ctx context.Context, id int64) (*models.MessageRecord, error) {
	rec, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE seq_id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// GetBySequenceIDs returns the records for the given ids keyed by id.
// Missing ids are simply absent from the map.
func (s *Store) GetBySequenceIDs(ctx context.Context, ids []int64) (map[int64]*models.MessageRecord, error) {
	out := make(map[int64]*models.MessageRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE seq_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out[rec.SequenceID] = rec
	}
	return out, rows.Err()
}

// FirstInGroup returns the lowest-sequence record in the group, excluding the
// sentinel user, or (nil, nil) when the group has no real messages.
func (s *Store) FirstInGroup(ctx context.Context, groupID string) (*models.MessageRecord, error) {
	rec, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE group_id = ? AND user_name != ?
		 ORDER BY seq_id ASC LIMIT 1`, groupID, models.SentinelUser))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// FindFirstAfter returns the record with the smallest sequence id greater
// than id, across all groups, or (nil, nil) when id is the last message.
func (s *Store) FindFirstAfter(ctx context.Context, id int64) (*models.MessageRecord, error) {
	rec, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE seq_id > ? ORDER BY seq_id ASC LIMIT 1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// FindByKeyword returns the lowest-sequence message in the group whose text
// contains keyword (case-insensitive substring), or (nil, nil).
func (s *Store) FindByKeyword(ctx context.Context, groupID, keyword string) (*models.MessageRecord, error) {
	rec, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE group_id = ? AND text != '' AND instr(lower(text), lower(?)) > 0
		 ORDER BY seq_id ASC LIMIT 1`, groupID, keyword))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// FindByDateRange returns the group's messages with timestamp in
// [start, end] inclusive, ascending by time, excluding the sentinel user.
func (s *Store) FindByDateRange(ctx context.Context, groupID string, start, end time.Time) ([]*models.MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE group_id = ? AND user_name != ? AND created_on >= ? AND created_on <= ?
		 ORDER BY created_on ASC, seq_id ASC`,
		groupID, models.SentinelUser, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.MessageRecord
	for rows.Next() {
		rec, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListDistinctUsers returns the names of users who posted in the group,
// excluding the sentinel user, in alphabetical order.
func (s *Store) ListDistinctUsers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_name FROM messages
		 WHERE group_id = ? AND user_name != ?
		 ORDER BY user_name ASC`, groupID, models.SentinelUser)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		users = append(users, name)
	}
	return users, rows.Err()
}

// CountInGroup returns the number of messages in the group.
func (s *Store) CountInGroup(ctx context.Context, groupID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE group_id = ?`, groupID).Scan(&count)
	return count, err
}

// CountMessages returns the total number of stored messages.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

// CountGroups returns the number of known chat groups.
func (s *Store) CountGroups(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_groups`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// embeddingToBytes encodes a vector as little-endian float32 bytes.
func embeddingToBytes(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	out := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], math.Float32bits(v))
	}
	return out
}

func bytesToEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4 : (i+1)*4]))
	}
	return out
}
