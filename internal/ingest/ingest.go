// Package ingest loads chat export files into the embedding store and
// rebuilds the vector index. The index is rebuilt wholesale on every run;
// there is no incremental insert.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperchat/kaiwa/internal/embedding"
	"github.com/hyperchat/kaiwa/internal/models"
	"github.com/hyperchat/kaiwa/internal/store"
	"github.com/hyperchat/kaiwa/internal/vector"
)

// embedBatchSize caps how many texts go into one embedding request.
const embedBatchSize = 64

// Ingestor converts chat export group blocks into message records, embeds
// them, and rebuilds the store and the persisted index blob.
type Ingestor struct {
	store     *store.Store
	embedder  embedding.Embedder
	logger    *zap.Logger
	onRebuild func()
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets a logger for progress and drop warnings.
func WithLogger(l *zap.Logger) Option {
	return func(ing *Ingestor) { ing.logger = l }
}

// WithRebuildHook registers a callback invoked after every successful
// rebuild. The engine uses it to invalidate its cached index.
func WithRebuildHook(fn func()) Option {
	return func(ing *Ingestor) { ing.onRebuild = fn }
}

// NewIngestor creates an ingestor with the given dependencies.
func NewIngestor(st *store.Store, embedder embedding.Embedder, opts ...Option) *Ingestor {
	ing := &Ingestor{store: st, embedder: embedder}
	for _, opt := range opts {
		opt(ing)
	}
	return ing
}

// IngestFile reads a chat export file and ingests it.
func (ing *Ingestor) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read chat export: %w", err)
	}
	var blocks []models.GroupBlock
	if err := json.Unmarshal(data, &blocks); err != nil {
		return 0, fmt.Errorf("parse chat export: %w", err)
	}
	return ing.Ingest(ctx, blocks)
}

// Ingest mirrors group metadata, flattens the blocks into ordered message
// records (one synthetic user-list message per group, then the real
// messages), embeds everything, and rebuilds store and index. Returns the
// number of indexed messages.
func (ing *Ingestor) Ingest(ctx context.Context, blocks []models.GroupBlock) (int, error) {
	runID := uuid.New().String()
	if ing.logger != nil {
		ing.logger.Info("ingest starting", zap.String("run_id", runID), zap.Int("groups", len(blocks)))
	}

	var recs []*models.MessageRecord
	for i := range blocks {
		block := &blocks[i]
		if err := ing.mirrorMetadata(ctx, block); err != nil {
			return 0, err
		}
		recs = append(recs, ing.syntheticUserList(block))
		for j := range block.Data {
			rec, ok := ing.toRecord(&block.Data[j])
			if ok {
				recs = append(recs, rec)
			}
		}
	}

	if err := ing.embedAll(ctx, recs); err != nil {
		return 0, err
	}

	n, err := ing.store.RebuildAll(ctx, recs)
	if err != nil {
		return 0, fmt.Errorf("rebuild store: %w", err)
	}

	if err := ing.rebuildIndex(ctx, recs); err != nil {
		return 0, err
	}

	if ing.onRebuild != nil {
		ing.onRebuild()
	}
	if ing.logger != nil {
		ing.logger.Info("ingest finished", zap.String("run_id", runID), zap.Int("messages", n))
	}
	return n, nil
}

func (ing *Ingestor) mirrorMetadata(ctx context.Context, block *models.GroupBlock) error {
	if err := ing.store.UpsertGroup(ctx, &block.GroupDetails); err != nil {
		return fmt.Errorf("store group %s: %w", block.GroupDetails.ID, err)
	}
	for i := range block.GroupDetails.Users {
		if err := ing.store.UpsertUser(ctx, &block.GroupDetails.Users[i]); err != nil {
			return fmt.Errorf("store user %s: %w", block.GroupDetails.Users[i].UserName, err)
		}
	}
	return nil
}

// syntheticUserList builds the injected sentinel message listing the group's
// members. It makes "who is in this group" answerable from the same corpus
// as everything else.
func (ing *Ingestor) syntheticUserList(block *models.GroupBlock) *models.MessageRecord {
	names := make([]string, len(block.GroupDetails.Users))
	for i, u := range block.GroupDetails.Users {
		names[i] = u.UserName
	}
	createdOn, err := parseTimestamp(block.GroupDetails.CreatedOn)
	if err != nil {
		createdOn = time.Time{}
	}
	return &models.MessageRecord{
		ChatID:      "meta_users_" + block.GroupDetails.ID,
		GroupID:     block.GroupDetails.ID,
		UserName:    models.SentinelUser,
		CreatedOn:   createdOn,
		Text:        "Users in this group: " + strings.Join(names, ", "),
		MessageType: models.MessageTypeMessage,
	}
}

// toRecord converts a raw export message. Messages with no text and no image
// URL, or with an unparseable timestamp, are dropped.
func (ing *Ingestor) toRecord(raw *models.RawMessage) (*models.MessageRecord, bool) {
	rec := &models.MessageRecord{
		ChatID:       raw.ChatID,
		GroupID:      raw.GroupID,
		UserName:     raw.UserName,
		Text:         raw.Text(),
		ImageURL:     raw.ImageURL,
		ImageContext: raw.ImageContext,
		MessageType:  raw.MessageType,
	}
	if !rec.HasPayload() {
		if ing.logger != nil {
			ing.logger.Warn("dropping message with no payload", zap.String("chat_id", raw.ChatID))
		}
		return nil, false
	}
	createdOn, err := parseTimestamp(raw.CreatedOn)
	if err != nil {
		if ing.logger != nil {
			ing.logger.Warn("dropping message with bad timestamp",
				zap.String("chat_id", raw.ChatID), zap.String("created_on", raw.CreatedOn))
		}
		return nil, false
	}
	rec.CreatedOn = createdOn
	return rec, true
}

func (ing *Ingestor) embedAll(ctx context.Context, recs []*models.MessageRecord) error {
	for lo := 0; lo < len(recs); lo += embedBatchSize {
		hi := lo + embedBatchSize
		if hi > len(recs) {
			hi = len(recs)
		}
		texts := make([]string, hi-lo)
		for i, rec := range recs[lo:hi] {
			texts[i] = rec.EmbeddingText()
		}
		vecs, err := ing.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed messages %d-%d: %w", lo, hi-1, err)
		}
		for i, vec := range vecs {
			recs[lo+i].Embedding = vec
		}
	}
	return nil
}

func (ing *Ingestor) rebuildIndex(ctx context.Context, recs []*models.MessageRecord) error {
	vecs := make([][]float32, len(recs))
	for i, rec := range recs {
		vecs[i] = rec.Embedding
	}
	ix, err := vector.Build(vecs)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	blob, err := ix.Serialize()
	if err != nil {
		return fmt.Errorf("serialize index: %w", err)
	}
	if err := ing.store.SaveIndexBlob(ctx, vector.FormatTag, ix.Dimensions(), ix.Size(), blob); err != nil {
		return fmt.Errorf("persist index: %w", err)
	}
	return nil
}

// timestampLayouts are the formats seen in chat exports, most common first.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
