// Package engine routes a question to a retrieval strategy and assembles the
// answer. It owns the cached vector index and the conversation memory writes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperchat/kaiwa/internal/embedding"
	"github.com/hyperchat/kaiwa/internal/intent"
	"github.com/hyperchat/kaiwa/internal/llm"
	"github.com/hyperchat/kaiwa/internal/models"
	"github.com/hyperchat/kaiwa/internal/store"
	"github.com/hyperchat/kaiwa/internal/vector"
)

// ErrUnresolvedReference reports a follow-up question with no memory set.
// The engine recovers it locally; it never crosses the transport boundary.
var ErrUnresolvedReference = errors.New("no prior message to resolve against")

// imageScoreThreshold is the minimum similarity for an image to be surfaced.
const imageScoreThreshold = 0.35

// maxImages caps how many images one answer carries.
const maxImages = 5

// timeLayout formats message timestamps in answers and context lines.
const timeLayout = "2006-01-02 15:04:05"

const systemPrompt = "You are an AI assistant designed to extract factual information from group chat messages.\n\n" +
	"RULES:\n" +
	"1. Use ONLY the chat context. Do not guess.\n" +
	"2. Apply the 'not discussed' rule ONLY when the user asks about a topic. " +
	"DO NOT apply this rule for date-based summaries.\n" +
	"3. If user asks your opinion respond: \"I am not trained to provide personal opinions or subjective viewpoints.\"\n" +
	"4. If user greets (e.g., 'how are you') reply neutrally.\n" +
	"5. Keep responses short and factual."

// Engine answers questions over the ingested transcript corpus.
type Engine struct {
	store    *store.Store
	embedder embedding.Embedder
	llm      llm.Client
	logger   *zap.Logger

	// index is the cached deserialized vector index. It is loaded lazily
	// from the store and dropped by InvalidateIndex after a re-ingest.
	indexMu sync.Mutex
	index   *vector.FlatIndex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for per-question routing logs.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine over the given store, embedder, and LLM client.
func New(st *store.Store, embedder embedding.Embedder, client llm.Client, opts ...Option) *Engine {
	e := &Engine{store: st, embedder: embedder, llm: client}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InvalidateIndex drops the cached index so the next search reloads it from
// the store. Wired as the ingestor's rebuild hook.
func (e *Engine) InvalidateIndex() {
	e.indexMu.Lock()
	e.index = nil
	e.indexMu.Unlock()
}

// Answer routes the question to a retrieval strategy and returns the shaped
// answer. Recoverable "nothing found" conditions come back as answers, not
// errors; only infrastructure failures (storage, embedding, LLM) are errors.
func (e *Engine) Answer(ctx context.Context, question, groupID string) (*models.Answer, error) {
	in := intent.Classify(question)
	if e.logger != nil {
		e.logger.Info("routing question",
			zap.String("intent", in.Kind.String()),
			zap.String("group_id", groupID))
	}

	switch in.Kind {
	case intent.KindTimeRange:
		return e.answerTimeRange(ctx, question, groupID, in.Start, in.End)
	case intent.KindFirstMessage:
		return e.answerFirstMessage(ctx, groupID)
	case intent.KindFollowUp:
		return e.answerFollowUp(ctx)
	case intent.KindUserList:
		return e.answerUserList(ctx, groupID)
	case intent.KindTopicStart:
		return e.answerTopicStart(ctx, groupID, in.Keyword)
	default:
		return e.answerSemantic(ctx, question, groupID, in.ImageIntent)
	}
}

func (e *Engine) answerTimeRange(ctx context.Context, question, groupID string, start, end time.Time) (*models.Answer, error) {
	recs, err := e.store.FindByDateRange(ctx, groupID, start, end)
	if err != nil {
		return nil, fmt.Errorf("date range lookup: %w", err)
	}
	if len(recs) == 0 {
		return models.TextAnswer("No messages were found for the specified time period."), nil
	}
	text, err := e.summarize(ctx, question, buildContext(recs))
	if err != nil {
		return nil, err
	}
	return models.TextAnswer(text), nil
}

func (e *Engine) answerFirstMessage(ctx context.Context, groupID string) (*models.Answer, error) {
	rec, err := e.store.FirstInGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("first message lookup: %w", err)
	}
	if rec == nil {
		return models.TextAnswer("The group has no messages."), nil
	}
	if err := e.store.WriteMemory(ctx, &rec.SequenceID, rec.Text, "first_message"); err != nil {
		return nil, fmt.Errorf("write memory: %w", err)
	}
	return models.TextAnswer(fmt.Sprintf("%s sent the first message:\n%q", rec.UserName, rec.Text)), nil
}

func (e *Engine) answerFollowUp(ctx context.Context) (*models.Answer, error) {
	mem, err := e.store.ReadMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("read memory: %w", err)
	}
	if !mem.IsSet() {
		if e.logger != nil {
			e.logger.Debug("follow-up without memory", zap.Error(ErrUnresolvedReference))
		}
		return models.TextAnswer("I don't know which message you are referring to."), nil
	}
	rec, err := e.store.FindFirstAfter(ctx, *mem.LastMessageID)
	if err != nil {
		return nil, fmt.Errorf("follow-up lookup: %w", err)
	}
	if rec == nil {
		return models.TextAnswer("There are no more replies after that message."), nil
	}
	// The topic tag survives follow-up chains; only the pointer moves.
	if err := e.store.WriteMemory(ctx, &rec.SequenceID, rec.Text, mem.LastTopic); err != nil {
		return nil, fmt.Errorf("write memory: %w", err)
	}
	return models.TextAnswer(contextLine(rec)), nil
}

func (e *Engine) answerUserList(ctx context.Context, groupID string) (*models.Answer, error) {
	users, err := e.store.ListDistinctUsers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		return models.TextAnswer("The group has no messages."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "There are %d users in this group:", len(users))
	for i, name := range users {
		fmt.Fprintf(&b, "\n%d. %s", i+1, name)
	}
	return models.TextAnswer(b.String()), nil
}

func (e *Engine) answerTopicStart(ctx context.Context, groupID, keyword string) (*models.Answer, error) {
	rec, err := e.store.FindByKeyword(ctx, groupID, keyword)
	if err != nil {
		return nil, fmt.Errorf("topic lookup: %w", err)
	}
	if rec == nil {
		return models.TextAnswer(fmt.Sprintf("The topic %q was not discussed in this group.", keyword)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s started the discussion about %q on %s:\n%q",
		rec.UserName, keyword, rec.CreatedOn.Format(timeLayout), rec.Text)

	// Memory points at the last message surfaced: the immediate follow-up
	// when one exists, otherwise the topic-start message itself.
	last := rec
	next, err := e.store.FindFirstAfter(ctx, rec.SequenceID)
	if err != nil {
		return nil, fmt.Errorf("topic follow-up lookup: %w", err)
	}
	if next != nil {
		fmt.Fprintf(&b, "\n%s replied (%s): %q",
			next.UserName, next.CreatedOn.Format(timeLayout), next.Text)
		last = next
	}
	if err := e.store.WriteMemory(ctx, &last.SequenceID, last.Text, keyword); err != nil {
		return nil, fmt.Errorf("write memory: %w", err)
	}
	return models.TextAnswer(b.String()), nil
}

// scoredRecord pairs a search hit with its stored record.
type scoredRecord struct {
	rec   *models.MessageRecord
	score float64
}

func (e *Engine) answerSemantic(ctx context.Context, question, groupID string, imageIntent bool) (*models.Answer, error) {
	hits, err := e.searchAll(ctx, question)
	if errors.Is(err, vector.ErrEmptyIndex) {
		return models.TextAnswer("No relevant messages found."), nil
	}
	if err != nil {
		return nil, err
	}

	// The index holds every group's vectors; scoping happens here, after
	// the search, by matching the opaque group id.
	matches, err := e.resolveHits(ctx, hits, groupID)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return models.TextAnswer("No relevant messages found."), nil
	}
	if imageIntent {
		return e.assembleImages(matches), nil
	}
	return e.assembleText(ctx, question, matches)
}

// searchAll embeds the question and searches the whole corpus (k = index
// size), so the post-search group filter always has enough candidates.
func (e *Engine) searchAll(ctx context.Context, question string) ([]vector.Hit, error) {
	ix, err := e.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	query, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	hits, err := ix.Search(query, ix.Size())
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (e *Engine) loadIndex(ctx context.Context) (*vector.FlatIndex, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	if e.index != nil {
		return e.index, nil
	}
	blob, err := e.store.LoadIndexBlob(ctx)
	if err != nil {
		return nil, fmt.Errorf("load index blob: %w", err)
	}
	if blob == nil {
		return nil, vector.ErrEmptyIndex
	}
	ix, err := vector.Deserialize(blob.Data)
	if err != nil {
		return nil, fmt.Errorf("deserialize index: %w", err)
	}
	e.index = ix
	return ix, nil
}

// resolveHits fetches the records behind the hits and keeps those in groupID,
// preserving the hits' descending-score order.
func (e *Engine) resolveHits(ctx context.Context, hits []vector.Hit, groupID string) ([]scoredRecord, error) {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = int64(h.Position)
	}
	recs, err := e.store.GetBySequenceIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve search hits: %w", err)
	}
	var matches []scoredRecord
	for _, h := range hits {
		rec, ok := recs[int64(h.Position)]
		if !ok || rec.GroupID != groupID {
			continue
		}
		matches = append(matches, scoredRecord{rec: rec, score: h.Score})
	}
	return matches, nil
}

// assembleText builds a text answer: image-only records are excluded, the
// remaining hits are read in transcript order (ascending sequence id, not
// score order), and memory points at the earliest of them.
func (e *Engine) assembleText(ctx context.Context, question string, matches []scoredRecord) (*models.Answer, error) {
	var texts []*models.MessageRecord
	for _, m := range matches {
		if !m.rec.IsImage() {
			texts = append(texts, m.rec)
		}
	}
	if len(texts) == 0 {
		return models.TextAnswer("The group discussed this topic, but no textual explanation is available."), nil
	}
	sort.Slice(texts, func(i, j int) bool { return texts[i].SequenceID < texts[j].SequenceID })

	first := texts[0]
	if err := e.store.WriteMemory(ctx, &first.SequenceID, first.Text, ""); err != nil {
		return nil, fmt.Errorf("write memory: %w", err)
	}
	text, err := e.summarize(ctx, question, buildContext(texts))
	if err != nil {
		return nil, err
	}
	return models.TextAnswer(text), nil
}

// assembleImages builds the structured image answer: hits with an image URL
// scoring at or above the threshold, best first, capped. An empty list is
// still a valid structured answer.
func (e *Engine) assembleImages(matches []scoredRecord) *models.Answer {
	var images []models.ImageRef
	for _, m := range matches {
		if !m.rec.IsImage() || m.score < imageScoreThreshold {
			continue
		}
		images = append(images, models.ImageRef{
			URL:      m.rec.ImageURL,
			PostedBy: m.rec.UserName,
			Time:     m.rec.CreatedOn.Format(timeLayout),
		})
		if len(images) == maxImages {
			break
		}
	}
	if len(images) == 0 {
		return models.ImageAnswer("No relevant images were found for this query.", nil)
	}
	return models.ImageAnswer("Relevant images from the discussion:", images)
}

func (e *Engine) summarize(ctx context.Context, question, chatContext string) (string, error) {
	userPrompt := fmt.Sprintf("Chat Context:\n%s\n\nQuestion: %s", chatContext, question)
	text, err := e.llm.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return text, nil
}

// buildContext renders records as "user (time): text" lines in input order.
func buildContext(recs []*models.MessageRecord) string {
	lines := make([]string, len(recs))
	for i, rec := range recs {
		lines[i] = contextLine(rec)
	}
	return strings.Join(lines, "\n")
}

func contextLine(rec *models.MessageRecord) string {
	return fmt.Sprintf("%s (%s): %s", rec.UserName, rec.CreatedOn.Format(timeLayout), rec.Text)
}
