package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperchat/kaiwa/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msg(group, user, text string, at time.Time) *models.MessageRecord {
	return &models.MessageRecord{
		ChatID:      fmt.Sprintf("c-%s-%d", user, at.Unix()),
		GroupID:     group,
		UserName:    user,
		CreatedOn:   at,
		Text:        text,
		MessageType: models.MessageTypeMessage,
		Embedding:   []float32{1, 0, 0},
	}
}

func TestStore_AppendAssignsMonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		id, err := s.Append(ctx, msg("101", "alice", fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatal(err)
		}
		if id != int64(i) {
			t.Errorf("Append %d returned id %d", i, id)
		}
	}
}

func TestStore_RebuildAllReassignsIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	if _, err := s.Append(ctx, msg("101", "old", "stale", base)); err != nil {
		t.Fatal(err)
	}
	recs := []*models.MessageRecord{
		msg("101", "alice", "first", base),
		msg("101", "bob", "second", base.Add(time.Minute)),
		msg("202", "carol", "other group", base.Add(2*time.Minute)),
	}
	n, err := s.RebuildAll(ctx, recs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("RebuildAll = %d, want 3", n)
	}
	for i, rec := range recs {
		if rec.SequenceID != int64(i) {
			t.Errorf("rec %d has sequence id %d", i, rec.SequenceID)
		}
	}
	got, err := s.GetBySequenceID(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.UserName != "alice" {
		t.Errorf("seq 0 = %+v, want alice", got)
	}
	if stale, _ := s.GetBySequenceID(ctx, 3); stale != nil {
		t.Errorf("stale record survived rebuild: %+v", stale)
	}
}

func TestStore_EmbeddingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := msg("101", "alice", "hello", time.Now().UTC())
	rec.Embedding = []float32{0.25, -0.5, 3.75}
	if _, err := s.Append(ctx, rec); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetBySequenceID(ctx, rec.SequenceID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Embedding) != 3 {
		t.Fatalf("embedding length = %d", len(got.Embedding))
	}
	for i, v := range rec.Embedding {
		if got.Embedding[i] != v {
			t.Errorf("embedding[%d] = %v, want %v", i, got.Embedding[i], v)
		}
	}
}

func TestStore_FirstInGroupSkipsSentinel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.RebuildAll(ctx, []*models.MessageRecord{
		msg("101", models.SentinelUser, "Users in this group: alice, bob", base),
		msg("101", "alice", "hello everyone", base.Add(time.Minute)),
		msg("101", "bob", "hi alice", base.Add(2*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	first, err := s.FirstInGroup(ctx, "101")
	if err != nil {
		t.Fatal(err)
	}
	if first == nil || first.UserName != "alice" || first.SequenceID != 1 {
		t.Errorf("FirstInGroup = %+v, want alice at seq 1", first)
	}
	missing, err := s.FirstInGroup(ctx, "999")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("empty group returned %+v", missing)
	}
}

func TestStore_FindFirstAfter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.RebuildAll(ctx, []*models.MessageRecord{
		msg("101", "alice", "m0", base),
		msg("101", "bob", "m1", base.Add(time.Minute)),
		msg("202", "carol", "m2", base.Add(2*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	next, err := s.FindFirstAfter(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	// Follow-up resolution is global: the next message may be in another group.
	if next == nil || next.SequenceID != 2 {
		t.Errorf("FindFirstAfter(1) = %+v, want seq 2", next)
	}
	none, err := s.FindFirstAfter(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("FindFirstAfter(last) = %+v, want nil", none)
	}
}

func TestStore_FindByKeyword(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.RebuildAll(ctx, []*models.MessageRecord{
		msg("101", "alice", "Let's discuss the Angiogram results", base),
		msg("101", "bob", "the angiogram looked clean", base.Add(time.Minute)),
		msg("202", "carol", "angiogram in another group", base.Add(2*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	hit, err := s.FindByKeyword(ctx, "101", "ANGIOGRAM")
	if err != nil {
		t.Fatal(err)
	}
	if hit == nil || hit.SequenceID != 0 {
		t.Errorf("FindByKeyword = %+v, want seq 0", hit)
	}
	miss, err := s.FindByKeyword(ctx, "101", "stent")
	if err != nil {
		t.Fatal(err)
	}
	if miss != nil {
		t.Errorf("unexpected keyword hit: %+v", miss)
	}
}

func TestStore_FindByDateRangeInclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lastSecond := time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)
	_, err := s.RebuildAll(ctx, []*models.MessageRecord{
		msg("101", "alice", "before range", time.Date(2023, 12, 31, 23, 59, 59, 0, time.UTC)),
		msg("101", "bob", "in range", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)),
		msg("101", "carol", "at the boundary", lastSecond),
		msg("101", "dave", "after range", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		msg("101", models.SentinelUser, "meta", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	recs, err := s.FindByDateRange(ctx, "101", start, lastSecond)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].UserName != "bob" || recs[1].UserName != "carol" {
		t.Errorf("order = %s, %s", recs[0].UserName, recs[1].UserName)
	}
}

func TestStore_ListDistinctUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.RebuildAll(ctx, []*models.MessageRecord{
		msg("101", models.SentinelUser, "meta", base),
		msg("101", "bob", "m1", base.Add(time.Minute)),
		msg("101", "alice", "m2", base.Add(2*time.Minute)),
		msg("101", "bob", "m3", base.Add(3*time.Minute)),
		msg("202", "zed", "m4", base.Add(4*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	users, err := s.ListDistinctUsers(ctx, "101")
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("users = %v", users)
	}
}

func TestStore_MemoryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mem, err := s.ReadMemory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if mem.IsSet() {
		t.Errorf("fresh memory should be unset: %+v", mem)
	}

	id := int64(7)
	if err := s.WriteMemory(ctx, &id, "some text", "first_message"); err != nil {
		t.Fatal(err)
	}
	mem, err = s.ReadMemory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !mem.IsSet() || *mem.LastMessageID != 7 || mem.LastTopic != "first_message" {
		t.Errorf("memory = %+v", mem)
	}

	// Overwrite replaces all fields; no history is kept.
	id2 := int64(9)
	if err := s.WriteMemory(ctx, &id2, "newer", ""); err != nil {
		t.Fatal(err)
	}
	mem, _ = s.ReadMemory(ctx)
	if *mem.LastMessageID != 9 || mem.LastTopic != "" {
		t.Errorf("memory after overwrite = %+v", mem)
	}
}

func TestStore_IndexBlobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	blob, err := s.LoadIndexBlob(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if blob != nil {
		t.Fatalf("expected no blob, got %+v", blob)
	}

	data := []byte{1, 2, 3, 4}
	if err := s.SaveIndexBlob(ctx, "flat-ip-v1", 384, 12, data); err != nil {
		t.Fatal(err)
	}
	blob, err = s.LoadIndexBlob(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if blob == nil || blob.FormatTag != "flat-ip-v1" || blob.Dimensions != 384 || blob.Count != 12 {
		t.Fatalf("blob = %+v", blob)
	}
	if string(blob.Data) != string(data) {
		t.Errorf("blob data = %v", blob.Data)
	}

	// Saving again replaces the single slot.
	if err := s.SaveIndexBlob(ctx, "flat-ip-v1", 384, 20, []byte{9}); err != nil {
		t.Fatal(err)
	}
	blob, _ = s.LoadIndexBlob(ctx)
	if blob.Count != 20 || len(blob.Data) != 1 {
		t.Errorf("blob after replace = %+v", blob)
	}
}

func TestStore_GetBySequenceIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.RebuildAll(ctx, []*models.MessageRecord{
		msg("101", "alice", "m0", base),
		msg("101", "bob", "m1", base.Add(time.Minute)),
		msg("101", "carol", "m2", base.Add(2*time.Minute)),
	})
	if err != nil {
		t.Fatal(err)
	}
	recs, err := s.GetBySequenceIDs(ctx, []int64{0, 2, 99})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Errorf("got %d records, want 2", len(recs))
	}
	if recs[0] == nil || recs[0].UserName != "alice" {
		t.Errorf("recs[0] = %+v", recs[0])
	}
	if _, ok := recs[99]; ok {
		t.Error("missing id should be absent from map")
	}
}
