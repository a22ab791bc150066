package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentrahq/memory-go-sdk/memory"
	"github.com/sentrahq/memory-go-sdk/memory/embedder/hash"
	"github.com/sentrahq/memory-go-sdk/memory/store/sqlite"
)

const testDims = 48

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "memory.db"), testDims)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func embedText(t *testing.T, text string) []float32 {
	t.Helper()
	vec, err := hash.New(testDims).Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("embed %q: %v", text, err)
	}
	return vec
}

func addMemory(t *testing.T, store *sqlite.Store, userID, agentID string, mode memory.AccessMode, memType memory.MemoryType, content string) *memory.Memory {
	t.Helper()
	mem := &memory.Memory{
		UserID:     userID,
		AgentID:    agentID,
		AccessMode: mode,
		Content:    content,
		MemoryType: memType,
		Embedding:  embedText(t, content),
		Importance: 0.5,
	}
	if err := store.Insert(context.Background(), mem); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return mem
}

func TestInsertAndQuery_IdenticalTextScoresOne(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	added := addMemory(t, store, "u1", "cli", memory.AccessPrivate, memory.TypePreference,
		"User prefers dark mode")
	if added.ID == "" || added.CreatedAt.IsZero() {
		t.Fatal("insert must fill ID and creation timestamp")
	}

	scored, err := store.QueryBySimilarity(ctx, memory.SimilarityQuery{
		UserID:    "u1",
		Embedding: embedText(t, "User prefers dark mode"),
		Threshold: 0,
		Limit:     5,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(scored) != 1 {
		t.Fatalf("got %d results, want 1", len(scored))
	}
	if scored[0].Similarity < 0.9999 {
		t.Errorf("identical text similarity = %v, want 1.0", scored[0].Similarity)
	}
	if scored[0].Memory.ID != added.ID {
		t.Errorf("result ID = %s, want %s", scored[0].Memory.ID, added.ID)
	}
}

func TestQuery_AgentIsolation(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	privA := addMemory(t, store, "u1", "agent-a", memory.AccessPrivate, memory.TypeFact, "private to a")
	addMemory(t, store, "u1", "agent-b", memory.AccessPrivate, memory.TypeFact, "private to b")
	sharedC := addMemory(t, store, "u1", "agent-c", memory.AccessShared, memory.TypeFact, "shared by c")

	query := func(v memory.Visibility) map[string]bool {
		scored, err := store.QueryBySimilarity(ctx, memory.SimilarityQuery{
			UserID:     "u1",
			Visibility: v,
			Embedding:  embedText(t, "anything"),
			Threshold:  -1, // admit every visible memory regardless of score
			Limit:      10,
		})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		ids := make(map[string]bool, len(scored))
		for _, s := range scored {
			ids[s.Memory.ID] = true
		}
		return ids
	}

	if ids := query(memory.Unrestricted()); len(ids) != 3 {
		t.Errorf("admin mode sees %d memories, want 3", len(ids))
	}
	if ids := query(memory.ForAgent("agent-a", true)); len(ids) != 2 || !ids[privA.ID] || !ids[sharedC.ID] {
		t.Errorf("agent-a with shared sees %v, want own + shared", ids)
	}
	if ids := query(memory.ForAgent("agent-a", false)); len(ids) != 1 || !ids[privA.ID] {
		t.Errorf("agent-a without shared sees %v, want own only", ids)
	}
	if ids := query(memory.ForAgent("other", false)); len(ids) != 0 {
		t.Errorf("foreign agent without shared sees %v, want nothing", ids)
	}
}

func TestQuery_ThresholdAndTypeFilter(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	match := addMemory(t, store, "u1", "cli", memory.AccessPrivate, memory.TypePreference, "dark mode")
	addMemory(t, store, "u1", "cli", memory.AccessPrivate, memory.TypeEvent, "unrelated event text")

	// High threshold: only the exact match survives.
	scored, err := store.QueryBySimilarity(ctx, memory.SimilarityQuery{
		UserID:    "u1",
		Embedding: embedText(t, "dark mode"),
		Threshold: 0.99,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(scored) != 1 || scored[0].Memory.ID != match.ID {
		t.Fatalf("threshold query returned %d results, want the exact match only", len(scored))
	}

	// Type filter excludes the matching preference.
	scored, err = store.QueryBySimilarity(ctx, memory.SimilarityQuery{
		UserID:    "u1",
		Types:     []memory.MemoryType{memory.TypeEvent},
		Embedding: embedText(t, "dark mode"),
		Threshold: -1,
		Limit:     10,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, s := range scored {
		if s.Memory.MemoryType != memory.TypeEvent {
			t.Errorf("type filter leaked %s", s.Memory.MemoryType)
		}
	}
}

func TestQuery_OrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	for _, content := range []string{"alpha", "beta", "gamma", "delta"} {
		addMemory(t, store, "u1", "cli", memory.AccessPrivate, memory.TypeFact, content)
	}

	scored, err := store.QueryBySimilarity(ctx, memory.SimilarityQuery{
		UserID:    "u1",
		Embedding: embedText(t, "beta"),
		Threshold: -1,
		Limit:     2,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(scored) != 2 {
		t.Fatalf("got %d results, want limit 2", len(scored))
	}
	if scored[0].Memory.Content != "beta" {
		t.Errorf("top result = %q, want the exact match first", scored[0].Memory.Content)
	}
	if scored[0].Similarity < scored[1].Similarity {
		t.Error("results must be ordered by similarity descending")
	}
}

func TestRecordAccess(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	mem := addMemory(t, store, "u1", "cli", memory.AccessPrivate, memory.TypeFact, "fact")
	if mem.AccessCount != 0 {
		t.Fatalf("fresh memory access count = %d, want 0", mem.AccessCount)
	}

	now := time.Now().UTC()
	if err := store.RecordAccess(ctx, mem.ID, now); err != nil {
		t.Fatalf("record access: %v", err)
	}
	if err := store.RecordAccess(ctx, mem.ID, now.Add(time.Second)); err != nil {
		t.Fatalf("record access: %v", err)
	}

	got, err := store.Get(ctx, mem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessCount != 2 {
		t.Errorf("access count = %d, want 2", got.AccessCount)
	}
	if got.AccessedAt == nil || !got.AccessedAt.Equal(now.Add(time.Second)) {
		t.Errorf("accessed-at = %v, want the latest access time", got.AccessedAt)
	}
}

func TestInsertBatch_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	good := &memory.Memory{
		UserID: "u1", Content: "good", MemoryType: memory.TypeFact,
		Embedding: embedText(t, "good"),
	}
	// Wrong dimension: rejected by the write-time guard.
	bad := &memory.Memory{
		UserID: "u1", Content: "bad", MemoryType: memory.TypeFact,
		Embedding: make([]float32, testDims+1),
	}

	if err := store.InsertBatch(ctx, []*memory.Memory{good, bad}); err == nil {
		t.Fatal("expected batch to fail on the dimension guard")
	}

	mems, err := store.List(ctx, memory.ListQuery{UserID: "u1", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mems) != 0 {
		t.Fatalf("failed batch left %d rows behind, want 0", len(mems))
	}

	// A clean batch commits both with distinct IDs.
	first := &memory.Memory{UserID: "u1", Content: "one", MemoryType: memory.TypeFact, Embedding: embedText(t, "one")}
	second := &memory.Memory{UserID: "u1", Content: "two", MemoryType: memory.TypeFact, Embedding: embedText(t, "two")}
	if err := store.InsertBatch(ctx, []*memory.Memory{first, second}); err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	if first.ID == "" || second.ID == "" || first.ID == second.ID {
		t.Errorf("batch IDs = %q, %q, want distinct generated IDs", first.ID, second.ID)
	}
}

func TestInsert_RejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	err := store.Insert(ctx, &memory.Memory{
		UserID: "u1", Content: "c", MemoryType: memory.TypeFact,
		Embedding: make([]float32, testDims-1),
	})
	if err == nil {
		t.Fatal("expected the dimension guard to reject the insert")
	}
}

func TestList_VisibilityAndOrder(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	addMemory(t, store, "u1", "agent-a", memory.AccessPrivate, memory.TypeFact, "a1")
	addMemory(t, store, "u1", "agent-b", memory.AccessShared, memory.TypeFact, "b1")
	addMemory(t, store, "u2", "agent-a", memory.AccessPrivate, memory.TypeFact, "other user")

	mems, err := store.List(ctx, memory.ListQuery{
		UserID:     "u1",
		Visibility: memory.ForAgent("agent-a", true),
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mems) != 2 {
		t.Fatalf("got %d memories, want 2", len(mems))
	}
	for _, m := range mems {
		if m.UserID != "u1" {
			t.Errorf("listing leaked a row of user %s", m.UserID)
		}
	}
}

func TestGetAndDelete_NotFound(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("get missing = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("delete missing = %v, want ErrNotFound", err)
	}

	mem := addMemory(t, store, "u1", "cli", memory.AccessPrivate, memory.TypeFact, "f")
	if err := store.Delete(ctx, mem.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, mem.ID); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("get after delete = %v, want ErrNotFound", err)
	}
}

func TestGet_CorruptTimestampSurfacesError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := sqlite.Open(path, testDims)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	mem := addMemory(t, store, "u1", "cli", memory.AccessPrivate, memory.TypeFact, "f")

	// Damage the row through a second handle on the same file.
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw handle: %v", err)
	}
	defer raw.Close()
	if _, err := raw.ExecContext(ctx, `UPDATE memories SET created_at = 'yesterday-ish' WHERE id = ?`, mem.ID); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	if _, err := store.Get(ctx, mem.ID); err == nil {
		t.Fatal("a corrupt timestamp must surface as an error, not a zero time")
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	mem := &memory.Memory{
		UserID:     "u1",
		Content:    "with metadata",
		MemoryType: memory.TypeDecision,
		Embedding:  embedText(t, "with metadata"),
		Metadata:   map[string]any{"source": "unit", "confidence": 0.9},
	}
	if err := store.Insert(ctx, mem); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.Get(ctx, mem.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metadata["source"] != "unit" {
		t.Errorf("metadata source = %v, want unit", got.Metadata["source"])
	}
	if got.Metadata["confidence"] != 0.9 {
		t.Errorf("metadata confidence = %v, want 0.9", got.Metadata["confidence"])
	}
}
