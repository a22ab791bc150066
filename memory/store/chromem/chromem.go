// Package chromem provides an in-process vector Store backed by chromem-go,
// an embedded pure-Go vector database.
//
// The backend is ephemeral: it suits local development and tests, while
// sqlite.Store is the durable backend. chromem documents are immutable, so
// access bookkeeping is tracked in process and overlaid on query results;
// counters reset with the process, which is acceptable for the best-effort
// bookkeeping contract.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/google/uuid"

	"github.com/sentrahq/memory-go-sdk/memory"
)

// Store implements memory.Store over chromem-go. Each user gets their own
// collection for namespace isolation.
type Store struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	owners      map[string]string // memory ID -> user ID
	counts      map[string]int    // documents per user collection

	accessMu sync.Mutex
	accesses map[string]accessState
}

type accessState struct {
	count int
	at    time.Time
}

// New creates an empty in-process store.
func New() (*Store, error) {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		owners:      make(map[string]string),
		counts:      make(map[string]int),
		accesses:    make(map[string]accessState),
	}, nil
}

var _ memory.Store = (*Store)(nil)

func (s *Store) collection(userID string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, ok := s.collections[userID]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[userID]; ok {
		return col, nil
	}

	// Embeddings are always supplied by the caller, so the collection gets
	// no embedding func; the default distance is cosine, matching
	// memory.CosineSimilarity.
	col, err := s.db.CreateCollection("user_"+userID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[userID] = col
	return col, nil
}

// Insert adds a memory to the user's collection, filling its generated ID
// and creation timestamp.
func (s *Store) Insert(ctx context.Context, mem *memory.Memory) error {
	col, err := s.collection(mem.UserID)
	if err != nil {
		return err
	}

	if mem.AgentID == "" {
		mem.AgentID = memory.SharedAgentID
	}
	if mem.AccessMode == "" {
		mem.AccessMode = memory.AccessPrivate
	}
	mem.ID = uuid.New().String()
	mem.CreatedAt = time.Now().UTC()

	doc, err := toDocument(mem)
	if err != nil {
		return err
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.mu.Lock()
	s.owners[mem.ID] = mem.UserID
	s.counts[mem.UserID]++
	s.mu.Unlock()

	log.Printf("[CHROMEM] Stored memory %s for user %s, agent %s", mem.ID, mem.UserID, mem.AgentID)
	return nil
}

// InsertBatch adds all memories as a unit. chromem has no transactions, so
// a mid-batch failure is compensated by deleting the documents already
// added, leaving no partial batch behind.
func (s *Store) InsertBatch(ctx context.Context, mems []*memory.Memory) error {
	if len(mems) == 0 {
		return nil
	}
	inserted := make([]*memory.Memory, 0, len(mems))
	for i, mem := range mems {
		if err := s.Insert(ctx, mem); err != nil {
			s.rollback(ctx, inserted)
			return fmt.Errorf("batch insert #%d: %w", i+1, err)
		}
		inserted = append(inserted, mem)
	}
	return nil
}

func (s *Store) rollback(ctx context.Context, inserted []*memory.Memory) {
	for _, mem := range inserted {
		if err := s.Delete(ctx, mem.ID); err != nil {
			log.Printf("[CHROMEM] Failed to roll back memory %s: %v", mem.ID, err)
		}
		mem.ID = ""
	}
}

// QueryBySimilarity scores the user's memories against the query embedding.
// chromem filters support only exact metadata matches, so the visibility
// predicate (an OR between own and shared memories) and the type filter are
// applied in Go after retrieval.
func (s *Store) QueryBySimilarity(ctx context.Context, q memory.SimilarityQuery) ([]memory.ScoredMemory, error) {
	col, err := s.collection(q.UserID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	total := s.counts[q.UserID]
	s.mu.RUnlock()
	if total == 0 {
		return nil, nil
	}

	// Fetch every candidate: post-filtering would otherwise starve the
	// limit when the nearest neighbors are invisible to the caller.
	results, err := col.QueryEmbedding(ctx, q.Embedding, total, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	types := make(map[memory.MemoryType]bool, len(q.Types))
	for _, t := range q.Types {
		types[t] = true
	}

	var scored []memory.ScoredMemory
	for _, res := range results {
		mem, err := fromResult(q.UserID, res)
		if err != nil {
			log.Printf("[CHROMEM] Skipping result %s: %v", res.ID, err)
			continue
		}
		if !q.Visibility.Allows(mem) {
			continue
		}
		if len(types) > 0 && !types[mem.MemoryType] {
			continue
		}
		sim := float64(res.Similarity)
		if sim < q.Threshold {
			continue
		}
		s.applyAccess(mem)
		scored = append(scored, memory.ScoredMemory{Memory: mem, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Memory.CreatedAt.After(scored[j].Memory.CreatedAt)
	})
	if q.Limit > 0 && len(scored) > q.Limit {
		scored = scored[:q.Limit]
	}
	return scored, nil
}

// RecordAccess tracks the access in process; chromem documents themselves
// are immutable.
func (s *Store) RecordAccess(ctx context.Context, id string, at time.Time) error {
	s.accessMu.Lock()
	defer s.accessMu.Unlock()
	state := s.accesses[id]
	state.count++
	state.at = at
	s.accesses[id] = state
	return nil
}

func (s *Store) applyAccess(mem *memory.Memory) {
	s.accessMu.Lock()
	defer s.accessMu.Unlock()
	if state, ok := s.accesses[mem.ID]; ok {
		mem.AccessCount = state.count
		at := state.at
		mem.AccessedAt = &at
	}
}

// Get is not supported: chromem has no lookup by ID without a query vector.
// Use the sqlite backend when point reads are needed.
func (s *Store) Get(ctx context.Context, id string) (*memory.Memory, error) {
	return nil, fmt.Errorf("chromem store: Get not supported")
}

// List is not supported: chromem only retrieves by similarity. Use the
// sqlite backend for listings.
func (s *Store) List(ctx context.Context, q memory.ListQuery) ([]*memory.Memory, error) {
	return nil, fmt.Errorf("chromem store: List not supported")
}

// Delete removes a memory from its user's collection.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.owners[id]
	if !ok {
		return memory.ErrNotFound
	}
	col := s.collections[userID]
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("chromem delete: %w", err)
	}
	delete(s.owners, id)
	s.counts[userID]--
	return nil
}

// Close releases resources. Everything lives in memory; nothing to do.
func (s *Store) Close() error {
	return nil
}

// --- codec ---

func toDocument(mem *memory.Memory) (chromem.Document, error) {
	metadata, err := json.Marshal(mem.Metadata)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return chromem.Document{
		ID:        mem.ID,
		Content:   mem.Content,
		Embedding: mem.Embedding,
		Metadata: map[string]string{
			"agent_id":               mem.AgentID,
			"access_mode":            string(mem.AccessMode),
			"memory_type":            string(mem.MemoryType),
			"importance":             strconv.FormatFloat(mem.Importance, 'g', -1, 64),
			"metadata":               string(metadata),
			"source_conversation_id": mem.SourceConversationID,
			"created_at":             mem.CreatedAt.Format(time.RFC3339Nano),
		},
	}, nil
}

func fromResult(userID string, res chromem.Result) (*memory.Memory, error) {
	importance, _ := strconv.ParseFloat(res.Metadata["importance"], 64)
	createdAt, err := time.Parse(time.RFC3339Nano, res.Metadata["created_at"])
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	var metadata map[string]any
	if raw := res.Metadata["metadata"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &memory.Memory{
		ID:                   res.ID,
		UserID:               userID,
		AgentID:              res.Metadata["agent_id"],
		AccessMode:           memory.AccessMode(res.Metadata["access_mode"]),
		Content:              res.Content,
		MemoryType:           memory.MemoryType(res.Metadata["memory_type"]),
		Embedding:            res.Embedding,
		Importance:           importance,
		Metadata:             metadata,
		SourceConversationID: res.Metadata["source_conversation_id"],
		CreatedAt:            createdAt,
	}, nil
}
