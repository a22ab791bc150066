package memory

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Config holds Service configuration.
type Config struct {
	// DefaultLimit is the result cap applied when a search request leaves
	// Limit unset. Requests are clamped to [1, MaxLimit].
	DefaultLimit int

	// MaxLimit is the hard result cap.
	MaxLimit int

	// DefaultThreshold is the minimum similarity applied when a search
	// request leaves Threshold nil. An explicit 0.0 disables the cutoff.
	DefaultThreshold float64

	// DefaultImportance is assigned to added memories that leave
	// Importance nil.
	DefaultImportance float64
}

// DefaultConfig returns the stock service configuration.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:      5,
		MaxLimit:          20,
		DefaultThreshold:  0.3,
		DefaultImportance: 0.5,
	}
}

// Service is the on-demand tier search engine. It embeds queries and
// contents, applies the visibility gate, invokes the Store, and performs
// access bookkeeping on returned results.
//
// A Service holds no cross-request mutable state; one instance serves any
// number of concurrent operations.
type Service struct {
	store    Store
	embedder Embedder
	config   Config
}

// NewService creates a Service over the given store and embedder. Zero
// config fields fall back to their DefaultConfig values independently, so a
// partially populated Config keeps the fields it does set.
func NewService(store Store, embedder Embedder, config Config) *Service {
	defaults := DefaultConfig()
	if config.DefaultLimit == 0 {
		config.DefaultLimit = defaults.DefaultLimit
	}
	if config.MaxLimit == 0 {
		config.MaxLimit = defaults.MaxLimit
	}
	if config.DefaultThreshold == 0 {
		config.DefaultThreshold = defaults.DefaultThreshold
	}
	if config.DefaultImportance == 0 {
		config.DefaultImportance = defaults.DefaultImportance
	}
	return &Service{store: store, embedder: embedder, config: config}
}

// SearchRequest describes a semantic search.
type SearchRequest struct {
	UserID  string
	Query   string
	AgentID string       // empty = admin mode, no isolation
	Types   []MemoryType // empty = all types

	// Limit caps the result count. 0 means the configured default; values
	// outside [1, MaxLimit] are clamped.
	Limit int

	// Threshold is the minimum similarity. Nil means the configured
	// default; an explicit 0.0 admits every visible memory.
	Threshold *float64

	// IncludeShared admits shared memories of other agents when AgentID is
	// set. Nil means the default, true; an explicit false restricts the
	// search to the agent's own memories. Ignored in admin mode.
	IncludeShared *bool
}

// SearchResult is a ranked search hit.
type SearchResult struct {
	Memory     *Memory
	Similarity float64
}

// Search embeds the query, retrieves visible memories above the threshold
// ordered by similarity descending, and records an access against every hit.
// The returned duration is the wall-clock time of the whole operation.
//
// Bookkeeping failures are logged and swallowed; they never abort the search
// or surface to the caller.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchResult, time.Duration, error) {
	start := time.Now()

	limit := req.Limit
	if limit == 0 {
		limit = s.config.DefaultLimit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > s.config.MaxLimit {
		limit = s.config.MaxLimit
	}

	threshold := s.config.DefaultThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	embedding, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, 0, fmt.Errorf("embed query: %w", err)
	}

	scored, err := s.store.QueryBySimilarity(ctx, SimilarityQuery{
		UserID:     req.UserID,
		Visibility: ForAgent(req.AgentID, includeShared(req.IncludeShared)),
		Types:      req.Types,
		Embedding:  embedding,
		Threshold:  threshold,
		Limit:      limit,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("query store: %w", err)
	}

	now := time.Now().UTC()
	results := make([]SearchResult, 0, len(scored))
	for _, sm := range scored {
		results = append(results, SearchResult{Memory: sm.Memory, Similarity: sm.Similarity})
		if err := s.store.RecordAccess(ctx, sm.Memory.ID, now); err != nil {
			log.Printf("[MEMORY] Failed to record access for %s: %v", sm.Memory.ID, err)
		}
	}

	took := time.Since(start)
	log.Printf("[MEMORY] Search for user %s returned %d results in %s", req.UserID, len(results), took)
	return results, took, nil
}

// AddRequest describes a memory to store.
type AddRequest struct {
	UserID               string
	Content              string
	MemoryType           MemoryType
	AgentID              string     // empty = SharedAgentID
	AccessMode           AccessMode // empty = AccessPrivate
	Importance           *float64   // nil = configured default
	Metadata             map[string]any
	SourceConversationID string
}

func (s *Service) buildMemory(req AddRequest, embedding []float32) *Memory {
	agentID := req.AgentID
	if agentID == "" {
		agentID = SharedAgentID
	}
	mode := req.AccessMode
	if mode == "" {
		mode = AccessPrivate
	}
	importance := s.config.DefaultImportance
	if req.Importance != nil {
		importance = *req.Importance
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Memory{
		UserID:               req.UserID,
		AgentID:              agentID,
		AccessMode:           mode,
		Content:              req.Content,
		MemoryType:           req.MemoryType,
		Embedding:            embedding,
		Importance:           importance,
		Metadata:             metadata,
		SourceConversationID: req.SourceConversationID,
	}
}

// Add embeds the content synchronously and persists the memory in a single
// atomic insert. The returned memory carries the server-generated ID and
// timestamps; on failure no partial record exists.
func (s *Service) Add(ctx context.Context, req AddRequest) (*Memory, error) {
	embedding, err := s.embedder.Embed(ctx, req.Content)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	mem := s.buildMemory(req, embedding)
	if err := s.store.Insert(ctx, mem); err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}

	log.Printf("[MEMORY] Added memory %s for user %s, agent %s, mode %s",
		mem.ID, mem.UserID, mem.AgentID, mem.AccessMode)
	return mem, nil
}

// AddBatch embeds all contents in one batched embedder call and persists the
// rows as a unit: either every memory is stored or none are. An empty input
// returns an empty result without touching the embedder or the store.
func (s *Service) AddBatch(ctx context.Context, userID string, reqs []AddRequest) ([]*Memory, error) {
	if len(reqs) == 0 {
		return []*Memory{}, nil
	}

	start := time.Now()

	contents := make([]string, len(reqs))
	for i, r := range reqs {
		contents[i] = r.Content
	}
	embeddings, err := s.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(embeddings) != len(reqs) {
		return nil, fmt.Errorf("embed batch: got %d embeddings for %d texts", len(embeddings), len(reqs))
	}

	mems := make([]*Memory, len(reqs))
	for i, r := range reqs {
		r.UserID = userID
		mems[i] = s.buildMemory(r, embeddings[i])
	}

	if err := s.store.InsertBatch(ctx, mems); err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}

	log.Printf("[MEMORY] Batch added %d memories for user %s in %s", len(mems), userID, time.Since(start))
	return mems, nil
}

// ListRequest describes a non-ranked memory listing.
type ListRequest struct {
	UserID  string
	AgentID string // empty = admin mode
	Type    MemoryType

	// IncludeShared follows the same rule as SearchRequest.IncludeShared:
	// nil defaults to true.
	IncludeShared *bool

	Limit  int
	Offset int
}

// includeShared resolves the tri-state flag; unset means shared memories are
// visible.
func includeShared(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}

// Get retrieves a memory by ID and records the access. Returns ErrNotFound
// when absent; bookkeeping failures are logged and swallowed.
func (s *Service) Get(ctx context.Context, id string) (*Memory, error) {
	mem, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := s.store.RecordAccess(ctx, id, now); err != nil {
		log.Printf("[MEMORY] Failed to record access for %s: %v", id, err)
	} else {
		mem.RecordAccess(now)
	}
	return mem, nil
}

// Delete removes a memory permanently. Returns ErrNotFound when absent.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// List returns memories newest first under the same visibility gate as
// Search. Listing performs no access bookkeeping.
func (s *Service) List(ctx context.Context, req ListRequest) ([]*Memory, error) {
	limit := req.Limit
	if limit == 0 {
		limit = s.config.MaxLimit
	}
	return s.store.List(ctx, ListQuery{
		UserID:     req.UserID,
		Visibility: ForAgent(req.AgentID, includeShared(req.IncludeShared)),
		Type:       req.Type,
		Limit:      limit,
		Offset:     req.Offset,
	})
}
