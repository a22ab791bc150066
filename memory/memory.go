package memory

import (
	"context"
	"errors"
	"time"
)

// MemoryType classifies a memory's content.
type MemoryType string

const (
	TypeFact       MemoryType = "fact"
	TypePreference MemoryType = "preference"
	TypeDecision   MemoryType = "decision"
	TypeEvent      MemoryType = "event"
	TypeProcedure  MemoryType = "procedure"
)

// ValidTypes holds the allowed memory types.
var ValidTypes = map[MemoryType]bool{
	TypeFact:       true,
	TypePreference: true,
	TypeDecision:   true,
	TypeEvent:      true,
	TypeProcedure:  true,
}

// AccessMode controls which agents can see a memory.
type AccessMode string

const (
	// AccessPrivate restricts the memory to its owning agent.
	AccessPrivate AccessMode = "private"

	// AccessShared makes the memory visible to every agent of the user.
	AccessShared AccessMode = "shared"
)

// SharedAgentID is the sentinel owner for memories that belong to no
// particular agent.
const SharedAgentID = "shared"

// ErrNotFound reports a lookup that matched nothing. Callers use it to
// distinguish "absent" from a backend failure.
var ErrNotFound = errors.New("memory: not found")

// Memory is a unit of semantic knowledge with a vector embedding.
//
// A memory is created by Service.Add or Service.AddBatch, mutated only by
// access bookkeeping, and removed only by explicit deletion. The embedding
// length of every stored memory equals the embedder's dimension; stores
// enforce this at write time.
type Memory struct {
	ID                   string
	UserID               string
	AgentID              string
	AccessMode           AccessMode
	Content              string
	MemoryType           MemoryType
	Embedding            []float32
	Importance           float64
	Metadata             map[string]any
	SourceConversationID string
	CreatedAt            time.Time
	AccessedAt           *time.Time
	AccessCount          int
}

// RecordAccess advances the access counter and refreshes the accessed-at
// timestamp. The two always move together.
func (m *Memory) RecordAccess(at time.Time) {
	m.AccessedAt = &at
	m.AccessCount++
}

// ScoredMemory pairs a memory with its similarity to a query vector.
type ScoredMemory struct {
	Memory     *Memory
	Similarity float64
}

// SimilarityQuery describes a similarity search against a Store.
type SimilarityQuery struct {
	UserID     string
	Visibility Visibility
	Types      []MemoryType // empty = all types
	Embedding  []float32
	Threshold  float64 // similarity domain, inclusive lower bound
	Limit      int
}

// ListQuery describes a non-ranked listing of memories.
type ListQuery struct {
	UserID     string
	Visibility Visibility
	Type       MemoryType // empty = all types
	Limit      int
	Offset     int
}

// Store is the vector storage backend interface.
// Implementations: sqlite.Store (durable), chromem.Store (in-process).
type Store interface {
	// Insert persists a new memory atomically, filling its server-generated
	// ID and creation timestamp.
	Insert(ctx context.Context, mem *Memory) error

	// InsertBatch persists all memories as a unit: either every memory is
	// stored with a generated ID, or none are.
	InsertBatch(ctx context.Context, mems []*Memory) error

	// QueryBySimilarity returns visible memories scored against the query
	// embedding, ordered by similarity descending (ties: created_at
	// descending), capped at q.Limit. The similarity metric is
	// CosineSimilarity and the threshold applies in the similarity domain.
	QueryBySimilarity(ctx context.Context, q SimilarityQuery) ([]ScoredMemory, error)

	// RecordAccess bumps the access counter and accessed-at timestamp.
	// Best-effort: lost updates under concurrency are acceptable.
	RecordAccess(ctx context.Context, id string, at time.Time) error

	// Get retrieves a memory by ID. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Memory, error)

	// List returns memories matching the query, newest first, applying the
	// same visibility gate as QueryBySimilarity.
	List(ctx context.Context, q ListQuery) ([]*Memory, error)

	// Delete removes a memory permanently. Returns ErrNotFound when absent.
	Delete(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}

// Embedder converts text to fixed-length vector embeddings.
// Implementations: hash.Embedder (deterministic fallback), ollama.Embedder
// and openai.Embedder (model-backed).
//
// An Embedder is immutable after construction; Dimensions never changes for
// the process lifetime.
type Embedder interface {
	// Embed converts a single text to an embedding vector. The empty string
	// is valid input and yields a valid vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts many texts in one backend call, amortizing
	// model-invocation overhead.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}
