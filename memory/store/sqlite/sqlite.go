// Package sqlite provides the durable storage backend: the vector memory
// store and the relational tables behind the online tier (personas, NOTAMs,
// sessions), all in one embedded database.
//
// SQLite has no native vector type, so embeddings are stored as
// little-endian float32 blobs. Candidate rows are filtered by user,
// visibility, and type in SQL and scored in Go with the same cosine metric
// the rest of the system uses; the threshold applies in the similarity
// domain, never the distance domain.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sentrahq/memory-go-sdk/memory"
)

// Store implements memory.Store and memory.ContextStore over SQLite.
type Store struct {
	db   *sql.DB
	dims int
}

// Open creates or opens the database at path. Every stored embedding must
// have exactly dims entries; inserts that violate this are rejected, which
// keeps the dimension-consistency invariant a write-time guarantee.
func Open(path string, dims int) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("sqlite store: dimensions must be positive, got %d", dims)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Single writer; avoids lock contention between goroutines.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dims: dims}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dimensions returns the configured embedding size.
func (s *Store) Dimensions() int {
	return s.dims
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id                     TEXT PRIMARY KEY,
		user_id                TEXT NOT NULL,
		agent_id               TEXT NOT NULL DEFAULT 'shared',
		access_mode            TEXT NOT NULL DEFAULT 'private',
		content                TEXT NOT NULL,
		memory_type            TEXT NOT NULL,
		embedding              BLOB NOT NULL,
		importance             REAL NOT NULL DEFAULT 0.5,
		metadata               TEXT NOT NULL DEFAULT '{}',
		source_conversation_id TEXT,
		created_at             TEXT NOT NULL,
		accessed_at            TEXT,
		access_count           INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
	CREATE INDEX IF NOT EXISTS idx_memories_user_agent ON memories(user_id, agent_id);
	CREATE INDEX IF NOT EXISTS idx_memories_user_type ON memories(user_id, memory_type);

	CREATE TABLE IF NOT EXISTS personas (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL DEFAULT '',
		traits      TEXT NOT NULL DEFAULT '{}',
		preferences TEXT NOT NULL DEFAULT '{}',
		style       TEXT NOT NULL DEFAULT '{}',
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notams (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		title      TEXT NOT NULL,
		content    TEXT NOT NULL,
		priority   TEXT NOT NULL DEFAULT 'normal',
		category   TEXT NOT NULL DEFAULT '',
		active     INTEGER NOT NULL DEFAULT 1,
		expires_at TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notams_user ON notams(user_id, active);

	CREATE TABLE IF NOT EXISTS sessions (
		id                    TEXT PRIMARY KEY,
		user_id               TEXT NOT NULL,
		agent_type            TEXT NOT NULL DEFAULT '',
		agent_name            TEXT NOT NULL DEFAULT '',
		last_query            TEXT NOT NULL DEFAULT '',
		last_response_summary TEXT NOT NULL DEFAULT '',
		context               TEXT NOT NULL DEFAULT '{}',
		created_at            TEXT NOT NULL,
		updated_at            TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, agent_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- vector codec ---

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("corrupt embedding blob: %d bytes", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec, nil
}

// --- time codec ---

// timeLayout is fixed-width: RFC3339Nano trims trailing zeros, which breaks
// the SQL string comparisons (`expires_at > ?`, `ORDER BY created_at`) for
// timestamps within the same second. With a fixed fraction width,
// lexicographic order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- memory.Store implementation ---

func (s *Store) checkDims(vec []float32) error {
	if len(vec) != s.dims {
		return fmt.Errorf("embedding has %d dimensions, store expects %d", len(vec), s.dims)
	}
	return nil
}

const memoryColumns = `id, user_id, agent_id, access_mode, content, memory_type, embedding,
	importance, metadata, source_conversation_id, created_at, accessed_at, access_count`

func (s *Store) insertOne(ctx context.Context, q interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, mem *memory.Memory) error {
	if err := s.checkDims(mem.Embedding); err != nil {
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

	metadata, err := json.Marshal(mem.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 0)`,
		mem.ID, mem.UserID, mem.AgentID, string(mem.AccessMode), mem.Content,
		string(mem.MemoryType), encodeVector(mem.Embedding), mem.Importance,
		string(metadata), nullableString(mem.SourceConversationID), formatTime(mem.CreatedAt),
	)
	return err
}

// Insert persists a single memory atomically.
func (s *Store) Insert(ctx context.Context, mem *memory.Memory) error {
	return s.insertOne(ctx, s.db, mem)
}

// InsertBatch persists all memories in one transaction: all rows commit or
// none do.
func (s *Store) InsertBatch(ctx context.Context, mems []*memory.Memory) error {
	if len(mems) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for i, mem := range mems {
		if err := s.insertOne(ctx, tx, mem); err != nil {
			return fmt.Errorf("batch insert #%d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

func visibilityClause(v memory.Visibility) (string, []any) {
	if !v.Restricted() {
		return "", nil
	}
	if v.IncludeShared {
		return " AND (agent_id = ? OR access_mode = 'shared')", []any{v.AgentID}
	}
	return " AND agent_id = ?", []any{v.AgentID}
}

// QueryBySimilarity scans the visible candidate rows and scores them in Go
// against the query embedding. Results are ordered by similarity descending;
// equal scores fall back to creation time descending so ordering stays
// deterministic.
func (s *Store) QueryBySimilarity(ctx context.Context, q memory.SimilarityQuery) ([]memory.ScoredMemory, error) {
	if err := s.checkDims(q.Embedding); err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ?`
	args := []any{q.UserID}

	clause, clauseArgs := visibilityClause(q.Visibility)
	query += clause
	args = append(args, clauseArgs...)

	if len(q.Types) > 0 {
		query += ` AND memory_type IN (?` + strings.Repeat(",?", len(q.Types)-1) + `)`
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scored []memory.ScoredMemory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		sim := memory.CosineSimilarity(q.Embedding, mem.Embedding)
		if sim >= q.Threshold {
			scored = append(scored, memory.ScoredMemory{Memory: mem, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

// RecordAccess bumps the access counter and accessed-at timestamp together.
func (s *Store) RecordAccess(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE memories SET accessed_at = ?, access_count = access_count + 1 WHERE id = ?`,
		formatTime(at), id)
	return err
}

// Get retrieves a memory by ID.
func (s *Store) Get(ctx context.Context, id string) (*memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, memory.ErrNotFound
	}
	return scanMemory(rows)
}

// List returns visible memories newest first.
func (s *Store) List(ctx context.Context, q memory.ListQuery) ([]*memory.Memory, error) {
	query := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ?`
	args := []any{q.UserID}

	clause, clauseArgs := visibilityClause(q.Visibility)
	query += clause
	args = append(args, clauseArgs...)

	if q.Type != "" {
		query += ` AND memory_type = ?`
		args = append(args, string(q.Type))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mems []*memory.Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		mems = append(mems, mem)
	}
	return mems, rows.Err()
}

// Delete removes a memory permanently.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	log.Printf("[SQLITE] Deleted memory %s", id)
	return nil
}

func scanMemory(rows *sql.Rows) (*memory.Memory, error) {
	var (
		mem        memory.Memory
		accessMode string
		memoryType string
		embedding  []byte
		metadata   string
		sourceConv sql.NullString
		createdAt  string
		accessedAt sql.NullString
	)
	if err := rows.Scan(&mem.ID, &mem.UserID, &mem.AgentID, &accessMode, &mem.Content,
		&memoryType, &embedding, &mem.Importance, &metadata, &sourceConv,
		&createdAt, &accessedAt, &mem.AccessCount); err != nil {
		return nil, err
	}

	vec, err := decodeVector(embedding)
	if err != nil {
		return nil, err
	}
	mem.Embedding = vec
	mem.AccessMode = memory.AccessMode(accessMode)
	mem.MemoryType = memory.MemoryType(memoryType)
	mem.SourceConversationID = sourceConv.String
	if mem.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if mem.AccessedAt, err = parseNullableTime(accessedAt); err != nil {
		return nil, err
	}

	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &mem.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", mem.ID, err)
		}
	}
	return &mem, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
