package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/sentrahq/memory-go-sdk/memory"
)

// notamRankExpr orders NOTAMs by explicit priority precedence rather than
// by the priority string itself.
const notamRankExpr = `CASE priority
	WHEN 'critical' THEN 0
	WHEN 'high' THEN 1
	WHEN 'normal' THEN 2
	WHEN 'low' THEN 3
	WHEN 'info' THEN 4
	ELSE 5 END`

// --- personas ---

// CreatePersona stores a new persona. At most one exists per user; a second
// create for the same user fails on the unique constraint.
func (s *Store) CreatePersona(ctx context.Context, p *memory.Persona) error {
	p.ID = uuid.New().String()
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	traits, preferences, style, err := marshalPersonaMaps(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO personas (id, user_id, name, traits, preferences, style, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, traits, preferences, style, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("create persona: %w", err)
	}
	log.Printf("[SQLITE] Created persona for user %s", p.UserID)
	return nil
}

// GetPersona returns the user's persona, or memory.ErrNotFound.
func (s *Store) GetPersona(ctx context.Context, userID string) (*memory.Persona, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, traits, preferences, style, created_at, updated_at
		FROM personas WHERE user_id = ?`, userID)
	return scanPersona(row)
}

// UpdatePersona applies a partial update. Map fields merge key-wise into the
// stored maps; the merge is shallow, so nested values under a colliding key
// are replaced wholesale.
func (s *Store) UpdatePersona(ctx context.Context, userID string, update memory.PersonaUpdate) (*memory.Persona, error) {
	p, err := s.GetPersona(ctx, userID)
	if err != nil {
		return nil, err
	}

	update.Apply(p)
	p.UpdatedAt = time.Now().UTC()

	traits, preferences, style, err := marshalPersonaMaps(p)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE personas SET name = ?, traits = ?, preferences = ?, style = ?, updated_at = ?
		WHERE user_id = ?`,
		p.Name, traits, preferences, style, formatTime(p.UpdatedAt), userID)
	if err != nil {
		return nil, fmt.Errorf("update persona: %w", err)
	}
	return p, nil
}

func marshalPersonaMaps(p *memory.Persona) (string, string, string, error) {
	traits, err := marshalMap(p.Traits)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal traits: %w", err)
	}
	preferences, err := marshalMap(p.Preferences)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal preferences: %w", err)
	}
	style, err := marshalMap(p.Style)
	if err != nil {
		return "", "", "", fmt.Errorf("marshal style: %w", err)
	}
	return traits, preferences, style, nil
}

func scanPersona(row *sql.Row) (*memory.Persona, error) {
	var (
		p                          memory.Persona
		traits, preferences, style string
		createdAt, updatedAt       string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &traits, &preferences, &style, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalMap(traits, &p.Traits); err != nil {
		return nil, err
	}
	if err := unmarshalMap(preferences, &p.Preferences); err != nil {
		return nil, err
	}
	if err := unmarshalMap(style, &p.Style); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// --- NOTAMs ---

// CreateNotam stores a new notice. Priority defaults to normal and the
// notice starts active.
func (s *Store) CreateNotam(ctx context.Context, n *memory.Notam) error {
	n.ID = uuid.New().String()
	n.CreatedAt = time.Now().UTC()
	if n.Priority == "" {
		n.Priority = memory.PriorityNormal
	}
	n.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notams (id, user_id, title, content, priority, category, active, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		n.ID, n.UserID, n.Title, n.Content, string(n.Priority), n.Category,
		formatNullableTime(n.ExpiresAt), formatTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("create notam: %w", err)
	}
	log.Printf("[SQLITE] Created NOTAM %q for user %s", n.Title, n.UserID)
	return nil
}

// ListActiveNotams returns active, unexpired NOTAMs ordered by priority rank
// (critical first) then creation time descending. Expiry is evaluated at
// read time and wins over the active flag.
func (s *Store) ListActiveNotams(ctx context.Context, userID string, now time.Time) ([]*memory.Notam, error) {
	return s.listNotams(ctx, `
		SELECT id, user_id, title, content, priority, category, active, expires_at, created_at
		FROM notams
		WHERE user_id = ? AND active = 1 AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY `+notamRankExpr+`, created_at DESC`,
		userID, formatTime(now))
}

// ListNotams returns the user's NOTAMs, optionally restricted to active ones
// or to a category, in priority-rank order. Unlike ListActiveNotams it does
// not drop expired notices; it is the introspection listing.
func (s *Store) ListNotams(ctx context.Context, userID string, activeOnly bool, category string) ([]*memory.Notam, error) {
	query := `
		SELECT id, user_id, title, content, priority, category, active, expires_at, created_at
		FROM notams WHERE user_id = ?`
	args := []any{userID}
	if activeOnly {
		query += ` AND active = 1`
	}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY ` + notamRankExpr + `, created_at DESC`
	return s.listNotams(ctx, query, args...)
}

// DeactivateNotam clears the active flag without deleting the notice.
func (s *Store) DeactivateNotam(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notams SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// DeleteNotam removes a notice permanently.
func (s *Store) DeleteNotam(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notams WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (s *Store) listNotams(ctx context.Context, query string, args ...any) ([]*memory.Notam, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notams []*memory.Notam
	for rows.Next() {
		var (
			n         memory.Notam
			priority  string
			active    int
			expiresAt sql.NullString
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &priority,
			&n.Category, &active, &expiresAt, &createdAt); err != nil {
			return nil, err
		}
		n.Priority = memory.Priority(priority)
		n.Active = active != 0
		if n.ExpiresAt, err = parseNullableTime(expiresAt); err != nil {
			return nil, err
		}
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		notams = append(notams, &n)
	}
	return notams, rows.Err()
}

// --- sessions ---

const sessionColumns = `id, user_id, agent_type, agent_name, last_query,
	last_response_summary, context, created_at, updated_at`

// LatestSession returns the most recently updated session for the user,
// optionally narrowed to an agent type. memory.ErrNotFound when absent.
func (s *Store) LatestSession(ctx context.Context, userID, agentType string) (*memory.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = ?`
	args := []any{userID}
	if agentType != "" {
		query += ` AND agent_type = ?`
		args = append(args, agentType)
	}
	query += ` ORDER BY updated_at DESC LIMIT 1`

	return scanSession(s.db.QueryRowContext(ctx, query, args...))
}

// UpsertSession refreshes the session for (user, agent type) in place, or
// creates one. A refresh always advances updated_at; the agent name is
// replaced only when the caller supplies one.
func (s *Store) UpsertSession(ctx context.Context, userID, agentType, agentName string) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `SELECT id FROM sessions WHERE user_id = ?`
	args := []any{userID}
	if agentType != "" {
		query += ` AND agent_type = ?`
		args = append(args, agentType)
	}
	query += ` ORDER BY updated_at DESC LIMIT 1`

	var id string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sessions (id, user_id, agent_type, agent_name, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), userID, agentType, agentName, formatTime(now), formatTime(now))
	case err == nil:
		if agentName != "" {
			_, err = tx.ExecContext(ctx,
				`UPDATE sessions SET updated_at = ?, agent_name = ? WHERE id = ?`,
				formatTime(now), agentName, id)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE sessions SET updated_at = ? WHERE id = ?`, formatTime(now), id)
		}
	}
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return tx.Commit()
}

// UpdateSessionActivity records the last query, response summary, and
// context map against the (user, agent type) session, creating it first if
// needed.
func (s *Store) UpdateSessionActivity(ctx context.Context, userID, agentType string, act memory.SessionActivity) error {
	if err := s.UpsertSession(ctx, userID, agentType, ""); err != nil {
		return err
	}

	contextJSON, err := marshalMap(act.Context)
	if err != nil {
		return fmt.Errorf("marshal session context: %w", err)
	}

	query := `
		UPDATE sessions SET last_query = ?, last_response_summary = ?, context = ?, updated_at = ?
		WHERE user_id = ?`
	args := []any{act.LastQuery, act.LastResponseSummary, contextJSON,
		formatTime(time.Now().UTC()), userID}
	if agentType != "" {
		query += ` AND agent_type = ?`
		args = append(args, agentType)
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

func scanSession(row *sql.Row) (*memory.Session, error) {
	var (
		sess                 memory.Session
		contextJSON          string
		createdAt, updatedAt string
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.AgentType, &sess.AgentName,
		&sess.LastQuery, &sess.LastResponseSummary, &contextJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(contextJSON), &sess.Context); err != nil {
		return nil, fmt.Errorf("unmarshal session context: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// --- helpers ---

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMap(raw string, dst *map[string]any) error {
	if raw == "" {
		raw = "{}"
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("unmarshal persona map: %w", err)
	}
	return nil
}
