package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
)

// ContextStore is the relational collaborator behind the online tier.
// Implemented by sqlite.Store.
type ContextStore interface {
	// GetPersona returns the user's persona, or ErrNotFound when absent.
	GetPersona(ctx context.Context, userID string) (*Persona, error)

	// ListActiveNotams returns the user's active, unexpired NOTAMs ordered
	// by priority rank then creation time descending.
	ListActiveNotams(ctx context.Context, userID string, now time.Time) ([]*Notam, error)

	// LatestSession returns the most recently updated session for the
	// user, optionally narrowed to an agent type. ErrNotFound when absent.
	LatestSession(ctx context.Context, userID, agentType string) (*Session, error)

	// UpsertSession updates the session for (user, agent type) in place,
	// refreshing its timestamp, or creates one.
	UpsertSession(ctx context.Context, userID, agentType, agentName string) error
}

// ContextConfig holds ContextService cache settings.
type ContextConfig struct {
	// PersonaTTL bounds persona staleness in the read cache.
	PersonaTTL time.Duration

	// NotamTTL bounds NOTAM staleness in the read cache.
	NotamTTL time.Duration
}

// DefaultContextConfig returns the stock cache TTLs.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		PersonaTTL: 5 * time.Minute,
		NotamTTL:   time.Minute,
	}
}

// ContextService assembles the online tier: persona + active NOTAMs + last
// session. Persona and NOTAM reads go through a TTL cache; sessions are
// never cached because the same read path mutates them.
type ContextService struct {
	store  ContextStore
	cache  *ristretto.Cache
	config ContextConfig
}

// NewContextService creates a ContextService over the relational store.
func NewContextService(store ContextStore, config ContextConfig) (*ContextService, error) {
	if config.PersonaTTL == 0 && config.NotamTTL == 0 {
		config = DefaultContextConfig()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create context cache: %w", err)
	}
	return &ContextService{store: store, cache: cache, config: config}, nil
}

// ContextRequest describes a context read.
type ContextRequest struct {
	UserID         string
	IncludeNotams  bool
	IncludeSession bool

	// AgentType and AgentName identify the caller. When either is set, the
	// read also upserts the caller's session row.
	AgentType string
	AgentName string
}

// Context is the online tier view handed to an agent before a conversation.
type Context struct {
	UserID      string
	Persona     *Persona // nil when the user has no persona
	Notams      []*Notam
	LastSession *Session // nil when the user has no session
	RetrievedAt time.Time
}

// GetContext returns everything an agent needs to know about the user
// before starting a conversation.
//
// Missing data degrades gracefully: no persona and no session are reported
// as nils, no NOTAMs as an empty slice. Only backend failures return an
// error. When the request identifies the caller, the read also records the
// caller's presence via a session upsert, so a context read is not pure.
func (c *ContextService) GetContext(ctx context.Context, req ContextRequest) (*Context, error) {
	now := time.Now().UTC()
	result := &Context{UserID: req.UserID, Notams: []*Notam{}, RetrievedAt: now}

	persona, err := c.persona(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("get persona: %w", err)
	}
	result.Persona = persona

	if req.IncludeNotams {
		notams, err := c.notams(ctx, req.UserID, now)
		if err != nil {
			return nil, fmt.Errorf("list notams: %w", err)
		}
		result.Notams = notams
	}

	if req.IncludeSession {
		session, err := c.store.LatestSession(ctx, req.UserID, req.AgentType)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("latest session: %w", err)
		}
		result.LastSession = session
	}

	if req.AgentType != "" || req.AgentName != "" {
		if err := c.store.UpsertSession(ctx, req.UserID, req.AgentType, req.AgentName); err != nil {
			// Presence tracking is bookkeeping; a failed upsert must not
			// fail the context read.
			log.Printf("[CONTEXT] Failed to upsert session for user %s: %v", req.UserID, err)
		}
	}

	return result, nil
}

func (c *ContextService) persona(ctx context.Context, userID string) (*Persona, error) {
	key := "persona:" + userID
	if v, ok := c.cache.Get(key); ok {
		return v.(*Persona), nil
	}
	persona, err := c.store.GetPersona(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(key, persona, 1, c.config.PersonaTTL)
	return persona, nil
}

func (c *ContextService) notams(ctx context.Context, userID string, now time.Time) ([]*Notam, error) {
	key := "notams:" + userID
	if v, ok := c.cache.Get(key); ok {
		// Expiry is evaluated at read time; cached entries may have
		// expired since they were stored.
		return filterExpired(v.([]*Notam), now), nil
	}
	notams, err := c.store.ListActiveNotams(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(key, notams, 1, c.config.NotamTTL)
	return notams, nil
}

func filterExpired(notams []*Notam, now time.Time) []*Notam {
	live := make([]*Notam, 0, len(notams))
	for _, n := range notams {
		if !n.Expired(now) {
			live = append(live, n)
		}
	}
	return live
}

// InvalidateUser drops the user's cached persona and NOTAMs. Called by the
// CRUD layer after a persona or NOTAM write.
func (c *ContextService) InvalidateUser(userID string) {
	c.cache.Del("persona:" + userID)
	c.cache.Del("notams:" + userID)
}

// SortNotams orders NOTAMs in place by priority rank (critical first), then
// by creation time descending within the same priority.
func SortNotams(notams []*Notam) {
	sort.SliceStable(notams, func(i, j int) bool {
		ri, rj := notams[i].Priority.Rank(), notams[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return notams[i].CreatedAt.After(notams[j].CreatedAt)
	})
}

// PromptSection renders the context as a prompt-injection block, ready to be
// inserted into an agent's system prompt.
func (c *Context) PromptSection() string {
	var parts []string
	parts = append(parts, "<user_context>")

	if c.Persona != nil {
		name := c.Persona.Name
		if name == "" {
			name = c.UserID
		}
		parts = append(parts, fmt.Sprintf("User: %s", name))
		if len(c.Persona.Traits) > 0 {
			parts = append(parts, fmt.Sprintf("Traits: %v", c.Persona.Traits))
		}
		if len(c.Persona.Preferences) > 0 {
			parts = append(parts, fmt.Sprintf("Preferences: %v", c.Persona.Preferences))
		}
		if len(c.Persona.Style) > 0 {
			parts = append(parts, fmt.Sprintf("Style: %v", c.Persona.Style))
		}
	}

	if len(c.Notams) > 0 {
		parts = append(parts, "\nNOTAMs (Important Notices):")
		for _, n := range c.Notams {
			parts = append(parts, fmt.Sprintf("- [%s] %s: %s", strings.ToUpper(string(n.Priority)), n.Title, n.Content))
		}
	}

	if c.LastSession != nil {
		last := c.LastSession.LastQuery
		if last == "" {
			last = "None"
		}
		parts = append(parts, fmt.Sprintf("\nLast Activity: %s", last))
		if len(c.LastSession.Context) > 0 {
			parts = append(parts, fmt.Sprintf("Context: %v", c.LastSession.Context))
		}
	}

	parts = append(parts, "</user_context>")
	return strings.Join(parts, "\n")
}
