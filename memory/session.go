package memory

import "time"

// Session tracks the last activity of a (user, agent type) pair. In normal
// operation at most one current row exists per pair; reads and writes go
// through the upsert on ContextStore.
type Session struct {
	ID                  string
	UserID              string
	AgentType           string // cli, ide, web, api
	AgentName           string
	LastQuery           string
	LastResponseSummary string
	Context             map[string]any
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SessionActivity is the payload recorded against a session after an agent
// turn completes.
type SessionActivity struct {
	LastQuery           string
	LastResponseSummary string
	Context             map[string]any
}
