package memory

import "time"

// Priority orders NOTAMs for display and retrieval.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
	PriorityInfo     Priority = "info"
)

// priorityRanks maps each priority to its precedence; lower sorts first.
var priorityRanks = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityNormal:   2,
	PriorityLow:      3,
	PriorityInfo:     4,
}

// Rank returns the priority's precedence (0 = critical). Unknown priorities
// rank after info.
func (p Priority) Rank() int {
	if r, ok := priorityRanks[p]; ok {
		return r
	}
	return len(priorityRanks)
}

// Notam is a notice to agents: critical information that must be surfaced
// before a conversation starts. Many may exist per user.
type Notam struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	Priority  Priority
	Category  string
	Active    bool
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Expired reports whether the NOTAM's expiry has passed at the given time.
// Expiry wins over the active flag: an expired NOTAM is excluded from active
// result sets even when Active is still true.
func (n *Notam) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && n.ExpiresAt.Before(now)
}
