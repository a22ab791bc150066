package memory

// Visibility is the per-agent isolation predicate for the on-demand tier.
// It is the single authorization gate: every Store applies the same rule to
// both the search path and the listing path.
//
// Rules:
//   - AgentID empty: unrestricted, all memories of the user are visible
//     (administrative/introspection mode)
//   - AgentID set, IncludeShared true: own memories plus shared memories of
//     other agents
//   - AgentID set, IncludeShared false: own memories only
type Visibility struct {
	AgentID       string
	IncludeShared bool
}

// Unrestricted returns the admin-mode visibility that sees everything.
func Unrestricted() Visibility {
	return Visibility{}
}

// ForAgent returns the visibility of a requesting agent.
func ForAgent(agentID string, includeShared bool) Visibility {
	return Visibility{AgentID: agentID, IncludeShared: includeShared}
}

// Restricted reports whether the visibility filters by agent at all.
func (v Visibility) Restricted() bool {
	return v.AgentID != ""
}

// Allows reports whether the memory is visible under this policy.
func (v Visibility) Allows(m *Memory) bool {
	if !v.Restricted() {
		return true
	}
	if m.AgentID == v.AgentID {
		return true
	}
	return v.IncludeShared && m.AccessMode == AccessShared
}
