package memory

import "time"

// Persona holds a user's identity, traits, and preferences. At most one
// exists per user.
type Persona struct {
	ID          string
	UserID      string
	Name        string
	Traits      map[string]any
	Preferences map[string]any
	Style       map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PersonaUpdate is a partial persona update. Nil fields are left untouched;
// map fields are merged key-wise into the existing maps.
type PersonaUpdate struct {
	Name        *string
	Traits      map[string]any
	Preferences map[string]any
	Style       map[string]any
}

// MergeMaps merges src into dst key-wise and returns dst. The merge is
// shallow: a nested value under a colliding key is replaced wholesale, not
// deep-merged. A nil dst is allocated when src has entries.
func MergeMaps(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Apply merges the update into the persona.
func (u PersonaUpdate) Apply(p *Persona) {
	if u.Name != nil {
		p.Name = *u.Name
	}
	p.Traits = MergeMaps(p.Traits, u.Traits)
	p.Preferences = MergeMaps(p.Preferences, u.Preferences)
	p.Style = MergeMaps(p.Style, u.Style)
}
