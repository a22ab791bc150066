package memory_test

import (
	"testing"

	"github.com/sentrahq/memory-go-sdk/memory"
)

func visibilityFixture() []*memory.Memory {
	return []*memory.Memory{
		{ID: "private-a", AgentID: "agent-a", AccessMode: memory.AccessPrivate},
		{ID: "private-b", AgentID: "agent-b", AccessMode: memory.AccessPrivate},
		{ID: "shared-c", AgentID: "agent-c", AccessMode: memory.AccessShared},
	}
}

func visibleIDs(v memory.Visibility, mems []*memory.Memory) []string {
	var ids []string
	for _, m := range mems {
		if v.Allows(m) {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func TestVisibility(t *testing.T) {
	fixture := visibilityFixture()

	tests := []struct {
		name       string
		visibility memory.Visibility
		want       []string
	}{
		{
			name:       "no agent is unrestricted",
			visibility: memory.Unrestricted(),
			want:       []string{"private-a", "private-b", "shared-c"},
		},
		{
			name:       "agent with shared sees own plus shared",
			visibility: memory.ForAgent("agent-a", true),
			want:       []string{"private-a", "shared-c"},
		},
		{
			name:       "agent without shared sees own only",
			visibility: memory.ForAgent("agent-a", false),
			want:       []string{"private-a"},
		},
		{
			name:       "shared owner without shared flag still sees own",
			visibility: memory.ForAgent("agent-c", false),
			want:       []string{"shared-c"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := visibleIDs(tt.visibility, fixture)
			if len(got) != len(tt.want) {
				t.Fatalf("visible set = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("visible set = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestVisibility_SharedExcludedWhenFlagOff(t *testing.T) {
	shared := &memory.Memory{ID: "m", AgentID: "other", AccessMode: memory.AccessShared}
	if memory.ForAgent("cli", false).Allows(shared) {
		t.Error("shared memory of another agent must be hidden when shared inclusion is off")
	}
	if !memory.ForAgent("cli", true).Allows(shared) {
		t.Error("shared memory of another agent must be visible when shared inclusion is on")
	}
}
