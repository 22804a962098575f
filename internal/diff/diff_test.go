package diff

import (
	"testing"

	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

func keyed(r role.Role, name, source string) *semantic.Node {
	n := semantic.NewNode(r)
	n.Name = name
	n.StableKey = semantic.StableKey{Source: source, Hash: uint32(len(source))}
	return n
}

func TestDiffDetectsAdded(t *testing.T) {
	prev := keyed(role.Generic, "root", "root")

	cur := keyed(role.Generic, "root", "root")
	cur.Children = []*semantic.Node{keyed(role.Button, "New", "btn-new")}

	changes := Diff(prev, cur)
	if len(changes) != 1 || changes[0].Kind != Added {
		t.Fatalf("expected one Added change, got %+v", changes)
	}
}

func TestDiffDetectsRemoved(t *testing.T) {
	prev := keyed(role.Generic, "root", "root")
	prev.Children = []*semantic.Node{keyed(role.Button, "Gone", "btn-gone")}

	cur := keyed(role.Generic, "root", "root")

	changes := Diff(prev, cur)
	if len(changes) != 1 || changes[0].Kind != Removed {
		t.Fatalf("expected one Removed change, got %+v", changes)
	}
}

func TestDiffDetectsModified(t *testing.T) {
	prev := keyed(role.Generic, "root", "root")
	prev.Children = []*semantic.Node{keyed(role.Textbox, "before", "field")}

	cur := keyed(role.Generic, "root", "root")
	cur.Children = []*semantic.Node{keyed(role.Textbox, "after", "field")}

	changes := Diff(prev, cur)
	if len(changes) != 1 || changes[0].Kind != Modified {
		t.Fatalf("expected one Modified change, got %+v", changes)
	}
}

func TestDiffIgnoresUnchangedNode(t *testing.T) {
	prev := keyed(role.Generic, "root", "root")
	prev.Children = []*semantic.Node{keyed(role.Button, "Same", "btn")}

	cur := keyed(role.Generic, "root", "root")
	cur.Children = []*semantic.Node{keyed(role.Button, "Same", "btn")}

	if changes := Diff(prev, cur); len(changes) != 0 {
		t.Fatalf("identical trees should produce no changes, got %+v", changes)
	}
}

func TestDiffSurvivesReordering(t *testing.T) {
	a := keyed(role.Button, "A", "a")
	b := keyed(role.Button, "B", "b")

	prev := keyed(role.Generic, "root", "root")
	prev.Children = []*semantic.Node{a, b}

	cur := keyed(role.Generic, "root", "root")
	cur.Children = []*semantic.Node{
		keyed(role.Button, "B", "b"),
		keyed(role.Button, "A", "a"),
	}

	if changes := Diff(prev, cur); len(changes) != 0 {
		t.Errorf("StableKey alignment should be position-independent, got %+v", changes)
	}
}

func TestSummaryGroupsByKind(t *testing.T) {
	changes := []Change{
		{Kind: Added, Path: "added-path"},
		{Kind: Removed, Path: "removed-path"},
		{Kind: Modified, Path: "modified-path"},
	}
	out := Summary(changes)
	removedIdx := indexOf(out, "removed-path")
	modifiedIdx := indexOf(out, "modified-path")
	addedIdx := indexOf(out, "added-path")
	if !(removedIdx < modifiedIdx && modifiedIdx < addedIdx) {
		t.Errorf("expected removed, then modified, then added in the summary; got %q", out)
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
