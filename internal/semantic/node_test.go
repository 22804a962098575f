package semantic

import (
	"testing"

	"github.com/polzovatel/percept/internal/role"
)

func TestStableKeyDeterministic(t *testing.T) {
	a := NewStableKey("login-btn", "", role.Button, "Log in", "", 0, "form>button")
	b := NewStableKey("login-btn", "", role.Button, "Log in", "", 0, "form>button")
	if a.Hash != b.Hash || a.Source != b.Source {
		t.Fatalf("same inputs produced different keys: %+v vs %+v", a, b)
	}
}

func TestStableKeyPrefersDomID(t *testing.T) {
	withID := NewStableKey("email", "other-name", role.Textbox, "Email", "text", 0, "form>input")
	if withID.Source != "id:email" {
		t.Errorf("expected id to take priority, got %q", withID.Source)
	}
}

func TestStableKeyFallsBackToName(t *testing.T) {
	k := NewStableKey("", "email", role.Textbox, "Email", "text", 0, "form>input")
	if k.Source != "name:email" {
		t.Errorf("expected name fallback, got %q", k.Source)
	}
}

func TestStableKeyDiffersByOrdinal(t *testing.T) {
	a := NewStableKey("", "", role.ListItem, "Item", "", 0, "ul>li")
	b := NewStableKey("", "", role.ListItem, "Item", "", 1, "ul>li")
	if a.Hash == b.Hash {
		t.Error("distinct ordinals should produce distinct keys")
	}
}

func TestWithDisambiguatorChangesHash(t *testing.T) {
	base := NewStableKey("", "", role.Generic, "", "", 0, "div")
	disambiguated := base.WithDisambiguator(3)
	if disambiguated.Hash == base.Hash {
		t.Error("WithDisambiguator should change the hash")
	}
}

func TestIsMeaningless(t *testing.T) {
	n := NewNode(role.Generic)
	if !n.IsMeaningless() {
		t.Error("bare generic node with no name/flags/interactivity should be meaningless")
	}
	n.Name = "something"
	if n.IsMeaningless() {
		t.Error("a named node should not be meaningless")
	}
	n.Name = ""
	n.SetFlag(FlagDisabled, true)
	if n.IsMeaningless() {
		t.Error("a flagged node should not be meaningless")
	}
	n2 := NewNode(role.Button)
	n2.Interactive = true
	if n2.IsMeaningless() {
		t.Error("a non-generic role should not be meaningless even with no name")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	root := NewNode(role.Generic)
	child := NewNode(role.Button)
	child.Name = "Submit"
	child.SetFlag(FlagDisabled, true)
	root.Children = append(root.Children, child)

	clone := root.Clone()
	clone.Children[0].Name = "changed"
	clone.Children[0].SetFlag(FlagRequired, true)

	if child.Name == "changed" {
		t.Error("mutating the clone mutated the original node")
	}
	if child.HasFlag(FlagRequired) {
		t.Error("mutating the clone's flags mutated the original flag set")
	}
}

func TestOrderedFlags(t *testing.T) {
	n := NewNode(role.Checkbox)
	n.SetFlag(FlagDisabled, true)
	n.SetFlag(FlagChecked, true)
	got := n.OrderedFlags()
	if len(got) != 2 || got[0] != FlagChecked || got[1] != FlagDisabled {
		t.Errorf("expected [checked disabled] in fixed order, got %v", got)
	}
}

func TestCollapseWhitespace(t *testing.T) {
	if got := CollapseWhitespace("  hello   world  \n"); got != "hello world" {
		t.Errorf("CollapseWhitespace = %q, want %q", got, "hello world")
	}
}
