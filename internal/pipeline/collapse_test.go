package pipeline

import (
	"testing"

	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

func TestCollapseDropsNestedMeaninglessWrappers(t *testing.T) {
	leaf := semantic.NewNode(role.Text)
	leaf.Name = "hello"

	inner := semantic.NewNode(role.Generic)
	inner.Children = []*semantic.Node{leaf}

	outer := semantic.NewNode(role.Generic)
	outer.Children = []*semantic.Node{inner}

	root := semantic.NewNode(role.Generic)
	root.Children = []*semantic.Node{outer}

	got := Collapse(root)
	if len(got.Children) != 1 || got.Children[0] != leaf {
		t.Fatalf("expected nested meaningless wrappers spliced down to the single leaf, got %+v", got.Children)
	}
}

func TestCollapseSplicesMultiChildWrapper(t *testing.T) {
	a := semantic.NewNode(role.Button)
	a.Name = "A"
	b := semantic.NewNode(role.Button)
	b.Name = "B"

	wrapper := semantic.NewNode(role.Generic)
	wrapper.Children = []*semantic.Node{a, b}

	root := semantic.NewNode(role.Generic)
	root.Name = "root has a name so it is not itself meaningless"
	root.Children = []*semantic.Node{wrapper}

	got := Collapse(root)
	if len(got.Children) != 2 {
		t.Fatalf("expected wrapper spliced away exposing both children, got %d", len(got.Children))
	}
}

func TestCollapseRelabelsMeaninglessRootToPage(t *testing.T) {
	root := semantic.NewNode(role.Generic)
	child := semantic.NewNode(role.Button)
	child.Name = "Click"
	root.Children = []*semantic.Node{child}

	got := Collapse(root)
	if got.Role != role.Page {
		t.Errorf("expected a would-be-collapsed root relabeled to Page, got %s", got.Role)
	}
	if len(got.Children) != 1 || got.Children[0] != child {
		t.Errorf("root's children should survive relabeling untouched, got %+v", got.Children)
	}
}

func TestCollapseKeepsNamedNode(t *testing.T) {
	named := semantic.NewNode(role.Generic)
	named.Name = "keep me"
	root := semantic.NewNode(role.Generic)
	root.Name = "root"
	root.Children = []*semantic.Node{named}

	got := Collapse(root)
	if len(got.Children) != 1 || got.Children[0].Name != "keep me" {
		t.Fatalf("a named generic node should survive collapse, got %+v", got.Children)
	}
}

func TestCollapseDropsEmptyMeaninglessLeaf(t *testing.T) {
	empty := semantic.NewNode(role.Generic)
	root := semantic.NewNode(role.Generic)
	root.Name = "root"
	root.Children = []*semantic.Node{empty}

	got := Collapse(root)
	if len(got.Children) != 0 {
		t.Fatalf("a childless meaningless node should be dropped entirely, got %+v", got.Children)
	}
}
