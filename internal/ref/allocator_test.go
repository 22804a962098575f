package ref

import (
	"testing"

	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

func interactiveNode(r role.Role, source string, hash uint32) *semantic.Node {
	n := semantic.NewNode(r)
	n.Interactive = true
	n.StableKey = semantic.StableKey{Source: source, Hash: hash}
	return n
}

func TestAllocateAssignsDistinctRefs(t *testing.T) {
	root := semantic.NewNode(role.Generic)
	a := interactiveNode(role.Button, "a", 5)
	b := interactiveNode(role.Button, "b", 5) // same candidate, forces a probe
	root.Children = []*semantic.Node{a, b}

	entries, index := Allocate(root, nil)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if a.RefID == b.RefID {
		t.Error("colliding candidates should be resolved to distinct ref ids")
	}
	if index[a.RefID] != a || index[b.RefID] != b {
		t.Error("index should map each ref id back to its node")
	}
	if !a.HasRef || !b.HasRef {
		t.Error("allocated nodes should have HasRef set")
	}
}

func TestAllocateIgnoresNonInteractiveNodes(t *testing.T) {
	root := semantic.NewNode(role.Generic)
	text := semantic.NewNode(role.Text)
	text.Name = "hello"
	root.Children = []*semantic.Node{text}

	entries, _ := Allocate(root, nil)
	if len(entries) != 0 {
		t.Errorf("non-interactive nodes should not receive refs, got %d entries", len(entries))
	}
}

func TestAllocateReusesPriorRef(t *testing.T) {
	key := semantic.StableKey{Source: "id:submit", Hash: 42}
	first := interactiveNode(role.Button, key.Source, key.Hash)
	firstRoot := semantic.NewNode(role.Generic)
	firstRoot.Children = []*semantic.Node{first}

	_, _ = Allocate(firstRoot, nil)
	prior := BuildPrior(firstRoot)

	second := interactiveNode(role.Button, key.Source, key.Hash)
	secondRoot := semantic.NewNode(role.Generic)
	secondRoot.Children = []*semantic.Node{second}

	Allocate(secondRoot, prior)
	if second.RefID != first.RefID {
		t.Errorf("same StableKey across snapshots should keep the same ref id, got %d vs %d", first.RefID, second.RefID)
	}
}

func TestAllocateDoesNotStealReusedSlotFromFreshCandidate(t *testing.T) {
	keyA := semantic.StableKey{Source: "a", Hash: 7}
	keyB := semantic.StableKey{Source: "b", Hash: 7} // same candidate as A

	prevA := interactiveNode(role.Button, keyA.Source, keyA.Hash)
	prevRoot := semantic.NewNode(role.Generic)
	prevRoot.Children = []*semantic.Node{prevA}
	Allocate(prevRoot, nil)
	prior := BuildPrior(prevRoot)

	newA := interactiveNode(role.Button, keyA.Source, keyA.Hash)
	newB := interactiveNode(role.Button, keyB.Source, keyB.Hash)
	root := semantic.NewNode(role.Generic)
	root.Children = []*semantic.Node{newA, newB}

	Allocate(root, prior)
	if newA.RefID != prevA.RefID {
		t.Error("the node that owned the slot before should keep it")
	}
	if newB.RefID == newA.RefID {
		t.Error("the colliding new node should have been probed to a different slot")
	}
}
