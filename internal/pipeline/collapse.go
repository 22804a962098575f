package pipeline

import (
	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

// Collapse implements stage P3: repeatedly splices/drops meaningless
// wrapper nodes bottom-up to a fixed point. The root is exempted from
// removal — if it would itself be spliced away, it is relabeled Page
// instead, so the tree always keeps a single root.
func Collapse(root *semantic.Node) *semantic.Node {
	if root == nil {
		return nil
	}
	root.Children = collapseChildren(root.Children)
	if root.IsMeaningless() {
		root.Role = role.Page
	}
	return root
}

// collapseChildren processes a sibling list bottom-up: each child's own
// subtree is fully normalized before the child itself is tested for
// meaninglessness, so the result is already a fixed point — a
// newly-exposed splice can't re-trigger a missed collapse because the
// exposed node was already fully resolved one level down.
func collapseChildren(children []*semantic.Node) []*semantic.Node {
	var out []*semantic.Node
	for _, c := range children {
		out = append(out, collapseNode(c)...)
	}
	return out
}

func collapseNode(n *semantic.Node) []*semantic.Node {
	if n == nil {
		return nil
	}
	n.Children = collapseChildren(n.Children)
	if !n.IsMeaningless() {
		return []*semantic.Node{n}
	}
	switch len(n.Children) {
	case 0:
		return nil
	case 1:
		return []*semantic.Node{n.Children[0]}
	default:
		return n.Children
	}
}
