// Package pipeline turns a parsed DOM tree into a SemanticNode tree
// through four pure, composable stages: prune, role-map, collapse,
// merge. Each stage is tree-to-tree and independently testable; Run
// chains them in order.
package pipeline

import (
	"github.com/polzovatel/percept/internal/dom"
	"github.com/polzovatel/percept/internal/semantic"
)

// Run executes the full prune -> role-map -> collapse -> merge chain
// over a parsed document. hasPriorRef may be nil (fresh session, no
// prior ref_index to protect a run from being merged away).
func Run(root *dom.Node, hasPriorRef HasPriorRef) *semantic.Node {
	pruned := Prune(root, false)
	// Prune can splice the document's own html/body wrappers away,
	// leaving several top-level fragments; a synthetic element re-roots
	// them for role-mapping. It collapses into a real Page node in the
	// stage below if it carries nothing of its own.
	wrapper := &dom.Node{Kind: dom.KindElement, Tag: "html", Children: pruned}

	sem := RoleMap(wrapper)
	sem = Collapse(sem)
	sem = Merge(sem, hasPriorRef)
	return sem
}
