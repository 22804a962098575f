package pipeline

import (
	"fmt"
	"strings"

	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

// MergeThreshold and MergeKeep control stage P4: a run of at least
// MergeThreshold consecutive, semantically-equivalent siblings is
// summarized down to MergeKeep representatives plus one synthetic
// "N more" marker.
const (
	MergeThreshold = 8
	MergeKeep      = 3
)

// HasPriorRef reports whether a StableKey carried a ref_id in the
// previous snapshot. Merge takes one of these so a run that still
// contains elements an agent may be referencing by @eN is left alone
// rather than folded into a summary.
type HasPriorRef func(semantic.StableKey) bool

// Merge implements stage P4 over the whole tree, recursing after
// merging each level since a merge never changes a surviving node's own
// children.
func Merge(root *semantic.Node, hasPriorRef HasPriorRef) *semantic.Node {
	if root == nil {
		return nil
	}
	root.Children = mergeSiblings(root.Children, hasPriorRef)
	for _, c := range root.Children {
		Merge(c, hasPriorRef)
	}
	return root
}

func mergeSiblings(children []*semantic.Node, hasPriorRef HasPriorRef) []*semantic.Node {
	if len(children) < MergeThreshold {
		return children
	}
	var out []*semantic.Node
	i := 0
	for i < len(children) {
		j := i + 1
		for j < len(children) && equivalent(children[i], children[j]) {
			j++
		}
		run := children[i:j]
		if len(run) >= MergeThreshold && !runHasPriorRef(run, hasPriorRef) {
			out = append(out, summarizeRun(run)...)
		} else {
			out = append(out, run...)
		}
		i = j
	}
	return out
}

func runHasPriorRef(run []*semantic.Node, hasPriorRef HasPriorRef) bool {
	if hasPriorRef == nil {
		return false
	}
	for _, n := range run {
		if hasPriorRef(n.StableKey) {
			return true
		}
	}
	return false
}

// equivalent decides whether two adjacent siblings belong to the same
// run: same role, same flag set, and names that share a common
// non-numeric shape (e.g. "Row 1", "Row 2", ... or "", "").
func equivalent(a, b *semantic.Node) bool {
	if a.Role != b.Role || a.Interactive != b.Interactive {
		return false
	}
	if len(a.Flags) != len(b.Flags) {
		return false
	}
	for f, v := range a.Flags {
		if b.Flags[f] != v {
			return false
		}
	}
	return namePrefix(a.Name) == namePrefix(b.Name)
}

// namePrefix strips a trailing run of digits (and the whitespace/
// punctuation immediately before it) so "Item 1" and "Item 42" compare
// equal while "Item" and "Widget" don't.
func namePrefix(name string) string {
	trimmed := strings.TrimRightFunc(name, func(r rune) bool {
		return r >= '0' && r <= '9'
	})
	trimmed = strings.TrimRight(trimmed, " \t-:#")
	return trimmed
}

// summarizeRun keeps the first MergeKeep nodes of a run and folds the
// rest into a single synthetic generic marker node.
func summarizeRun(run []*semantic.Node) []*semantic.Node {
	if len(run) <= MergeKeep {
		return run
	}
	kept := run[:MergeKeep]
	omitted := len(run) - MergeKeep
	marker := semantic.NewNode(role.Generic)
	marker.Name = fmt.Sprintf("… %d more", omitted)
	marker.StableKey = run[0].StableKey.WithDisambiguator(-1)
	out := make([]*semantic.Node, 0, MergeKeep+1)
	out = append(out, kept...)
	out = append(out, marker)
	return out
}
