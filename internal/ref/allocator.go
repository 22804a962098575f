// Package ref assigns short numeric handles (@eN) to interactive
// SemanticNodes, stable across re-snapshots of the same page as long as
// a node's StableKey doesn't change.
package ref

import "github.com/polzovatel/percept/internal/semantic"

const maxRef = 1_000_000

// Entry is one allocated handle, in document order.
type Entry struct {
	RefID uint32
	Node  *semantic.Node
}

// Index is the ref_id -> node mapping a session keeps around to resolve
// @eN references back to a live element.
type Index map[uint32]*semantic.Node

// PriorIndex is the StableKey -> ref_id mapping from the previous
// snapshot, used to prefer reassigning the same handle to the same
// element.
type PriorIndex map[semantic.StableKey]uint32

// Allocate walks the tree in document order and assigns a ref_id to
// every interactive node. It runs two passes: first it reuses the prior
// ref_id for any node whose StableKey matches one from before (as long
// as that slot isn't already taken), then it assigns fresh candidates —
// hash(StableKey) mod 1,000,000, linearly probed forward past
// collisions — to whatever remains. Reallocating in two passes (instead
// of always recomputing fresh) is what keeps a ref stable across
// snapshots when nothing about the element changed.
func Allocate(root *semantic.Node, prior PriorIndex) ([]Entry, Index) {
	var nodes []*semantic.Node
	collectInteractive(root, &nodes)

	used := make(map[uint32]bool, len(nodes))
	assigned := make(map[*semantic.Node]uint32, len(nodes))

	if prior != nil {
		for _, n := range nodes {
			if id, ok := prior[n.StableKey]; ok && !used[id] {
				used[id] = true
				assigned[n] = id
			}
		}
	}

	for _, n := range nodes {
		if _, ok := assigned[n]; ok {
			continue
		}
		candidate := n.StableKey.RefCandidate()
		for used[candidate] {
			candidate = (candidate + 1) % maxRef
		}
		used[candidate] = true
		assigned[n] = candidate
	}

	entries := make([]Entry, 0, len(nodes))
	index := make(Index, len(nodes))
	for _, n := range nodes {
		id := assigned[n]
		n.RefID = id
		n.HasRef = true
		entries = append(entries, Entry{RefID: id, Node: n})
		index[id] = n
	}
	return entries, index
}

func collectInteractive(n *semantic.Node, out *[]*semantic.Node) {
	if n == nil {
		return
	}
	if n.Interactive {
		*out = append(*out, n)
	}
	for _, c := range n.Children {
		collectInteractive(c, out)
	}
}

// BuildPrior extracts a PriorIndex from an already-allocated tree, for
// feeding into the next snapshot's Allocate call.
func BuildPrior(root *semantic.Node) PriorIndex {
	var nodes []*semantic.Node
	collectInteractive(root, &nodes)
	prior := make(PriorIndex, len(nodes))
	for _, n := range nodes {
		if n.HasRef {
			prior[n.StableKey] = n.RefID
		}
	}
	return prior
}
