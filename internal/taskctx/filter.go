// Package taskctx narrows a SemanticNode tree down to what matters for
// a particular task: a set of roles to focus on, an interactive-only
// switch, and free-text tokens to match against accessible names. It
// always works on a clone — the tab's live tree is never touched.
package taskctx

import (
	"fmt"
	"sort"
	"strings"

	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

const (
	roleScore        = 3
	interactiveScore = 2
	tokenScore       = 1
)

// Filter describes what a caller cares about for the current task, for
// the one-shot `filter` tool.
type Filter struct {
	FocusRoles      []role.Role
	InteractiveOnly bool
	Tokens          []string
	MaxNodes        uint32
}

// TaskContext is the persisted, per-tab equivalent of Filter (spec's
// Tab.task_context): a task phrase instead of pre-split tokens,
// consulted by focused_snapshot until cleared.
type TaskContext struct {
	Task            string
	FocusRoles      []role.Role
	InteractiveOnly bool
	MaxNodes        uint32
}

// ToFilter splits Task on whitespace into lowercase tokens and carries
// the rest of the context straight through.
func (tc TaskContext) ToFilter() Filter {
	return Filter{
		FocusRoles:      tc.FocusRoles,
		InteractiveOnly: tc.InteractiveOnly,
		Tokens:          strings.Fields(strings.ToLower(tc.Task)),
		MaxNodes:        tc.MaxNodes,
	}
}

// scored pairs a cloned, already-kept node with its own score and the
// max score anywhere in its subtree (the "effective" score an ancestor
// inherits so truncation can rank whole subtrees, not just leaves).
type scored struct {
	node      *semantic.Node
	effective int
	children  []*scored
}

// Apply clones root and prunes it down to nodes that score above zero —
// the additive rule: +3 for a role in focus_roles, +2 when
// interactive_only is set and the node is interactive, +1 per
// case-insensitive task token found in its name/value. A node survives
// if its own score is positive OR any descendant's is (the match's
// whole ancestor chain stays visible so an agent can orient itself).
// When MaxNodes would be exceeded, the top-scoring subtrees are kept in
// document order and the rest of each level is folded into a single
// "… N more" marker, the same summarization pipeline stage P4 uses for
// long sibling runs.
func Apply(root *semantic.Node, f Filter) *semantic.Node {
	if root == nil {
		return nil
	}
	clone := root.Clone()
	focus := make(map[role.Role]bool, len(f.FocusRoles))
	for _, r := range f.FocusRoles {
		focus[r] = true
	}
	tokens := make([]string, 0, len(f.Tokens))
	for _, t := range f.Tokens {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tokens = append(tokens, t)
		}
	}

	s := score(clone, focus, f.InteractiveOnly, tokens)
	if s == nil {
		return nil
	}
	if f.MaxNodes > 0 {
		budget := int(f.MaxNodes) - 1
		if budget < 0 {
			budget = 0
		}
		truncateChildren(s, &budget)
	}
	return s.node
}

// score walks bottom-up: a node's own score plus any kept child makes
// it a survivor; non-survivors (and their subtrees) are dropped.
func score(n *semantic.Node, focus map[role.Role]bool, interactiveOnly bool, tokens []string) *scored {
	own := nodeScore(n, focus, interactiveOnly, tokens)

	origChildren := n.Children
	var kept []*scored
	for _, c := range origChildren {
		if cs := score(c, focus, interactiveOnly, tokens); cs != nil {
			kept = append(kept, cs)
		}
	}
	effective := own
	children := make([]*semantic.Node, 0, len(kept))
	for _, cs := range kept {
		children = append(children, cs.node)
		if cs.effective > effective {
			effective = cs.effective
		}
	}
	n.Children = children
	if own == 0 && len(kept) == 0 {
		return nil
	}
	return &scored{node: n, effective: effective, children: kept}
}

func nodeScore(n *semantic.Node, focus map[role.Role]bool, interactiveOnly bool, tokens []string) int {
	total := 0
	if len(focus) > 0 && focus[n.Role] {
		total += roleScore
	}
	if interactiveOnly && n.Interactive {
		total += interactiveScore
	}
	if len(tokens) > 0 {
		name := strings.ToLower(n.Name)
		value := strings.ToLower(n.Value)
		for _, tok := range tokens {
			if strings.Contains(name, tok) || strings.Contains(value, tok) {
				total += tokenScore
			}
		}
	}
	return total
}

func subtreeSize(s *scored) int {
	n := 1
	for _, c := range s.children {
		n += subtreeSize(c)
	}
	return n
}

// truncateChildren keeps parent's children within *budget, preferring
// the top-scoring ones: a child whose whole subtree fits is kept whole;
// one that does not fit is still kept on its own while budget remains,
// and its children are then truncated the same way with whatever budget
// is left. It rewrites parent.node.Children in document order with a
// single generic marker summarizing however many children were dropped.
func truncateChildren(parent *scored, budget *int) {
	children := parent.children
	if len(children) == 0 {
		return
	}
	order := make([]int, len(children))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return children[order[a]].effective > children[order[b]].effective
	})

	keep := make([]bool, len(children))
	whole := make([]bool, len(children))
	for _, idx := range order {
		size := subtreeSize(children[idx])
		if size <= *budget {
			keep[idx] = true
			whole[idx] = true
			*budget -= size
		} else if *budget > 0 {
			keep[idx] = true
			*budget--
		}
	}

	out := make([]*semantic.Node, 0, len(children)+1)
	dropped := 0
	for i, c := range children {
		if keep[i] {
			if !whole[i] {
				truncateChildren(c, budget)
			}
			out = append(out, c.node)
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		out = append(out, summarizeDropped(dropped))
	}
	parent.node.Children = out
}

func summarizeDropped(n int) *semantic.Node {
	marker := semantic.NewNode(role.Generic)
	marker.Name = fmt.Sprintf("… %d more", n)
	return marker
}
