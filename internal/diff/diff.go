// Package diff compares two snapshots of the same page, aligning nodes
// by StableKey rather than tree position so that a change report
// survives reordering and unrelated structural churn elsewhere on the
// page.
package diff

import (
	"fmt"
	"strings"

	"github.com/polzovatel/percept/internal/semantic"
)

type Kind int

const (
	Added Kind = iota
	Removed
	Modified
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// Change is one StableKey-aligned difference between two snapshots.
type Change struct {
	Kind   Kind
	Path   string // breadcrumb from the root, e.g. `page > form > textbox "Email"`
	Key    semantic.StableKey
	Before *semantic.Node // nil for Added
	After  *semantic.Node // nil for Removed
}

type indexed struct {
	node *semantic.Node
	path string
}

// Diff compares previous against current and returns every addition,
// removal, and field-level modification, aligned by StableKey.
func Diff(previous, current *semantic.Node) []Change {
	before := flatten(previous)
	after := flatten(current)

	var changes []Change
	for key, a := range after {
		b, existed := before[key]
		if !existed {
			changes = append(changes, Change{Kind: Added, Path: a.path, Key: key, After: a.node})
			continue
		}
		if !equalContent(b.node, a.node) {
			changes = append(changes, Change{Kind: Modified, Path: a.path, Key: key, Before: b.node, After: a.node})
		}
	}
	for key, b := range before {
		if _, stillPresent := after[key]; !stillPresent {
			changes = append(changes, Change{Kind: Removed, Path: b.path, Key: key, Before: b.node})
		}
	}
	return changes
}

func flatten(root *semantic.Node) map[semantic.StableKey]indexed {
	out := make(map[semantic.StableKey]indexed)
	var walk func(n *semantic.Node, path string)
	walk = func(n *semantic.Node, path string) {
		if n == nil {
			return
		}
		crumb := breadcrumb(n)
		full := crumb
		if path != "" {
			full = path + " > " + crumb
		}
		out[n.StableKey] = indexed{node: n, path: full}
		for _, c := range n.Children {
			walk(c, full)
		}
	}
	walk(root, "")
	return out
}

func breadcrumb(n *semantic.Node) string {
	if n.Name == "" {
		return n.Role.String()
	}
	return fmt.Sprintf("%s %q", n.Role.String(), n.Name)
}

// equalContent reports whether two nodes sharing a StableKey have
// identical externally-visible content: name, value, href, flags, and
// interactivity. Children are intentionally excluded — a child's own
// addition/removal surfaces as its own Change.
func equalContent(a, b *semantic.Node) bool {
	if a.Name != b.Name || a.Value != b.Value || a.HasValue != b.HasValue {
		return false
	}
	if a.Href != b.Href || a.HasHref != b.HasHref {
		return false
	}
	if a.Interactive != b.Interactive {
		return false
	}
	return flagsEqual(a, b)
}

func flagsEqual(a, b *semantic.Node) bool {
	if len(a.Flags) != len(b.Flags) {
		return false
	}
	for f, v := range a.Flags {
		if b.Flags[f] != v {
			return false
		}
	}
	return true
}

func (k Kind) prefix() string {
	switch k {
	case Added:
		return "+"
	case Removed:
		return "-"
	case Modified:
		return "~"
	default:
		return "?"
	}
}

// Summary renders a change list as a short human-readable report, one
// line per change prefixed with +/-/~, grouped in kind order (removed,
// modified, added).
func Summary(changes []Change) string {
	var b strings.Builder
	for _, kind := range []Kind{Removed, Modified, Added} {
		for _, c := range changes {
			if c.Kind != kind {
				continue
			}
			fmt.Fprintf(&b, "%s %s\n", kind.prefix(), c.Path)
		}
	}
	return b.String()
}
