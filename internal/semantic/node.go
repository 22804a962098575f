// Package semantic defines the pipeline's product type, SemanticNode, and
// the content-addressed StableKey identity scheme that keeps refs stable
// across re-snapshots.
package semantic

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/polzovatel/percept/internal/role"
)

// StateFlag is one of the fixed flags a SemanticNode can carry.
type StateFlag int

const (
	FlagChecked StateFlag = iota
	FlagUnchecked
	FlagRequired
	FlagDisabled
	FlagExpanded
	FlagCollapsed
	FlagSelected
	FlagFocused
	FlagOffscreen
)

var flagNames = map[StateFlag]string{
	FlagChecked:   "checked",
	FlagUnchecked: "unchecked",
	FlagRequired:  "required",
	FlagDisabled:  "disabled",
	FlagExpanded:  "expanded",
	FlagCollapsed: "collapsed",
	FlagSelected:  "selected",
	FlagFocused:   "focused",
	FlagOffscreen: "offscreen",
}

func (f StateFlag) String() string { return flagNames[f] }

// serializeOrder is the fixed flag emission order used by both the text
// and JSON serializers.
var serializeOrder = []StateFlag{
	FlagOffscreen, FlagChecked, FlagUnchecked, FlagSelected,
	FlagRequired, FlagDisabled, FlagExpanded, FlagCollapsed, FlagFocused,
}

// DomLocator is the minimal reacquisition hint the session uses to map
// an @eN ref back to a live element, kept out of the serialized form.
type DomLocator struct {
	Tag            string
	ID             string
	Name           string
	StructuralPath string // the element's own tag name, e.g. "input"
}

// StableKey identifies a node's content-addressed identity, independent
// of its position or any live DOM handle. Source records which input
// produced it, for debugging/tests; Hash is
// the deterministic 32-bit reduction used for ref math.
type StableKey struct {
	Source string
	Hash   uint32
}

// NewStableKey computes the key from the first-defined-wins input chain:
// DOM id, DOM name, (role,name,input_type,ordinal) tuple, or structural
// path from the nearest stable ancestor.
func NewStableKey(domID, domName string, r role.Role, accessibleName, inputType string, ordinal int, structuralPath string) StableKey {
	var source string
	switch {
	case domID != "":
		source = "id:" + domID
	case domName != "":
		source = "name:" + domName
	case accessibleName != "" || inputType != "":
		source = fmt.Sprintf("tuple:%s|%s|%s|%d", r, accessibleName, inputType, ordinal)
	default:
		source = "path:" + structuralPath
	}
	return StableKey{Source: source, Hash: uint32(xxhash.Sum64String(source))}
}

// WithDisambiguator appends the document-order index of the first
// occurrence to resolve a hash collision between two otherwise-identical
// keys.
func (k StableKey) WithDisambiguator(firstOccurrenceOrder int) StableKey {
	source := k.Source + "#" + strconv.Itoa(firstOccurrenceOrder)
	return StableKey{Source: source, Hash: uint32(xxhash.Sum64String(source))}
}

func (k StableKey) String() string { return k.Source }

// RefCandidate computes the candidate ref_id: hash(StableKey) mod 1e6.
func (k StableKey) RefCandidate() uint32 {
	return k.Hash % 1_000_000
}

// Node is the pipeline's product: a semantic, accessibility-flavored
// tree node.
type Node struct {
	Role       role.Role
	Name       string // "" means None
	Value      string
	HasValue   bool
	InputType  string // set iff Role == Textbox
	Href       string // set iff Role == Link
	HasHref    bool
	Flags      map[StateFlag]bool
	Interactive bool
	StableKey  StableKey
	RefID      uint32
	HasRef     bool
	Children   []*Node
	Locator    DomLocator
}

// NewNode constructs a zero-value Node with an initialized flag set.
func NewNode(r role.Role) *Node {
	return &Node{Role: r, Flags: make(map[StateFlag]bool)}
}

// SetFlag sets or clears a state flag.
func (n *Node) SetFlag(f StateFlag, on bool) {
	if on {
		n.Flags[f] = true
	} else {
		delete(n.Flags, f)
	}
}

// HasFlag reports whether a flag is set.
func (n *Node) HasFlag(f StateFlag) bool { return n.Flags[f] }

// OrderedFlags returns the set flags in the fixed serialization order.
func (n *Node) OrderedFlags() []StateFlag {
	out := make([]StateFlag, 0, len(n.Flags))
	for _, f := range serializeOrder {
		if n.Flags[f] {
			out = append(out, f)
		}
	}
	return out
}

// IsMeaningless reports the P3 collapse predicate: Generic role, no
// name, no flags, not interactive.
func (n *Node) IsMeaningless() bool {
	return n.Role == role.Generic && n.Name == "" && len(n.Flags) == 0 && !n.Interactive
}

// Clone deep-copies a subtree; used by the task-context filter, which
// must never mutate the tab's live tree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	c.Flags = make(map[StateFlag]bool, len(n.Flags))
	for k, v := range n.Flags {
		c.Flags[k] = v
	}
	c.Children = make([]*Node, len(n.Children))
	for i, child := range n.Children {
		c.Children[i] = child.Clone()
	}
	return &c
}

// CollapseWhitespace trims and collapses internal whitespace runs in an
// accessible-name candidate.
func CollapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
