package pipeline

import (
	"strings"

	"github.com/polzovatel/percept/internal/dom"
)

// droppedTags are removed entirely, subtree and all.
var droppedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"meta": true, "link": true, "base": true,
}

var preformattedTags = map[string]bool{
	"pre": true, "textarea": true, "code": true,
}

// Prune implements stage P1. It returns the nodes that should replace n
// at its parent's position: nil/empty means n (and its subtree) is
// dropped; a single node is the common case; more than one happens only
// when n was a purely structural wrapper being spliced away while its
// kept children survive — re-parenting only ever happens for wrappers
// that would also be collapsed away one stage later.
func Prune(n *dom.Node, preformatted bool) []*dom.Node {
	if n == nil {
		return nil
	}
	switch n.Kind {
	case dom.KindComment, dom.KindDoctype:
		return nil
	case dom.KindText:
		if !preformatted && dom.IsWhitespace(n.Text) {
			return nil
		}
		return []*dom.Node{n}
	}

	// KindElement from here on.
	if droppedTags[n.Tag] {
		return nil
	}
	if isHiddenByAttrs(n) || isHiddenByGeometry(n) {
		return nil
	}
	if n.Tag == "head" {
		return pruneHead(n)
	}

	childPreformatted := preformatted || preformattedTags[n.Tag]
	var children []*dom.Node
	for _, c := range n.Children {
		children = append(children, Prune(c, childPreformatted)...)
	}

	if isStructuralPassthrough(n) && len(children) != 1 {
		// A purely structural wrapper (no id/name/role/aria/interactive
		// hint) contributing nothing of its own: splice its surviving
		// children directly into the parent instead of keeping an empty
		// or multi-child husk around for P3 to immediately collapse.
		if len(children) == 0 {
			return nil
		}
		return children
	}

	out := *n
	out.Children = children
	return []*dom.Node{&out}
}

// isStructuralPassthrough recognizes elements that carry no semantic
// hint of their own at the DOM level (before role mapping runs), so P1
// is free to splice them instead of waiting for P3 to do the same work
// one stage later.
func isStructuralPassthrough(n *dom.Node) bool {
	switch n.Tag {
	case "div", "span", "section", "body", "html":
	default:
		return false
	}
	if n.Attrs == nil {
		return true
	}
	for k := range n.Attrs {
		switch k {
		case "id", "name", "role", "tabindex":
			return false
		}
		if strings.HasPrefix(k, "aria-") {
			return false
		}
	}
	return true
}

func pruneHead(head *dom.Node) []*dom.Node {
	for _, c := range head.Children {
		if c.Kind == dom.KindElement && c.Tag == "title" {
			out := *c
			return []*dom.Node{&out}
		}
	}
	return nil
}

func isHiddenByAttrs(n *dom.Node) bool {
	if v, ok := n.Attr("aria-hidden"); ok && strings.EqualFold(v, "true") {
		return true
	}
	if n.HasAttr("hidden") || n.HasAttr("inert") {
		return true
	}
	if style, ok := n.Attr("style"); ok {
		s := strings.ToLower(style)
		if strings.Contains(s, "display:none") || strings.Contains(s, "display: none") ||
			strings.Contains(s, "visibility:hidden") || strings.Contains(s, "visibility: hidden") {
			return true
		}
	}
	return false
}

func isHiddenByGeometry(n *dom.Node) bool {
	if n.Visible == nil {
		return false // unknown: assume on-screen, assume visible
	}
	return !*n.Visible
}

// ExtractTitle returns the document's <title> text, if present, walking
// the unpruned tree (used by the session before/independent of Prune).
func ExtractTitle(root *dom.Node) string {
	var title string
	var walk func(n *dom.Node)
	walk = func(n *dom.Node) {
		if n == nil || title != "" {
			return
		}
		if n.Kind == dom.KindElement && n.Tag == "title" {
			title = strings.TrimSpace(textContent(n))
			return
		}
		for _, c := range n.Children {
			walk(c)
			if title != "" {
				return
			}
		}
	}
	walk(root)
	return title
}

func textContent(n *dom.Node) string {
	if n.Kind == dom.KindText {
		return n.Text
	}
	var b strings.Builder
	for _, c := range n.Children {
		b.WriteString(textContent(c))
	}
	return b.String()
}
