// Package dom holds the uniform in-memory representation of a parsed HTML
// document that the rest of the pipeline operates on.
package dom

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Kind identifies the category of a DomNode.
type Kind int

const (
	KindElement Kind = iota
	KindText
	KindComment
	KindDoctype
)

func (k Kind) String() string {
	switch k {
	case KindElement:
		return "element"
	case KindText:
		return "text"
	case KindComment:
		return "comment"
	case KindDoctype:
		return "doctype"
	default:
		return "unknown"
	}
}

// Rect is a bounding rectangle in viewport coordinates, attached
// out-of-band by the driver when geometry is known.
type Rect struct {
	X, Y, Width, Height float64
}

// Node is a single node in the parsed DOM tree. Attribute names and the
// tag name are lowercased; duplicate attributes resolve last-wins during
// construction.
type Node struct {
	Kind     Kind
	Tag      string // lowercased, KindElement only
	Attrs    map[string]string
	Text     string // raw text, KindText only
	Children []*Node

	// Geometry is attached out-of-band by the driver. Nil means
	// unknown, which is treated as on-screen and visible.
	Rect    *Rect
	Visible *bool
}

// Attr returns the named attribute and whether it was present.
func (n *Node) Attr(name string) (string, bool) {
	if n.Attrs == nil {
		return "", false
	}
	v, ok := n.Attrs[strings.ToLower(name)]
	return v, ok
}

// HasAttr reports whether the attribute is present regardless of value,
// e.g. boolean attributes like `hidden` or `inert`.
func (n *Node) HasAttr(name string) bool {
	_, ok := n.Attr(name)
	return ok
}

// Parse reads an HTML document from r and builds a Node tree rooted at a
// synthetic document node (kind element, tag "#document").
func Parse(r io.Reader) (*Node, error) {
	parsed, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return convert(parsed), nil
}

// ParseString is a convenience wrapper over Parse for in-memory HTML,
// used by the `snapshot -` (stdin) and file-path CLI sources.
func ParseString(s string) (*Node, error) {
	return Parse(strings.NewReader(s))
}

func convert(n *html.Node) *Node {
	switch n.Type {
	case html.TextNode:
		return &Node{Kind: KindText, Text: n.Data}
	case html.CommentNode:
		return &Node{Kind: KindComment, Text: n.Data}
	case html.DoctypeNode:
		return &Node{Kind: KindDoctype, Text: n.Data}
	case html.ElementNode, html.DocumentNode:
		out := &Node{Kind: KindElement, Tag: tagName(n)}
		if len(n.Attr) > 0 {
			out.Attrs = make(map[string]string, len(n.Attr))
			for _, a := range n.Attr {
				// last-wins: later entries in source order overwrite earlier ones
				out.Attrs[strings.ToLower(a.Key)] = a.Val
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			out.Children = append(out.Children, convert(c))
		}
		return out
	default:
		out := &Node{Kind: KindElement, Tag: tagName(n)}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			out.Children = append(out.Children, convert(c))
		}
		return out
	}
}

func tagName(n *html.Node) string {
	if n.Type == html.DocumentNode {
		return "#document"
	}
	if n.DataAtom != atom.Atom(0) {
		return n.DataAtom.String()
	}
	return strings.ToLower(n.Data)
}

// IsWhitespace reports whether a text node contains only whitespace.
func IsWhitespace(s string) bool {
	return strings.TrimSpace(s) == ""
}
