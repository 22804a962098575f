// Package serializer renders a SemanticNode tree into the two forms a
// tool caller sees: a compact line-oriented text tree, and a structurally
// identical JSON tree.
package serializer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

// Page carries the snapshot metadata the fixed header needs alongside
// the tree: title, originating host, and viewport/document extent.
type Page struct {
	URL            string
	Title          string
	ViewportHeight int
	ScrollY        int
	DocumentHeight int
	Root           *semantic.Node
}

// Text renders the fixed three-line header followed by the tree, one
// node per line, two spaces of indent per depth, in the form:
//
//	page: "{title}" [{host}]
//	viewport: {scroll_y}-{scroll_y+viewport_height} of {document_height}px
//	---
//	- role "name" [@e5] {flag1, flag2}
//
// Ref markers are only emitted for nodes that were actually allocated
// one (HasRef), which in practice means the interactive subset.
func Text(p Page) string {
	var b strings.Builder
	writeHeader(&b, p)
	writeText(&b, p.Root, 0)
	return b.String()
}

func writeHeader(b *strings.Builder, p Page) {
	fmt.Fprintf(b, "page: %q [%s]\n", p.Title, host(p.URL))
	fmt.Fprintf(b, "viewport: %d-%d of %dpx\n", p.ScrollY, p.ScrollY+p.ViewportHeight, p.DocumentHeight)
	b.WriteString("---\n")
}

func host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

func writeText(b *strings.Builder, n *semantic.Node, depth int) {
	if n == nil {
		return
	}
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteByte('-')
	b.WriteByte(' ')
	b.WriteString(n.Role.String())
	if n.Role == role.Textbox && n.InputType != "" {
		fmt.Fprintf(b, " (%s)", n.InputType)
	}

	if level := role.HeadingLevel(n.Locator.Tag); level > 0 {
		fmt.Fprintf(b, " [level=%d]", level)
	}
	if n.Name != "" {
		fmt.Fprintf(b, " %q", n.Name)
	}
	if n.HasValue {
		fmt.Fprintf(b, " value=%q", n.Value)
	}
	if n.HasHref {
		fmt.Fprintf(b, " href=%q", n.Href)
	}
	if n.HasRef {
		fmt.Fprintf(b, " [@e%d]", n.RefID)
	}
	if flags := n.OrderedFlags(); len(flags) > 0 {
		names := make([]string, len(flags))
		for i, f := range flags {
			names[i] = f.String()
		}
		fmt.Fprintf(b, " {%s}", strings.Join(names, ", "))
	}
	b.WriteByte('\n')

	for _, c := range n.Children {
		writeText(b, c, depth+1)
	}
}
