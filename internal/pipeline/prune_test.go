package pipeline

import (
	"strings"
	"testing"

	"github.com/polzovatel/percept/internal/dom"
)

// pruneTop parses html and runs Prune, returning the top-level survivors
// beneath the synthetic #document node. Whether a single-child html/body
// wrapper is itself spliced away depends on how many siblings it has at
// each level, so tests search the resulting tree rather than assume an
// exact nesting depth.
func pruneTop(t *testing.T, htmlSrc string) []*dom.Node {
	t.Helper()
	root, err := dom.ParseString(htmlSrc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out := Prune(root, false)
	if len(out) != 1 {
		t.Fatalf("expected Prune(document) to return a single re-rooted node, got %d", len(out))
	}
	return out[0].Children
}

// findTag depth-first searches nodes (and their descendants) for the
// first element with the given tag.
func findTag(nodes []*dom.Node, tag string) *dom.Node {
	for _, n := range nodes {
		if n.Kind == dom.KindElement && n.Tag == tag {
			return n
		}
		if found := findTag(n.Children, tag); found != nil {
			return found
		}
	}
	return nil
}

func joinedText(nodes []*dom.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(textContent(n))
	}
	return b.String()
}

func TestPruneDropsScriptAndStyle(t *testing.T) {
	top := pruneTop(t, `<html><body><script>evil()</script><style>.x{}</style><p>hi</p></body></html>`)
	joined := joinedText(top)
	if strings.Contains(joined, "evil") {
		t.Error("script content leaked through pruning")
	}
	if !strings.Contains(joined, "hi") {
		t.Error("non-hidden content should survive")
	}
	if findTag(top, "script") != nil || findTag(top, "style") != nil {
		t.Error("script/style elements should not survive pruning")
	}
}

func TestPruneDropsAriaHidden(t *testing.T) {
	top := pruneTop(t, `<html><body><div><span aria-hidden="true">secret</span><span>visible</span></div></body></html>`)
	joined := joinedText(top)
	if strings.Contains(joined, "secret") {
		t.Error("aria-hidden subtree should be dropped")
	}
	if !strings.Contains(joined, "visible") {
		t.Error("visible sibling should survive")
	}
}

func TestPruneKeepsWhitespaceInPreformatted(t *testing.T) {
	top := pruneTop(t, `<html><body><pre>  a   b  </pre></body></html>`)
	pre := findTag(top, "pre")
	if pre == nil {
		t.Fatalf("expected pre element to survive, got %v", top)
	}
	if !strings.Contains(textContent(pre), "  a   b  ") {
		t.Error("whitespace inside a preformatted element should be preserved")
	}
}

func TestPruneSplicesStructuralWrapper(t *testing.T) {
	top := pruneTop(t, `<html><body><div><div><p>one</p><p>two</p></div></div></body></html>`)
	count := 0
	var walk func(n *dom.Node)
	walk = func(n *dom.Node) {
		if n.Kind == dom.KindElement && n.Tag == "p" {
			count++
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, n := range top {
		walk(n)
	}
	if count != 2 {
		t.Fatalf("expected both <p> elements to survive, found %d", count)
	}
	if findTag(top, "div") != nil {
		t.Error("nested attribute-less divs carry no semantic hint and should be spliced away")
	}
}

func TestPruneKeepsStructuralWrapperWithID(t *testing.T) {
	top := pruneTop(t, `<html><body><div id="app"><p>one</p></div></body></html>`)
	app := findTag(top, "div")
	if app == nil {
		t.Fatalf("a div with an id should survive, got %v", top)
	}
	if id, _ := app.Attr("id"); id != "app" {
		t.Errorf("expected id=app, got %q", id)
	}
}

func TestExtractTitle(t *testing.T) {
	root, err := dom.ParseString(`<html><head><title> My Page </title></head><body></body></html>`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := ExtractTitle(root); got != "My Page" {
		t.Errorf("ExtractTitle = %q, want %q", got, "My Page")
	}
}
