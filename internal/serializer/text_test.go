package serializer

import (
	"strings"
	"testing"

	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

func testPage(root *semantic.Node) Page {
	return Page{
		URL:            "https://example.com/login",
		Title:          "Example",
		ViewportHeight: 800,
		ScrollY:        0,
		DocumentHeight: 2400,
		Root:           root,
	}
}

func TestTextHeaderFields(t *testing.T) {
	out := Text(testPage(semantic.NewNode(role.Generic)))
	lines := strings.Split(out, "\n")
	if lines[0] != `page: "Example" [example.com]` {
		t.Errorf("unexpected page line, got %q", lines[0])
	}
	if lines[1] != "viewport: 0-800 of 2400px" {
		t.Errorf("unexpected viewport line, got %q", lines[1])
	}
	if lines[2] != "---" {
		t.Errorf("expected a bare --- separator, got %q", lines[2])
	}
}

func TestTextBasicShape(t *testing.T) {
	root := semantic.NewNode(role.Generic)
	btn := semantic.NewNode(role.Button)
	btn.Name = "Log in"
	btn.Interactive = true
	btn.RefID = 42
	btn.HasRef = true
	btn.SetFlag(semantic.FlagDisabled, true)
	root.Children = []*semantic.Node{btn}

	out := Text(testPage(root))
	line := strings.Split(strings.TrimRight(out, "\n"), "\n")[4]
	if !strings.HasPrefix(line, "  - button") {
		t.Fatalf("expected indented button line, got %q", line)
	}
	if !strings.Contains(line, `"Log in"`) {
		t.Errorf("expected quoted name, got %q", line)
	}
	if !strings.Contains(line, "[@e42]") {
		t.Errorf("expected ref marker, got %q", line)
	}
	if !strings.Contains(line, "{disabled}") {
		t.Errorf("expected flag list, got %q", line)
	}
}

func TestTextHeadingLevel(t *testing.T) {
	h := semantic.NewNode(role.Heading)
	h.Name = "Title"
	h.Locator = semantic.DomLocator{Tag: "h2"}

	out := Text(testPage(h))
	if !strings.Contains(out, "[level=2]") {
		t.Errorf("expected heading level in output, got %q", out)
	}
}

func TestTextOmitsRefForNonInteractive(t *testing.T) {
	p := semantic.NewNode(role.Paragraph)
	p.Name = "hello"
	out := Text(testPage(p))
	if strings.Contains(out, "@e") {
		t.Errorf("a node without an allocated ref should not show one, got %q", out)
	}
}

func TestTextShowsInputType(t *testing.T) {
	tb := semantic.NewNode(role.Textbox)
	tb.Name = "Email"
	tb.InputType = "email"
	out := Text(testPage(tb))
	if !strings.Contains(out, "textbox (email)") {
		t.Errorf("expected input type suffix, got %q", out)
	}
}

func TestTextIndentsByDepth(t *testing.T) {
	root := semantic.NewNode(role.Generic)
	child := semantic.NewNode(role.Paragraph)
	child.Name = "child"
	grandchild := semantic.NewNode(role.Text)
	grandchild.Name = "leaf"
	child.Children = []*semantic.Node{grandchild}
	root.Children = []*semantic.Node{child}

	lines := strings.Split(strings.TrimRight(Text(testPage(root)), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 3 header lines + 3 tree lines, got %d: %v", len(lines), lines)
	}
	if !strings.HasPrefix(lines[5], "    -") {
		t.Errorf("grandchild should be indented two levels, got %q", lines[5])
	}
}
