package pipeline

import (
	"strings"
	"testing"

	"github.com/polzovatel/percept/internal/dom"
	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
	"github.com/polzovatel/percept/internal/serializer"
)

func TestRunProducesStableReadableTree(t *testing.T) {
	html := `<html><body>
		<div class="layout">
			<div>
				<h1>Sign in</h1>
				<form>
					<label for="email">Email</label>
					<input id="email" type="email" name="email">
					<button>Log in</button>
				</form>
			</div>
		</div>
	</body></html>`

	root, err := dom.ParseString(html)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	sem := Run(root, nil)
	if sem == nil {
		t.Fatal("Run returned nil")
	}

	var found struct {
		heading, textbox, button bool
	}
	var walk func(n *semantic.Node)
	walk = func(n *semantic.Node) {
		if n == nil {
			return
		}
		switch n.Role {
		case role.Heading:
			found.heading = true
		case role.Textbox:
			found.textbox = true
			if n.Name != "Email" {
				t.Errorf("expected textbox labelled Email via label[for], got %q", n.Name)
			}
		case role.Button:
			found.button = true
			if n.Name != "Log in" {
				t.Errorf("expected button text Log in, got %q", n.Name)
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(sem)

	if !found.heading || !found.textbox || !found.button {
		t.Fatalf("expected heading, textbox and button to survive the full pipeline: %+v", found)
	}

	text := serializer.Text(serializer.Page{Root: sem})
	if !strings.Contains(text, "Sign in") || !strings.Contains(text, "Log in") {
		t.Errorf("text serialization missing expected content: %q", text)
	}
}

func TestRunIsDeterministicAcrossIdenticalInput(t *testing.T) {
	html := `<html><body><button>Click</button></body></html>`
	r1, _ := dom.ParseString(html)
	r2, _ := dom.ParseString(html)

	s1 := Run(r1, nil)
	s2 := Run(r2, nil)

	var firstStableKey func(n *semantic.Node) (semantic.StableKey, bool)
	firstStableKey = func(n *semantic.Node) (semantic.StableKey, bool) {
		if n == nil {
			return semantic.StableKey{}, false
		}
		if n.Role == role.Button {
			return n.StableKey, true
		}
		for _, c := range n.Children {
			if k, ok := firstStableKey(c); ok {
				return k, true
			}
		}
		return semantic.StableKey{}, false
	}

	k1, ok1 := firstStableKey(s1)
	k2, ok2 := firstStableKey(s2)
	if !ok1 || !ok2 {
		t.Fatal("expected to find the button in both trees")
	}
	if k1.Hash != k2.Hash {
		t.Error("identical markup parsed twice should yield identical StableKeys")
	}
}
