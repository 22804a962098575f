// Package extractor binds a JSON Schema's properties to form controls
// in a SemanticNode tree and coerces each bound value to its property's
// declared type. An array-typed property is bound against a repeating
// structural unit instead of a single control.
package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/polzovatel/percept/internal/percepterr"
	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

// bindError builds a SchemaBindingError naming the unbindable property.
func bindError(field, reason string) error {
	return percepterr.New(percepterr.SchemaBindingError, fmt.Sprintf("field %q: %s", field, reason))
}

// Extract matches each of schema's top-level properties to a form
// control (or, for an array-typed property, a repeating group of form
// controls) whose accessible name best matches the property, then
// coerces the bound value(s) to the declared type. selectorRoot, if
// non-empty, scopes the whole search to the first descendant of root
// matching it — "#id", a bare tag name, or a structural-path substring
// — instead of searching the whole tree.
func Extract(root *semantic.Node, schema *jsonschema.Schema, selectorRoot string) (map[string]any, []error) {
	if selectorRoot != "" {
		scoped := findSelectorRoot(root, selectorRoot)
		if scoped == nil {
			return map[string]any{}, []error{bindError(selectorRoot, "selector-root matched no element")}
		}
		root = scoped
	}
	return extractObject(root, schema)
}

func extractObject(root *semantic.Node, schema *jsonschema.Schema) (map[string]any, []error) {
	if schema == nil || len(schema.Properties) == 0 {
		return map[string]any{}, nil
	}
	var candidates []*semantic.Node
	collectFormControls(root, &candidates)

	result := make(map[string]any, len(schema.Properties))
	var errs []error
	for name, propSchema := range schema.Properties {
		if propSchema != nil && propSchema.Type == "array" {
			items, err := extractArray(root, propSchema)
			if err != nil {
				errs = append(errs, bindError(name, err.Error()))
				continue
			}
			result[name] = items
			continue
		}
		node := findByName(candidates, name, propSchema)
		if node == nil {
			errs = append(errs, bindError(name, "no matching control found"))
			continue
		}
		v, err := coerce(node, propSchema)
		if err != nil {
			errs = append(errs, bindError(name, err.Error()))
			continue
		}
		result[name] = v
	}
	return result, errs
}

// extractArray binds an array-typed schema against a repeating
// structural unit: the largest sibling group under root, at any depth,
// whose members each bind every property of schema.Items. A schema with
// no bindable items schema, or fewer than two such siblings, is a
// SchemaBindingError.
func extractArray(root *semantic.Node, schema *jsonschema.Schema) ([]map[string]any, error) {
	if schema.Items == nil || len(schema.Items.Properties) == 0 {
		return nil, fmt.Errorf("array schema has no item properties to bind")
	}
	units := findRepeatingUnits(root, schema.Items)
	if len(units) < 2 {
		return nil, fmt.Errorf("no repeating structural unit found for this array schema")
	}
	items := make([]map[string]any, 0, len(units))
	for _, u := range units {
		item, _ := extractObject(u, schema.Items)
		items = append(items, item)
	}
	return items, nil
}

// findRepeatingUnits returns the largest sibling group anywhere under
// root whose members each bind every one of itemSchema's properties —
// the repeating unit an array schema describes.
func findRepeatingUnits(root *semantic.Node, itemSchema *jsonschema.Schema) []*semantic.Node {
	var best []*semantic.Node
	var walk func(n *semantic.Node)
	walk = func(n *semantic.Node) {
		if n == nil {
			return
		}
		var matching []*semantic.Node
		for _, c := range n.Children {
			if bindsFully(c, itemSchema) {
				matching = append(matching, c)
			}
		}
		if len(matching) > len(best) {
			best = matching
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return best
}

// bindsFully reports whether every property of schema can be bound
// somewhere in n's subtree.
func bindsFully(n *semantic.Node, schema *jsonschema.Schema) bool {
	if len(schema.Properties) == 0 {
		return false
	}
	var candidates []*semantic.Node
	collectFormControls(n, &candidates)
	for name, propSchema := range schema.Properties {
		if findByName(candidates, name, propSchema) == nil {
			return false
		}
	}
	return true
}

// findSelectorRoot resolves a minimal CSS-like selector against the
// tree's DOM locators: "#id" matches a node's DOM id, anything else is
// tried first as a tag name and then as a structural-path substring.
func findSelectorRoot(root *semantic.Node, selector string) *semantic.Node {
	var match func(n *semantic.Node) bool
	switch {
	case strings.HasPrefix(selector, "#"):
		id := selector[1:]
		match = func(n *semantic.Node) bool { return n.Locator.ID == id }
	default:
		match = func(n *semantic.Node) bool {
			return n.Locator.Tag == selector || strings.Contains(n.Locator.StructuralPath, selector)
		}
	}
	var found *semantic.Node
	var walk func(n *semantic.Node)
	walk = func(n *semantic.Node) {
		if n == nil || found != nil {
			return
		}
		if match(n) {
			found = n
			return
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return found
}

func collectFormControls(n *semantic.Node, out *[]*semantic.Node) {
	if n == nil {
		return
	}
	switch n.Role {
	case role.Textbox, role.Checkbox, role.Radio, role.Combobox:
		*out = append(*out, n)
	}
	for _, c := range n.Children {
		collectFormControls(c, out)
	}
}

// findByName tries an exact normalized match against the property name
// and the schema's title first, then falls back to substring
// containment for labels like "Email address" binding to "email".
func findByName(candidates []*semantic.Node, propName string, schema *jsonschema.Schema) *semantic.Node {
	target := normalize(propName)
	var titleTarget string
	if schema != nil && schema.Title != "" {
		titleTarget = normalize(schema.Title)
	}
	for _, n := range candidates {
		norm := normalize(n.Name)
		if norm != "" && (norm == target || (titleTarget != "" && norm == titleTarget)) {
			return n
		}
	}
	for _, n := range candidates {
		norm := normalize(n.Name)
		if norm != "" && (strings.Contains(norm, target) || strings.Contains(target, norm)) {
			return n
		}
	}
	return nil
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

var numericLiteral = regexp.MustCompile(`[-+]?\d[\d,]*\.?\d*`)

// firstNumber strips currency and percent symbols, then scans for the
// first numeric literal in raw, so "$1,250.00" and "87%" coerce the way
// an agent reading the page would expect.
func firstNumber(raw string) (string, error) {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', '¥', '%':
			return -1
		default:
			return r
		}
	}, raw)
	m := numericLiteral.FindString(stripped)
	if m == "" {
		return "", fmt.Errorf("no numeric literal in %q", raw)
	}
	return strings.ReplaceAll(m, ",", ""), nil
}

func coerce(n *semantic.Node, schema *jsonschema.Schema) (any, error) {
	typ := ""
	if schema != nil {
		typ = schema.Type
	}
	raw := strings.TrimSpace(n.Value)
	if raw == "" {
		raw = strings.TrimSpace(n.Name)
	}
	switch typ {
	case "boolean":
		return n.HasFlag(semantic.FlagChecked), nil
	case "integer":
		num, err := firstNumber(raw)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		i, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", raw)
		}
		return i, nil
	case "number":
		num, err := firstNumber(raw)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", raw)
		}
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", raw)
		}
		return f, nil
	default:
		return raw, nil
	}
}
