package extractor

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

func textbox(name, value string) *semantic.Node {
	n := semantic.NewNode(role.Textbox)
	n.Name = name
	n.Value = value
	n.HasValue = value != ""
	return n
}

func checkbox(name string, checked bool) *semantic.Node {
	n := semantic.NewNode(role.Checkbox)
	n.Name = name
	n.SetFlag(semantic.FlagChecked, checked)
	return n
}

func TestExtractBindsByExactName(t *testing.T) {
	root := semantic.NewNode(role.Form)
	root.Children = []*semantic.Node{
		textbox("email", "alice@example.com"),
		textbox("age", "30"),
	}
	schema := &jsonschema.Schema{
		Properties: map[string]*jsonschema.Schema{
			"email": {Type: "string"},
			"age":   {Type: "integer"},
		},
	}

	got, errs := Extract(root, schema, "")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got["email"] != "alice@example.com" {
		t.Errorf("email = %v", got["email"])
	}
	if got["age"] != int64(30) {
		t.Errorf("age = %v (%T)", got["age"], got["age"])
	}
}

func TestExtractBindsBySubstring(t *testing.T) {
	root := semantic.NewNode(role.Form)
	root.Children = []*semantic.Node{textbox("Email address", "bob@example.com")}
	schema := &jsonschema.Schema{
		Properties: map[string]*jsonschema.Schema{
			"email": {Type: "string"},
		},
	}
	got, errs := Extract(root, schema, "")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got["email"] != "bob@example.com" {
		t.Errorf("email = %v", got["email"])
	}
}

func TestExtractCoercesBoolean(t *testing.T) {
	root := semantic.NewNode(role.Form)
	root.Children = []*semantic.Node{checkbox("subscribe", true)}
	schema := &jsonschema.Schema{
		Properties: map[string]*jsonschema.Schema{
			"subscribe": {Type: "boolean"},
		},
	}
	got, errs := Extract(root, schema, "")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got["subscribe"] != true {
		t.Errorf("subscribe = %v", got["subscribe"])
	}
}

func TestExtractCoercesCurrencyAndPercent(t *testing.T) {
	root := semantic.NewNode(role.Form)
	root.Children = []*semantic.Node{
		textbox("price", "$1,250.00"),
		textbox("discount", "87%"),
	}
	schema := &jsonschema.Schema{
		Properties: map[string]*jsonschema.Schema{
			"price":    {Type: "number"},
			"discount": {Type: "integer"},
		},
	}
	got, errs := Extract(root, schema, "")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got["price"] != 1250.00 {
		t.Errorf("price = %v", got["price"])
	}
	if got["discount"] != int64(87) {
		t.Errorf("discount = %v", got["discount"])
	}
}

func TestExtractReportsUnboundProperty(t *testing.T) {
	root := semantic.NewNode(role.Form)
	schema := &jsonschema.Schema{
		Properties: map[string]*jsonschema.Schema{
			"missing": {Type: "string"},
		},
	}
	got, errs := Extract(root, schema, "")
	if len(errs) != 1 {
		t.Fatalf("expected one error for the unbound property, got %v", errs)
	}
	if _, ok := got["missing"]; ok {
		t.Error("an unbound property should not appear in the result map")
	}
}

func TestExtractReportsUncoercibleValue(t *testing.T) {
	root := semantic.NewNode(role.Form)
	root.Children = []*semantic.Node{textbox("age", "not-a-number")}
	schema := &jsonschema.Schema{
		Properties: map[string]*jsonschema.Schema{
			"age": {Type: "integer"},
		},
	}
	_, errs := Extract(root, schema, "")
	if len(errs) != 1 {
		t.Fatalf("expected one coercion error, got %v", errs)
	}
}

func TestExtractEmptySchemaReturnsEmptyResult(t *testing.T) {
	root := semantic.NewNode(role.Form)
	got, errs := Extract(root, &jsonschema.Schema{}, "")
	if len(got) != 0 || len(errs) != 0 {
		t.Errorf("expected no result and no errors for an empty schema, got %v %v", got, errs)
	}
}

func row(name, price string) *semantic.Node {
	n := semantic.NewNode(role.Generic)
	n.Children = []*semantic.Node{textbox("name", name), textbox("price", price)}
	return n
}

func TestExtractBindsArrayOfRepeatingUnits(t *testing.T) {
	root := semantic.NewNode(role.Form)
	list := semantic.NewNode(role.Generic)
	list.Children = []*semantic.Node{
		row("Widget", "9.99"),
		row("Gadget", "19.99"),
		row("Gizmo", "29.99"),
	}
	root.Children = []*semantic.Node{list}

	schema := &jsonschema.Schema{
		Properties: map[string]*jsonschema.Schema{
			"items": {
				Type: "array",
				Items: &jsonschema.Schema{
					Properties: map[string]*jsonschema.Schema{
						"name":  {Type: "string"},
						"price": {Type: "number"},
					},
				},
			},
		},
	}

	got, errs := Extract(root, schema, "")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	items, ok := got["items"].([]map[string]any)
	if !ok {
		t.Fatalf("expected items to be []map[string]any, got %T", got["items"])
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 bound rows, got %d", len(items))
	}
	if items[0]["name"] != "Widget" || items[0]["price"] != 9.99 {
		t.Errorf("unexpected first row: %v", items[0])
	}
}

func TestExtractArrayWithoutRepeatingUnitReportsSchemaBindingError(t *testing.T) {
	root := semantic.NewNode(role.Form)
	root.Children = []*semantic.Node{textbox("name", "Widget")}

	schema := &jsonschema.Schema{
		Properties: map[string]*jsonschema.Schema{
			"items": {
				Type: "array",
				Items: &jsonschema.Schema{
					Properties: map[string]*jsonschema.Schema{
						"name": {Type: "string"},
					},
				},
			},
		},
	}

	_, errs := Extract(root, schema, "")
	if len(errs) != 1 {
		t.Fatalf("expected one binding error for the missing repeating unit, got %v", errs)
	}
}

func TestExtractSelectorRootScopesSearch(t *testing.T) {
	outer := semantic.NewNode(role.Form)
	outer.Locator = semantic.DomLocator{Tag: "form"}
	decoy := textbox("email", "outer@example.com")
	inner := semantic.NewNode(role.Generic)
	inner.Locator = semantic.DomLocator{ID: "signup"}
	inner.Children = []*semantic.Node{textbox("email", "inner@example.com")}
	outer.Children = []*semantic.Node{decoy, inner}

	schema := &jsonschema.Schema{
		Properties: map[string]*jsonschema.Schema{
			"email": {Type: "string"},
		},
	}

	got, errs := Extract(outer, schema, "#signup")
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got["email"] != "inner@example.com" {
		t.Errorf("expected the scoped email, got %v", got["email"])
	}
}

func TestExtractUnknownSelectorRootReportsSchemaBindingError(t *testing.T) {
	root := semantic.NewNode(role.Form)
	schema := &jsonschema.Schema{Properties: map[string]*jsonschema.Schema{"email": {Type: "string"}}}
	_, errs := Extract(root, schema, "#nonexistent")
	if len(errs) != 1 {
		t.Fatalf("expected one error for an unresolvable selector-root, got %v", errs)
	}
}
