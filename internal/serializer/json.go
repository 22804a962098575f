package serializer

import (
	"encoding/json"
	"strconv"

	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

// jsonNode mirrors the text form field-for-field so the two
// representations never drift.
type jsonNode struct {
	Role     string      `json:"role"`
	Name     string      `json:"name,omitempty"`
	Type     string      `json:"type,omitempty"`
	Level    int         `json:"level,omitempty"`
	Value    string      `json:"value,omitempty"`
	Href     string      `json:"href,omitempty"`
	Ref      string      `json:"ref,omitempty"`
	Flags    []string    `json:"flags,omitempty"`
	Children []*jsonNode `json:"children,omitempty"`
}

// jsonPage is the document JSON renders: the header fields the text
// form prints as three lines, plus the tree.
type jsonPage struct {
	Title          string   `json:"title"`
	Host           string   `json:"host"`
	ViewportHeight int      `json:"viewport_height"`
	ScrollY        int      `json:"scroll_y"`
	DocumentHeight int      `json:"document_height"`
	Root           *jsonNode `json:"root"`
}

func toJSONNode(n *semantic.Node) *jsonNode {
	if n == nil {
		return nil
	}
	jn := &jsonNode{
		Role: n.Role.String(),
		Name: n.Name,
	}
	if n.Role == role.Textbox && n.InputType != "" {
		jn.Type = n.InputType
	}
	if level := role.HeadingLevel(n.Locator.Tag); level > 0 {
		jn.Level = level
	}
	if n.HasValue {
		jn.Value = n.Value
	}
	if n.HasHref {
		jn.Href = n.Href
	}
	if n.HasRef {
		jn.Ref = refHandle(n.RefID)
	}
	for _, f := range n.OrderedFlags() {
		jn.Flags = append(jn.Flags, f.String())
	}
	for _, c := range n.Children {
		jn.Children = append(jn.Children, toJSONNode(c))
	}
	return jn
}

func refHandle(id uint32) string {
	return "@e" + strconv.FormatUint(uint64(id), 10)
}

// JSON renders the page header and tree as an indented JSON document,
// matching Text's fields node for node.
func JSON(p Page) ([]byte, error) {
	return json.MarshalIndent(jsonPage{
		Title:          p.Title,
		Host:           host(p.URL),
		ViewportHeight: p.ViewportHeight,
		ScrollY:        p.ScrollY,
		DocumentHeight: p.DocumentHeight,
		Root:           toJSONNode(p.Root),
	}, "", "  ")
}
