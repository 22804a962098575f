package pipeline

import (
	"strings"

	"github.com/polzovatel/percept/internal/dom"
	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
)

// idIndex supports aria-labelledby dereferencing and label[for] lookups,
// both of which need to find another element by id anywhere in the
// (pruned) document.
type idIndex map[string]*dom.Node

func buildIDIndex(root *dom.Node) idIndex {
	idx := make(idIndex)
	var walk func(n *dom.Node)
	walk = func(n *dom.Node) {
		if n == nil {
			return
		}
		if n.Kind == dom.KindElement {
			if id, ok := n.Attr("id"); ok && id != "" {
				idx[id] = n
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return idx
}

// labelForIndex maps a form control's id to the text of a <label for=id>
// anywhere in the document.
func buildLabelForIndex(root *dom.Node) map[string]string {
	idx := make(map[string]string)
	var walk func(n *dom.Node)
	walk = func(n *dom.Node) {
		if n == nil {
			return
		}
		if n.Kind == dom.KindElement && n.Tag == "label" {
			if forID, ok := n.Attr("for"); ok && forID != "" {
				idx[forID] = semantic.CollapseWhitespace(textContent(n))
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return idx
}

// RoleMap implements stage P2: walks the pruned DOM tree and produces a
// SemanticNode tree.
func RoleMap(root *dom.Node) *semantic.Node {
	ids := buildIDIndex(root)
	labels := buildLabelForIndex(root)
	ordinals := make(map[string]int)
	order := 0
	return roleMapNode(root, ids, labels, ordinals, &order, nil)
}

func roleMapNode(n *dom.Node, ids idIndex, labels map[string]string, ordinals map[string]int, order *int, wrappingLabel *string) *semantic.Node {
	if n == nil {
		return nil
	}
	if n.Kind == dom.KindText {
		text := semantic.CollapseWhitespace(n.Text)
		if text == "" {
			return nil
		}
		*order++
		sn := semantic.NewNode(role.Text)
		sn.Name = text
		sn.StableKey = semantic.NewStableKey("", "", role.Text, text, "", *order, "text")
		return sn
	}

	r, inputType, href, hasHref := resolveRole(n)
	sn := semantic.NewNode(r)
	sn.Name = resolveAccessibleName(n, r, ids, labels, wrappingLabel)
	if r == role.Textbox {
		sn.InputType = inputType
		if v, ok := n.Attr("value"); ok {
			sn.Value = v
			sn.HasValue = true
		}
	}
	if href != "" {
		sn.Href = href
		sn.HasHref = hasHref
	}
	applyStateFlags(n, r, sn)
	sn.Interactive = role.Interactive(r) || (r == role.Cell && isClickableCell(n))

	domID, _ := n.Attr("id")
	domName, _ := n.Attr("name")
	key := domID
	var ordinal int
	if domID == "" && domName == "" {
		ordKey := r.String() + "|" + sn.Name + "|" + inputType
		ordinal = ordinals[ordKey]
		ordinals[ordKey] = ordinal + 1
	}
	*order++
	sn.StableKey = semantic.NewStableKey(key, domName, r, sn.Name, inputType, ordinal, structuralPath(n))
	sn.Locator = semantic.DomLocator{Tag: n.Tag, ID: domID, Name: domName, StructuralPath: structuralPath(n)}

	var innerWrapping *string
	if n.Tag == "label" {
		t := semantic.CollapseWhitespace(textContent(n))
		innerWrapping = &t
	} else {
		innerWrapping = wrappingLabel
	}

	for _, c := range n.Children {
		if child := roleMapNode(c, ids, labels, ordinals, order, innerWrapping); child != nil {
			sn.Children = append(sn.Children, child)
		}
	}
	return sn
}

func resolveRole(n *dom.Node) (r role.Role, inputType, href string, hasHref bool) {
	if explicit, ok := n.Attr("role"); ok {
		if parsed, ok := role.Parse(explicit); ok {
			r = parsed
		}
	}
	inputType = strings.ToLower(firstNonEmpty(attrOrEmpty(n, "type")))
	hrefVal, hasHref := n.Attr("href")
	if r == role.Unknown {
		r = role.FromTag(n.Tag, inputType, hasHref)
	}
	if r == role.Heading {
		// level is recomputed from the tag at serialization time via
		// role.HeadingLevel; no need to carry it on the node itself.
	}
	if r == role.Link {
		href = hrefVal
	}
	return r, inputType, href, hasHref
}

func attrOrEmpty(n *dom.Node, name string) string {
	v, _ := n.Attr(name)
	return v
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}

func resolveAccessibleName(n *dom.Node, r role.Role, ids idIndex, labels map[string]string, wrappingLabel *string) string {
	if ids != nil {
		if refs, ok := n.Attr("aria-labelledby"); ok && refs != "" {
			var parts []string
			for _, id := range strings.Fields(refs) {
				if target, ok := ids[id]; ok {
					parts = append(parts, textContent(target))
				}
			}
			if joined := semantic.CollapseWhitespace(strings.Join(parts, " ")); joined != "" {
				return joined
			}
		}
	}
	if v, ok := n.Attr("aria-label"); ok {
		if v = semantic.CollapseWhitespace(v); v != "" {
			return v
		}
	}
	if isFormControl(r) {
		if id, ok := n.Attr("id"); ok {
			if label, ok := labels[id]; ok && label != "" {
				return label
			}
		}
		if wrappingLabel != nil && *wrappingLabel != "" {
			return *wrappingLabel
		}
	}
	if r == role.Button || r == role.Link {
		if text := semantic.CollapseWhitespace(textContent(n)); text != "" {
			return text
		}
	}
	if v, ok := n.Attr("title"); ok {
		if v = semantic.CollapseWhitespace(v); v != "" {
			return v
		}
	}
	if r == role.Textbox {
		if v, ok := n.Attr("placeholder"); ok {
			if v = semantic.CollapseWhitespace(v); v != "" {
				return v
			}
		}
	}
	if r == role.Image {
		if v, ok := n.Attr("alt"); ok {
			return semantic.CollapseWhitespace(v)
		}
	}
	return ""
}

func isFormControl(r role.Role) bool {
	switch r {
	case role.Textbox, role.Checkbox, role.Radio, role.Combobox:
		return true
	default:
		return false
	}
}

func applyStateFlags(n *dom.Node, r role.Role, sn *semantic.Node) {
	if v, ok := n.Attr("aria-checked"); ok {
		sn.SetFlag(semantic.FlagChecked, strings.EqualFold(v, "true"))
	} else if n.HasAttr("checked") {
		sn.SetFlag(semantic.FlagChecked, true)
	}
	if (r == role.Checkbox || r == role.Radio) && !sn.HasFlag(semantic.FlagChecked) {
		sn.SetFlag(semantic.FlagUnchecked, true)
	}
	if v, ok := n.Attr("aria-required"); ok {
		sn.SetFlag(semantic.FlagRequired, strings.EqualFold(v, "true"))
	} else if n.HasAttr("required") {
		sn.SetFlag(semantic.FlagRequired, true)
	}
	if v, ok := n.Attr("aria-disabled"); ok {
		sn.SetFlag(semantic.FlagDisabled, strings.EqualFold(v, "true"))
	} else if n.HasAttr("disabled") {
		sn.SetFlag(semantic.FlagDisabled, true)
	}
	if v, ok := n.Attr("aria-expanded"); ok {
		if strings.EqualFold(v, "true") {
			sn.SetFlag(semantic.FlagExpanded, true)
		} else if strings.EqualFold(v, "false") {
			sn.SetFlag(semantic.FlagCollapsed, true)
		}
	}
	if v, ok := n.Attr("aria-selected"); ok {
		sn.SetFlag(semantic.FlagSelected, strings.EqualFold(v, "true"))
	}
	if n.Visible != nil && !*n.Visible {
		sn.SetFlag(semantic.FlagOffscreen, true)
	} else if n.Rect != nil && isOffscreenRect(*n.Rect) {
		sn.SetFlag(semantic.FlagOffscreen, true)
	}
}

// isOffscreenRect is a conservative geometry check: only a rect with
// neither width nor height is treated as offscreen/not-yet-laid-out; its
// position against the viewport is not consulted.
func isOffscreenRect(r dom.Rect) bool {
	return r.Width <= 0 && r.Height <= 0
}

func isClickableCell(n *dom.Node) bool {
	return n.HasAttr("onclick") || n.HasAttr("tabindex")
}

// structuralPath supplies StableKey's last-resort input and the
// locator's StructuralPath. It returns the element's own tag name only:
// no ancestor chain and no sibling position are included, so two
// elements with the same tag that fall through to this input (no id,
// name, accessible name or input type) get the same StableKey.
func structuralPath(n *dom.Node) string {
	return n.Tag
}
