// Package role defines the closed ARIA-flavored role set the pipeline
// maps DOM elements onto, and the authoritative HTML tag -> role table.
package role

import "fmt"

// Role is a member of the closed, fixed role set a SemanticNode can carry.
type Role int

const (
	Unknown Role = iota
	Page
	Heading
	Paragraph
	Text
	Link
	Button
	Textbox
	Checkbox
	Radio
	Combobox
	Listbox
	Option
	Menu
	MenuItem
	Tab
	TabList
	TabPanel
	Dialog
	Alert
	Status
	List
	ListItem
	Table
	Row
	Cell
	ColumnHeader
	Image
	Form
	Group
	Region
	Navigation
	Main
	Separator
	Generic
)

var names = map[Role]string{
	Unknown:      "unknown",
	Page:         "page",
	Heading:      "heading",
	Paragraph:    "paragraph",
	Text:         "text",
	Link:         "link",
	Button:       "button",
	Textbox:      "textbox",
	Checkbox:     "checkbox",
	Radio:        "radio",
	Combobox:     "combobox",
	Listbox:      "listbox",
	Option:       "option",
	Menu:         "menu",
	MenuItem:     "menuitem",
	Tab:          "tab",
	TabList:      "tablist",
	TabPanel:     "tabpanel",
	Dialog:       "dialog",
	Alert:        "alert",
	Status:       "status",
	List:         "list",
	ListItem:     "listitem",
	Table:        "table",
	Row:          "row",
	Cell:         "cell",
	ColumnHeader: "columnheader",
	Image:        "image",
	Form:         "form",
	Group:        "group",
	Region:       "region",
	Navigation:   "navigation",
	Main:         "main",
	Separator:    "separator",
	Generic:      "generic",
}

func (r Role) String() string {
	if s, ok := names[r]; ok {
		return s
	}
	return fmt.Sprintf("role(%d)", int(r))
}

var byName = func() map[string]Role {
	m := make(map[string]Role, len(names))
	for r, n := range names {
		m[n] = r
	}
	return m
}()

// Parse resolves an explicit `role="..."` attribute value to a Role. It
// returns (Unknown, false) for values outside the closed set, so callers
// fall through to tag-based resolution.
func Parse(explicit string) (Role, bool) {
	r, ok := byName[explicit]
	if !ok || r == Unknown {
		return Unknown, false
	}
	return r, true
}

// interactiveSet is the role subset that always gets a ref_id and
// `interactive: true`. Cell is interactive only when clickable; that
// conditional case is resolved by the pipeline, not here, since it
// depends on node state beyond the role alone.
var interactiveSet = map[Role]bool{
	Link:     true,
	Button:   true,
	Textbox:  true,
	Checkbox: true,
	Radio:    true,
	Combobox: true,
	Listbox:  true,
	Option:   true,
	MenuItem: true,
	Tab:      true,
}

// Interactive reports whether a role is unconditionally interactive
// (excludes the Cell-when-clickable special case).
func Interactive(r Role) bool {
	return interactiveSet[r]
}

// FromTag resolves the authoritative HTML tag->role table. inputType and
// hasHref refine input/a resolution. Returns Generic for anything not
// named in the table.
func FromTag(tag string, inputType string, hasHref bool) Role {
	switch tag {
	case "a":
		if hasHref {
			return Link
		}
		return Generic
	case "button":
		return Button
	case "input":
		switch inputType {
		case "button", "submit", "reset":
			return Button
		case "checkbox":
			return Checkbox
		case "radio":
			return Radio
		case "text", "email", "tel", "url", "search", "number", "password", "":
			return Textbox
		default:
			return Textbox
		}
	case "select":
		return Combobox
	case "option":
		return Option
	case "textarea":
		return Textbox
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return Heading
	case "nav":
		return Navigation
	case "main":
		return Main
	case "header", "footer", "aside":
		return Region
	case "form":
		return Form
	case "ul", "ol":
		return List
	case "li":
		return ListItem
	case "table":
		return Table
	case "tr":
		return Row
	case "td":
		return Cell
	case "th":
		return ColumnHeader
	case "img":
		return Image
	case "p":
		return Paragraph
	case "dialog":
		return Dialog
	default:
		return Generic
	}
}

// HeadingLevel extracts the 1..6 level from an <hN> tag name; 0 if tag
// isn't a heading tag.
func HeadingLevel(tag string) int {
	switch tag {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	case "h5":
		return 5
	case "h6":
		return 6
	default:
		return 0
	}
}
