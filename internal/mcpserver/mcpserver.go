// Package mcpserver is a thin agent-protocol framing layer over
// internal/session: it declares the tool surface and translates each
// call into a session.Manager invocation, using the official MCP Go
// SDK for the wire format so this package owns no protocol logic of
// its own.
package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/polzovatel/percept/internal/percepterr"
	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/session"
	"github.com/polzovatel/percept/internal/taskctx"
)

const (
	appName    = "percept"
	appVersion = "0.1.0"
)

// Server wraps an MCP server bound to one session.Manager.
type Server struct {
	mcp     *mcp.Server
	manager *session.Manager
	log     zerolog.Logger
}

func New(manager *session.Manager, log zerolog.Logger) *Server {
	s := &Server{
		manager: manager,
		log:     log,
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: appName, Version: appVersion}, nil)
	s.registerTools()
	return s
}

// ServeStdio runs the server over stdio until ctx is canceled — the
// transport `mcp`'s CLI subcommand uses.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler exposes the server as a streamable-HTTP handler — the
// transport `mcp-http`'s CLI subcommand mounts.
func (s *Server) HTTPHandler() *mcp.StreamableHTTPHandler {
	return mcp.NewStreamableHTTPHandler(func(*mcp.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

// resolveTabID defaults an omitted tab_id to the focused tab, so a
// single-tab agent never has to pass one.
func (s *Server) resolveTabID(tabID string) string {
	if tabID != "" {
		return tabID
	}
	return s.manager.FocusedTabID()
}

type navigateInput struct {
	TabID string `json:"tab_id" jsonschema:"tab to navigate; omit to open a new tab"`
	URL   string `json:"url" jsonschema:"required,URL to load"`
}

type snapshotInput struct {
	TabID  string `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
	Format string `json:"format,omitempty" jsonschema:"text or json, default text"`
}

type pageDiffInput struct {
	TabID string `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
}

type clickInput struct {
	TabID      string `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
	Ref        string `json:"ref" jsonschema:"required,element handle from a snapshot, e.g. @e5"`
	ReturnDiff bool   `json:"return_diff,omitempty" jsonschema:"return a page_diff instead of a full snapshot"`
	Format     string `json:"format,omitempty"`
}

type typeInput struct {
	TabID      string `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
	Ref        string `json:"ref" jsonschema:"required"`
	Text       string `json:"text" jsonschema:"required"`
	ReturnDiff bool   `json:"return_diff,omitempty" jsonschema:"return a page_diff instead of a full snapshot"`
	Format     string `json:"format,omitempty"`
}

type selectInput struct {
	TabID      string `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
	Ref        string `json:"ref" jsonschema:"required"`
	Value      string `json:"value" jsonschema:"required"`
	ReturnDiff bool   `json:"return_diff,omitempty" jsonschema:"return a page_diff instead of a full snapshot"`
	Format     string `json:"format,omitempty"`
}

type scrollInput struct {
	TabID     string `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
	Direction string `json:"direction" jsonschema:"required,down|up|top|bottom|page_down|page_up"`
	Distance  int    `json:"distance,omitempty"`
}

type scrollToRefInput struct {
	TabID  string `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
	Ref    string `json:"ref" jsonschema:"required"`
	Format string `json:"format,omitempty"`
}

type closeTabInput struct {
	TabID string `json:"tab_id" jsonschema:"required"`
}

type listTabsInput struct{}

type switchTabInput struct {
	TabID string `json:"tab_id" jsonschema:"required"`
}

type filterInput struct {
	TabID           string   `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
	FocusRoles      []string `json:"focus_roles,omitempty"`
	InteractiveOnly bool     `json:"interactive_only,omitempty"`
	Tokens          []string `json:"tokens,omitempty"`
	MaxNodes        int      `json:"max_nodes,omitempty"`
	Format          string   `json:"format,omitempty"`
}

type setTaskContextInput struct {
	TabID           string   `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
	Task            string   `json:"task" jsonschema:"required,free-text description of the current task"`
	FocusRoles      []string `json:"focus_roles,omitempty"`
	InteractiveOnly bool     `json:"interactive_only,omitempty"`
	MaxNodes        int      `json:"max_nodes,omitempty"`
}

type clearTaskContextInput struct {
	TabID string `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
}

type focusedSnapshotInput struct {
	TabID  string `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
	Format string `json:"format,omitempty"`
}

type waitForChangesInput struct {
	TabID     string `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
	TimeoutMS int    `json:"timeout_ms,omitempty"`
}

type screenshotInput struct {
	TabID    string `json:"tab_id,omitempty" jsonschema:"omit to use the focused tab"`
	FullPage bool   `json:"full_page,omitempty" jsonschema:"capture the entire scrollable page, not just the viewport"`
	Annotate bool   `json:"annotate,omitempty" jsonschema:"overlay numbered bounding boxes over every ref in the current snapshot"`
}

type saveAuthInput struct {
	TabID   string `json:"tab_id" jsonschema:"required"`
	Profile string `json:"profile" jsonschema:"required"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "navigate", Description: "Open a URL in a tab, creating one if tab_id is omitted"}, s.handleNavigate)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "snapshot", Description: "Take a semantic snapshot of the current page"}, s.handleSnapshot)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "page_diff", Description: "Diff the current snapshot against the previous one"}, s.handlePageDiff)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "click", Description: "Click the element behind a ref from the last snapshot"}, s.handleClick)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "type", Description: "Type text into the element behind a ref"}, s.handleType)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "select", Description: "Select an option on the combobox behind a ref"}, s.handleSelect)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "scroll", Description: "Scroll the page"}, s.handleScroll)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "scroll_to_ref", Description: "Scroll a ref's element into view"}, s.handleScrollToRef)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "close_tab", Description: "Close a tab"}, s.handleCloseTab)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "list_tabs", Description: "List every open tab and which one is focused"}, s.handleListTabs)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "switch_tab", Description: "Change which tab subsequent tab_id-less calls target"}, s.handleSwitchTab)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "filter", Description: "Narrow the current snapshot to a task context, once"}, s.handleFilter)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "set_task_context", Description: "Persist a task context on a tab for focused_snapshot"}, s.handleSetTaskContext)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "clear_task_context", Description: "Remove a tab's persisted task context"}, s.handleClearTaskContext)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "focused_snapshot", Description: "Snapshot the page through a tab's persisted task context"}, s.handleFocusedSnapshot)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "wait_for_changes", Description: "Block until the page mutates or a timeout elapses"}, s.handleWaitForChanges)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "screenshot", Description: "Capture a PNG screenshot of the tab"}, s.handleScreenshot)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: "save_auth", Description: "Persist the tab's cookies/storage under a named profile"}, s.handleSaveAuth)
}

func textResult(s string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: s}}}, nil, nil
}

func errResult(err error) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}}}, nil, nil
}

func (s *Server) handleNavigate(ctx context.Context, req *mcp.CallToolRequest, in navigateInput) (*mcp.CallToolResult, any, error) {
	tabID := in.TabID
	if tabID == "" {
		t, err := s.manager.NewTab(ctx, "")
		if err != nil {
			return errResult(err)
		}
		tabID = t.ID
	}
	t, err := s.manager.Tab(tabID)
	if err != nil {
		return errResult(err)
	}
	if err := t.Navigate(ctx, in.URL); err != nil {
		return errResult(err)
	}
	return textResult(fmt.Sprintf("tab %s loaded %s", tabID, in.URL))
}

func (s *Server) handleSnapshot(ctx context.Context, req *mcp.CallToolRequest, in snapshotInput) (*mcp.CallToolResult, any, error) {
	out, err := s.manager.Snapshot(ctx, s.resolveTabID(in.TabID), in.Format)
	if err != nil {
		return errResult(err)
	}
	return textResult(out)
}

func (s *Server) handlePageDiff(ctx context.Context, req *mcp.CallToolRequest, in pageDiffInput) (*mcp.CallToolResult, any, error) {
	out, err := s.manager.PageDiff(s.resolveTabID(in.TabID))
	if err != nil {
		return errResult(err)
	}
	return textResult(out)
}

// afterInteraction is what click/type/select return once the action
// itself has succeeded: either a freshly rendered snapshot, or — when
// the caller asked for return_diff — a summary of what changed against
// the snapshot taken just before the action.
func (s *Server) afterInteraction(ctx context.Context, tabID string, returnDiff bool, format string) (*mcp.CallToolResult, any, error) {
	snap, err := s.manager.Snapshot(ctx, tabID, format)
	if err != nil {
		return errResult(err)
	}
	if !returnDiff {
		return textResult(snap)
	}
	out, err := s.manager.PageDiff(tabID)
	if err != nil {
		return errResult(err)
	}
	return textResult(out)
}

func (s *Server) handleClick(ctx context.Context, req *mcp.CallToolRequest, in clickInput) (*mcp.CallToolResult, any, error) {
	tabID := s.resolveTabID(in.TabID)
	t, err := s.manager.Tab(tabID)
	if err != nil {
		return errResult(err)
	}
	refID, err := parseRef(in.Ref)
	if err != nil {
		return errResult(err)
	}
	if err := t.Click(ctx, refID); err != nil {
		return errResult(err)
	}
	return s.afterInteraction(ctx, tabID, in.ReturnDiff, in.Format)
}

func (s *Server) handleType(ctx context.Context, req *mcp.CallToolRequest, in typeInput) (*mcp.CallToolResult, any, error) {
	tabID := s.resolveTabID(in.TabID)
	t, err := s.manager.Tab(tabID)
	if err != nil {
		return errResult(err)
	}
	refID, err := parseRef(in.Ref)
	if err != nil {
		return errResult(err)
	}
	if err := t.Type(ctx, refID, in.Text); err != nil {
		return errResult(err)
	}
	return s.afterInteraction(ctx, tabID, in.ReturnDiff, in.Format)
}

func (s *Server) handleSelect(ctx context.Context, req *mcp.CallToolRequest, in selectInput) (*mcp.CallToolResult, any, error) {
	tabID := s.resolveTabID(in.TabID)
	t, err := s.manager.Tab(tabID)
	if err != nil {
		return errResult(err)
	}
	refID, err := parseRef(in.Ref)
	if err != nil {
		return errResult(err)
	}
	if err := t.Select(ctx, refID, in.Value); err != nil {
		return errResult(err)
	}
	return s.afterInteraction(ctx, tabID, in.ReturnDiff, in.Format)
}

func (s *Server) handleScroll(ctx context.Context, req *mcp.CallToolRequest, in scrollInput) (*mcp.CallToolResult, any, error) {
	tabID := s.resolveTabID(in.TabID)
	t, err := s.manager.Tab(tabID)
	if err != nil {
		return errResult(err)
	}
	if err := t.Scroll(ctx, in.Direction, in.Distance); err != nil {
		return errResult(err)
	}
	return textResult("scrolled " + in.Direction)
}

func (s *Server) handleScrollToRef(ctx context.Context, req *mcp.CallToolRequest, in scrollToRefInput) (*mcp.CallToolResult, any, error) {
	refID, err := parseRef(in.Ref)
	if err != nil {
		return errResult(err)
	}
	out, err := s.manager.ScrollToRef(ctx, s.resolveTabID(in.TabID), refID, in.Format)
	if err != nil {
		return errResult(err)
	}
	return textResult(out)
}

func (s *Server) handleCloseTab(ctx context.Context, req *mcp.CallToolRequest, in closeTabInput) (*mcp.CallToolResult, any, error) {
	if err := s.manager.CloseTab(ctx, in.TabID); err != nil {
		return errResult(err)
	}
	return textResult("closed " + in.TabID)
}

func (s *Server) handleListTabs(ctx context.Context, req *mcp.CallToolRequest, in listTabsInput) (*mcp.CallToolResult, any, error) {
	var b strings.Builder
	for _, ts := range s.manager.ListTabSummaries() {
		marker := " "
		if ts.Focused {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s %q %s\n", marker, ts.TabID, ts.Title, ts.URL)
	}
	return textResult(b.String())
}

func (s *Server) handleSwitchTab(ctx context.Context, req *mcp.CallToolRequest, in switchTabInput) (*mcp.CallToolResult, any, error) {
	if err := s.manager.SwitchTab(in.TabID); err != nil {
		return errResult(err)
	}
	return textResult("focused " + in.TabID)
}

func parseRoles(names []string) []role.Role {
	var roles []role.Role
	for _, name := range names {
		if r, ok := role.Parse(name); ok {
			roles = append(roles, r)
		}
	}
	return roles
}

func (s *Server) handleFilter(ctx context.Context, req *mcp.CallToolRequest, in filterInput) (*mcp.CallToolResult, any, error) {
	out, err := s.manager.Filter(s.resolveTabID(in.TabID), parseRoles(in.FocusRoles), in.InteractiveOnly, in.Tokens, uint32(in.MaxNodes), in.Format)
	if err != nil {
		return errResult(err)
	}
	return textResult(out)
}

func (s *Server) handleSetTaskContext(ctx context.Context, req *mcp.CallToolRequest, in setTaskContextInput) (*mcp.CallToolResult, any, error) {
	tabID := s.resolveTabID(in.TabID)
	tc := taskctx.TaskContext{
		Task:            in.Task,
		FocusRoles:      parseRoles(in.FocusRoles),
		InteractiveOnly: in.InteractiveOnly,
		MaxNodes:        uint32(in.MaxNodes),
	}
	if err := s.manager.SetTaskContext(tabID, tc); err != nil {
		return errResult(err)
	}
	return textResult("task context set for " + tabID)
}

func (s *Server) handleClearTaskContext(ctx context.Context, req *mcp.CallToolRequest, in clearTaskContextInput) (*mcp.CallToolResult, any, error) {
	tabID := s.resolveTabID(in.TabID)
	if err := s.manager.ClearTaskContext(tabID); err != nil {
		return errResult(err)
	}
	return textResult("task context cleared for " + tabID)
}

func (s *Server) handleFocusedSnapshot(ctx context.Context, req *mcp.CallToolRequest, in focusedSnapshotInput) (*mcp.CallToolResult, any, error) {
	out, err := s.manager.FocusedSnapshot(s.resolveTabID(in.TabID), in.Format)
	if err != nil {
		return errResult(err)
	}
	return textResult(out)
}

func (s *Server) handleWaitForChanges(ctx context.Context, req *mcp.CallToolRequest, in waitForChangesInput) (*mcp.CallToolResult, any, error) {
	timeout := time.Duration(in.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	changed, err := s.manager.WaitForChanges(ctx, s.resolveTabID(in.TabID), timeout)
	if err != nil {
		return errResult(err)
	}
	if changed {
		return textResult("page changed")
	}
	return textResult("no change within timeout")
}

func (s *Server) handleScreenshot(ctx context.Context, req *mcp.CallToolRequest, in screenshotInput) (*mcp.CallToolResult, any, error) {
	t, err := s.manager.Tab(s.resolveTabID(in.TabID))
	if err != nil {
		return errResult(err)
	}
	data, err := t.Screenshot(ctx, in.FullPage, in.Annotate)
	if err != nil {
		return errResult(err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.ImageContent{Data: data, MIMEType: "image/png"}}}, nil, nil
}

func (s *Server) handleSaveAuth(ctx context.Context, req *mcp.CallToolRequest, in saveAuthInput) (*mcp.CallToolResult, any, error) {
	if err := s.manager.SaveAuth(ctx, in.TabID, in.Profile); err != nil {
		return errResult(err)
	}
	return textResult(fmt.Sprintf("saved auth profile %q for tab %s", in.Profile, in.TabID))
}

func parseRef(s string) (uint32, error) {
	var id uint32
	trimmed := s
	if len(trimmed) > 2 && trimmed[0] == '@' && trimmed[1] == 'e' {
		trimmed = trimmed[2:]
	}
	_, err := fmt.Sscanf(trimmed, "%d", &id)
	if err != nil {
		return 0, percepterr.New(percepterr.InvalidInput, fmt.Sprintf("ref %q must look like @e5", s))
	}
	return id, nil
}
