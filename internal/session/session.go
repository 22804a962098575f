// Package session is the multi-tab session manager (C9): it owns every
// open Tab, dispatches named tool invocations to them, and serializes
// results the way the rest of the module expects to consume them.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/rs/zerolog"

	"github.com/polzovatel/percept/internal/browser"
	"github.com/polzovatel/percept/internal/diff"
	"github.com/polzovatel/percept/internal/extractor"
	"github.com/polzovatel/percept/internal/percepterr"
	"github.com/polzovatel/percept/internal/role"
	"github.com/polzovatel/percept/internal/semantic"
	"github.com/polzovatel/percept/internal/serializer"
	"github.com/polzovatel/percept/internal/store"
	"github.com/polzovatel/percept/internal/taskctx"
)

// Manager owns every open tab for one running process.
type Manager struct {
	launcher   *browser.Launcher
	authStore  *store.AuthStore
	recordings *store.RecordingStore
	log        zerolog.Logger

	mu           sync.RWMutex
	tabs         map[string]*Tab
	focusedTabID string
}

func New(launcher *browser.Launcher, authStore *store.AuthStore, recordings *store.RecordingStore, log zerolog.Logger) *Manager {
	return &Manager{
		launcher:   launcher,
		authStore:  authStore,
		recordings: recordings,
		log:        log,
		tabs:       make(map[string]*Tab),
	}
}

// NewTab opens a fresh tab, optionally restoring a saved auth profile.
// The first tab a process opens becomes the focused tab.
func (m *Manager) NewTab(ctx context.Context, authProfile string) (*Tab, error) {
	var storagePath string
	if authProfile != "" {
		path, err := m.authStore.Path(authProfile)
		if err != nil {
			return nil, percepterr.Wrap(percepterr.InvalidInput, "bad auth profile name", err)
		}
		if m.authStore.Exists(authProfile) {
			storagePath = path
		}
	}
	driver, err := m.launcher.NewTab(ctx, storagePath)
	if err != nil {
		return nil, percepterr.Wrap(percepterr.DriverUnavailable, "open tab failed", err)
	}
	t := newTab(driver, m.log.With().Str("comp", "tab").Logger())

	m.mu.Lock()
	m.tabs[t.ID] = t
	if m.focusedTabID == "" {
		m.focusedTabID = t.ID
	}
	m.mu.Unlock()
	return t, nil
}

func (m *Manager) Tab(id string) (*Tab, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tabs[id]
	if !ok {
		return nil, percepterr.New(percepterr.InvalidInput, fmt.Sprintf("unknown tab %q", id))
	}
	return t, nil
}

// TabSummary is one row of list_tabs: enough to let a caller pick a tab
// to switch to without taking a fresh snapshot of every one.
type TabSummary struct {
	TabID   string
	URL     string
	Title   string
	Focused bool
}

func (m *Manager) ListTabs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tabs))
	for id := range m.tabs {
		ids = append(ids, id)
	}
	return ids
}

// ListTabSummaries reports every open tab's last-known URL/title and
// whether it is the focused tab, for the list_tabs tool.
func (m *Manager) ListTabSummaries() []TabSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TabSummary, 0, len(m.tabs))
	for id, t := range m.tabs {
		snap := t.Current()
		var url, title string
		if snap != nil {
			url, title = snap.URL, snap.Title
		}
		out = append(out, TabSummary{TabID: id, URL: url, Title: title, Focused: id == m.focusedTabID})
	}
	return out
}

// FocusedTabID returns the tab the switch_tab tool last selected (or
// the first tab opened, if switch_tab was never called). Closing the
// focused tab moves focus to another open tab, or to none if no tab
// remains.
func (m *Manager) FocusedTabID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.focusedTabID
}

// SwitchTab moves focus to id, failing if no such tab is open.
func (m *Manager) SwitchTab(id string) error {
	if _, err := m.Tab(id); err != nil {
		return err
	}
	m.mu.Lock()
	m.focusedTabID = id
	m.mu.Unlock()
	return nil
}

func (m *Manager) CloseTab(ctx context.Context, id string) error {
	t, err := m.Tab(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.tabs, id)
	if m.focusedTabID == id {
		m.focusedTabID = ""
		for other := range m.tabs {
			m.focusedTabID = other
			break
		}
	}
	m.mu.Unlock()
	return t.Close(ctx)
}

// Snapshot returns tabID's current snapshot rendered in the requested
// form ("text" or "json"), re-taking it only when the tab reports that
// the page changed since the last capture.
func (m *Manager) Snapshot(ctx context.Context, tabID, format string) (string, error) {
	t, err := m.Tab(tabID)
	if err != nil {
		return "", err
	}
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return renderSnapshot(snap, format)
}

// ScrollToRef scrolls tabID's ref into view and returns an offscreen-
// retagged snapshot rendered in format.
func (m *Manager) ScrollToRef(ctx context.Context, tabID string, refID uint32, format string) (string, error) {
	t, err := m.Tab(tabID)
	if err != nil {
		return "", err
	}
	if err := t.ScrollToRef(ctx, refID); err != nil {
		return "", err
	}
	return renderSnapshot(t.Current(), format)
}

// PageDiff compares a tab's previous and current snapshots.
func (m *Manager) PageDiff(tabID string) (string, error) {
	t, err := m.Tab(tabID)
	if err != nil {
		return "", err
	}
	changes := diff.Diff(rootOf(t.Previous()), rootOf(t.Current()))
	return diff.Summary(changes), nil
}

// Filter applies a one-shot task-context filter to a tab's current
// snapshot, without mutating it.
func (m *Manager) Filter(tabID string, focusRoles []role.Role, interactiveOnly bool, tokens []string, maxNodes uint32, format string) (string, error) {
	t, err := m.Tab(tabID)
	if err != nil {
		return "", err
	}
	snap := t.Current()
	filtered := taskctx.Apply(rootOf(snap), taskctx.Filter{
		FocusRoles:      focusRoles,
		InteractiveOnly: interactiveOnly,
		Tokens:          tokens,
		MaxNodes:        maxNodes,
	})
	return renderSnapshot(withRoot(snap, filtered), format)
}

// SetTaskContext persists tc on tabID, consulted by FocusedSnapshot
// until ClearTaskContext is called.
func (m *Manager) SetTaskContext(tabID string, tc taskctx.TaskContext) error {
	t, err := m.Tab(tabID)
	if err != nil {
		return err
	}
	t.SetTaskContext(tc)
	return nil
}

func (m *Manager) ClearTaskContext(tabID string) error {
	t, err := m.Tab(tabID)
	if err != nil {
		return err
	}
	t.ClearTaskContext()
	return nil
}

// FocusedSnapshot renders a tab's current snapshot through its
// persisted task context, or the whole tree if none is set.
func (m *Manager) FocusedSnapshot(tabID, format string) (string, error) {
	t, err := m.Tab(tabID)
	if err != nil {
		return "", err
	}
	snap := t.Current()
	if snap == nil {
		return "", percepterr.New(percepterr.InvalidInput, "no snapshot taken yet, call snapshot first")
	}
	tc := t.TaskContext()
	if tc == nil {
		return renderSnapshot(snap, format)
	}
	filtered := taskctx.Apply(snap.Root, tc.ToFilter())
	return renderSnapshot(withRoot(snap, filtered), format)
}

// Extract binds a JSON Schema's properties to form controls in a tab's
// current snapshot, optionally scoped to selectorRoot.
func (m *Manager) Extract(tabID string, schema *jsonschema.Schema, selectorRoot string) (map[string]any, []error) {
	t, err := m.Tab(tabID)
	if err != nil {
		return nil, []error{err}
	}
	return extractor.Extract(rootOf(t.Current()), schema, selectorRoot)
}

func (m *Manager) WaitForChanges(ctx context.Context, tabID string, timeout time.Duration) (bool, error) {
	t, err := m.Tab(tabID)
	if err != nil {
		return false, err
	}
	return t.WaitForChanges(ctx, timeout)
}

func (m *Manager) SaveAuth(ctx context.Context, tabID, profile string) error {
	t, err := m.Tab(tabID)
	if err != nil {
		return err
	}
	path, err := m.authStore.Path(profile)
	if err != nil {
		return err
	}
	return t.SaveAuthState(ctx, path)
}

func (m *Manager) Record(tabID, recordingName, tool string, input map[string]any) error {
	_, err := m.Tab(tabID)
	if err != nil {
		return err
	}
	return m.recordings.Append(recordingName, store.Step{Tool: tool, Input: input, Timestamp: time.Now()})
}

func (m *Manager) Replay(ctx context.Context, tabID, recordingName string, invoke func(ctx context.Context, tabID, tool string, input map[string]any) (string, error)) ([]string, error) {
	steps, err := m.recordings.Load(recordingName)
	if err != nil {
		return nil, percepterr.Wrap(percepterr.InvalidInput, "load recording failed", err)
	}
	var observations []string
	for _, step := range steps {
		obs, err := invoke(ctx, tabID, step.Tool, step.Input)
		if err != nil {
			return observations, err
		}
		observations = append(observations, obs)
	}
	return observations, nil
}

// Close shuts down every tab the manager owns.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tabs {
		if err := t.Close(ctx); err != nil {
			m.log.Warn().Err(err).Str("tab", id).Msg("close tab failed")
		}
	}
	m.tabs = make(map[string]*Tab)
}

// rootOf returns snap's tree, or nil if snap itself is nil — diff and
// extract both treat a never-snapshotted tab as an empty tree.
func rootOf(snap *PageSnapshot) *semantic.Node {
	if snap == nil {
		return nil
	}
	return snap.Root
}

// withRoot copies snap's page metadata onto a different (e.g. filtered)
// tree, for rendering a derived view through the same header.
func withRoot(snap *PageSnapshot, root *semantic.Node) *PageSnapshot {
	if snap == nil {
		return &PageSnapshot{Root: root}
	}
	cp := *snap
	cp.Root = root
	return &cp
}

func renderSnapshot(snap *PageSnapshot, format string) (string, error) {
	if snap == nil {
		return "", percepterr.New(percepterr.InvalidInput, "no snapshot taken yet, call snapshot first")
	}
	page := serializer.Page{
		URL:            snap.URL,
		Title:          snap.Title,
		ViewportHeight: snap.ViewportHeight,
		ScrollY:        snap.ScrollY,
		DocumentHeight: snap.DocumentHeight,
		Root:           snap.Root,
	}
	switch format {
	case "", "text":
		return serializer.Text(page), nil
	case "json":
		data, err := serializer.JSON(page)
		if err != nil {
			return "", percepterr.Wrap(percepterr.PipelineError, "render JSON failed", err)
		}
		return string(data), nil
	default:
		return "", percepterr.New(percepterr.InvalidInput, fmt.Sprintf("unknown format %q, want text or json", format))
	}
}
