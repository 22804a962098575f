package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/percept/internal/browser"
	"github.com/polzovatel/percept/internal/dom"
	"github.com/polzovatel/percept/internal/mutation"
	"github.com/polzovatel/percept/internal/percepterr"
	"github.com/polzovatel/percept/internal/pipeline"
	"github.com/polzovatel/percept/internal/ref"
	"github.com/polzovatel/percept/internal/semantic"
	"github.com/polzovatel/percept/internal/taskctx"
)

// State is a Tab's position in its lifecycle.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateLoaded
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PageSnapshot is the unit of state a tab caches between tool calls: the
// serializable semantic tree plus the page metadata the serializer
// header and the diff/extract/filter tools need alongside it.
type PageSnapshot struct {
	URL            string
	Title          string
	ViewportHeight int
	ScrollY        int
	DocumentHeight int
	Root           *semantic.Node
	RefIndex       ref.Index
	DomHash        uint64
}

// Tab is one browser tab plus the most recent two snapshots of it.
// Every operation on a Tab holds its own mutex, so two different tabs
// can be driven concurrently while same-tab calls serialize in arrival
// order.
type Tab struct {
	ID     string
	driver browser.PageDriver
	log    zerolog.Logger

	mu          sync.Mutex
	state       State
	current     *PageSnapshot
	previous    *PageSnapshot
	tracker     *mutation.Tracker
	taskContext *taskctx.TaskContext
}

func newTab(driver browser.PageDriver, log zerolog.Logger) *Tab {
	t := &Tab{
		ID:     uuid.NewString(),
		driver: driver,
		log:    log,
		state:  StateEmpty,
	}
	t.tracker = mutation.New(driverCounter{t})
	return t
}

// driverCounter adapts Tab's own driver field to mutation.Counter
// without exposing the driver to callers outside the package.
type driverCounter struct{ t *Tab }

func (c driverCounter) MutationCount(ctx context.Context) (int64, error) {
	return c.t.driver.MutationCount(ctx)
}

func (t *Tab) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateLoading
	if err := t.driver.Navigate(ctx, url); err != nil {
		t.state = StateEmpty
		return percepterr.Wrap(percepterr.DriverError, "navigate failed", err)
	}
	// A navigated page is never the one current/previous were captured
	// on; the next call must re-snapshot rather than reuse stale refs.
	t.current = nil
	t.previous = nil
	t.state = StateLoaded
	return nil
}

// Snapshot returns the tab's current PageSnapshot, taking a fresh one
// only if the mutation tracker and dom_hash show the page actually
// changed since the last capture — the cache short-circuit spec §4.8's
// snapshot(tab?) contract requires.
func (t *Tab) Snapshot(ctx context.Context) (*PageSnapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(ctx)
}

func (t *Tab) snapshotLocked(ctx context.Context) (*PageSnapshot, error) {
	if cached, ok, err := t.cachedLocked(ctx); err != nil {
		t.log.Warn().Err(err).Msg("cache check failed, re-snapshotting")
	} else if ok {
		return cached, nil
	}
	return t.refreshLocked(ctx)
}

// cachedLocked reports whether t.current is still valid: the mutation
// counter hasn't ticked since it was captured, and a fresh dom_hash of
// the live markup still matches the one recorded with it. Both must
// agree — the counter alone (reported via the tracker) can miss
// mutations a script never recorded, and the hash alone can't tell a
// quiet script from a live one.
func (t *Tab) cachedLocked(ctx context.Context) (*PageSnapshot, bool, error) {
	if t.current == nil {
		return nil, false, nil
	}
	changed, _, err := t.tracker.Poll(ctx)
	if err != nil {
		return nil, false, err
	}
	if changed {
		return nil, false, nil
	}
	html, err := t.driver.HTML(ctx)
	if err != nil {
		return nil, false, err
	}
	if xxhash.Sum64String(html) != t.current.DomHash {
		return nil, false, nil
	}
	return t.current, true, nil
}

func (t *Tab) refreshLocked(ctx context.Context) (*PageSnapshot, error) {
	html, err := t.driver.HTML(ctx)
	if err != nil {
		return nil, percepterr.Wrap(percepterr.DriverError, "fetch HTML failed", err)
	}
	root, err := dom.ParseString(html)
	if err != nil {
		return nil, percepterr.Wrap(percepterr.ParseError, "parse HTML failed", err)
	}

	var prior ref.PriorIndex
	if t.current != nil {
		prior = ref.BuildPrior(t.current.Root)
	}
	hasPriorRef := func(k semantic.StableKey) bool {
		if prior == nil {
			return false
		}
		_, ok := prior[k]
		return ok
	}

	sem := pipeline.Run(root, hasPriorRef)
	_, index := ref.Allocate(sem, prior)

	geom, err := t.driver.Geometry(ctx)
	if err != nil {
		t.log.Warn().Err(err).Msg("geometry read failed")
	}

	snap := &PageSnapshot{
		URL:            t.driver.URL(),
		Title:          t.driver.Title(),
		ViewportHeight: geom.ViewportHeight,
		ScrollY:        geom.ScrollY,
		DocumentHeight: geom.DocumentHeight,
		Root:           sem,
		RefIndex:       index,
		DomHash:        xxhash.Sum64String(html),
	}

	t.previous = t.current
	t.current = snap
	t.state = StateLoaded
	if err := t.tracker.Observe(ctx); err != nil {
		t.log.Warn().Err(err).Msg("mutation observe failed")
	}
	return snap, nil
}

func (t *Tab) Current() *PageSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tab) Previous() *PageSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.previous
}

// ResolveRef maps an @eN handle back to a live node from the most recent
// snapshot.
func (t *Tab) ResolveRef(refID uint32) (*semantic.Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolveRefLocked(refID)
}

func (t *Tab) resolveRefLocked(refID uint32) (*semantic.Node, error) {
	if t.current == nil {
		return nil, percepterr.New(percepterr.UnknownRef, fmt.Sprintf("no element with ref @e%d in the current snapshot", refID))
	}
	n, ok := t.current.RefIndex[refID]
	if !ok {
		return nil, percepterr.New(percepterr.UnknownRef, fmt.Sprintf("no element with ref @e%d in the current snapshot", refID))
	}
	return n, nil
}

func (t *Tab) selector(n *semantic.Node) string {
	switch {
	case n.Locator.ID != "":
		return "#" + cssEscape(n.Locator.ID)
	case n.Locator.Name != "":
		return fmt.Sprintf("%s[name=%q]", n.Locator.Tag, n.Locator.Name)
	case n.Name != "":
		return fmt.Sprintf("%s:has-text(%q)", n.Locator.Tag, n.Name)
	default:
		return n.Locator.Tag
	}
}

func cssEscape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

// Click resolves refID and clicks it; if the primary selector fails and
// the node has an accessible name, it retries once with a fuzzy text
// match. No coordinate-based fallback is attempted.
func (t *Tab) Click(ctx context.Context, refID uint32) error {
	t.mu.Lock()
	n, err := t.resolveRefLocked(refID)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	sel := t.selector(n)
	err = t.driver.Click(ctx, sel)
	if err == nil {
		return nil
	}
	if n.Name != "" {
		if fuzzyErr := t.driver.ClickByTextFuzzy(ctx, n.Name); fuzzyErr == nil {
			return nil
		}
	}
	return percepterr.Wrap(percepterr.ElementStale, fmt.Sprintf("ref @e%d no longer resolves on the live page", refID), err)
}

func (t *Tab) Type(ctx context.Context, refID uint32, text string) error {
	t.mu.Lock()
	n, err := t.resolveRefLocked(refID)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if err := t.driver.Fill(ctx, t.selector(n), text); err != nil {
		return percepterr.Wrap(percepterr.ElementStale, fmt.Sprintf("ref @e%d no longer resolves on the live page", refID), err)
	}
	return nil
}

func (t *Tab) Select(ctx context.Context, refID uint32, value string) error {
	t.mu.Lock()
	n, err := t.resolveRefLocked(refID)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if err := t.driver.Select(ctx, t.selector(n), value); err != nil {
		return percepterr.Wrap(percepterr.ElementStale, fmt.Sprintf("ref @e%d no longer resolves on the live page", refID), err)
	}
	return nil
}

// Scroll adjusts scroll position via the driver, then re-tags offscreen
// flags on the current snapshot's interactive nodes from fresh geometry
// — it never re-runs the pipeline.
func (t *Tab) Scroll(ctx context.Context, direction string, distance int) error {
	if err := t.driver.Scroll(ctx, direction, distance); err != nil {
		return percepterr.Wrap(percepterr.DriverError, "scroll failed", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.retagOffscreenLocked(ctx); err != nil {
		t.log.Warn().Err(err).Msg("offscreen retag failed")
	}
	return nil
}

// ScrollToRef scrolls refID's element into view and retags offscreen
// flags the same way Scroll does.
func (t *Tab) ScrollToRef(ctx context.Context, refID uint32) error {
	t.mu.Lock()
	n, err := t.resolveRefLocked(refID)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if err := t.driver.ScrollToElement(ctx, t.selector(n)); err != nil {
		return percepterr.Wrap(percepterr.DriverError, "scroll to ref failed", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.retagOffscreenLocked(ctx); err != nil {
		t.log.Warn().Err(err).Msg("offscreen retag failed")
	}
	return nil
}

// retagOffscreenLocked refreshes the current snapshot's viewport
// metadata and each interactive node's offscreen flag from live
// geometry, without touching anything else about the tree — the cheap
// alternative to a full re-snapshot after a pure scroll.
func (t *Tab) retagOffscreenLocked(ctx context.Context) error {
	if t.current == nil {
		return nil
	}
	if geom, err := t.driver.Geometry(ctx); err == nil {
		t.current.ViewportHeight = geom.ViewportHeight
		t.current.ScrollY = geom.ScrollY
		t.current.DocumentHeight = geom.DocumentHeight
	}
	if len(t.current.RefIndex) == 0 {
		return nil
	}
	nodes := make([]*semantic.Node, 0, len(t.current.RefIndex))
	selectors := make([]string, 0, len(t.current.RefIndex))
	for _, n := range t.current.RefIndex {
		nodes = append(nodes, n)
		selectors = append(selectors, t.selector(n))
	}
	flags, err := t.driver.VisibilityFlags(ctx, selectors)
	if err != nil {
		return percepterr.Wrap(percepterr.DriverError, "visibility check failed", err)
	}
	for i, n := range nodes {
		if i < len(flags) {
			n.SetFlag(semantic.FlagOffscreen, flags[i])
		}
	}
	return nil
}

func (t *Tab) Screenshot(ctx context.Context, fullPage, annotate bool) ([]byte, error) {
	var data []byte
	var err error
	if annotate {
		t.mu.Lock()
		var marks []browser.Mark
		if t.current != nil {
			for id, n := range t.current.RefIndex {
				marks = append(marks, browser.Mark{Ref: id, Selector: t.selector(n)})
			}
		}
		t.mu.Unlock()
		data, err = t.driver.ScreenshotAnnotated(ctx, marks)
	} else {
		data, err = t.driver.Screenshot(ctx, fullPage)
	}
	if err != nil {
		return nil, percepterr.Wrap(percepterr.DriverError, "screenshot failed", err)
	}
	return data, nil
}

func (t *Tab) SaveAuthState(ctx context.Context, path string) error {
	if err := t.driver.SaveState(ctx, path); err != nil {
		return percepterr.Wrap(percepterr.DriverError, "save auth state failed", err)
	}
	return nil
}

// WaitForChanges blocks until the tab's mutation counter moves, ctx
// ends, or timeout elapses.
func (t *Tab) WaitForChanges(ctx context.Context, timeout time.Duration) (bool, error) {
	changed, err := t.tracker.WaitForChanges(ctx, timeout, 200*time.Millisecond)
	if err != nil {
		return false, percepterr.Wrap(percepterr.DriverError, "wait for changes failed", err)
	}
	return changed, nil
}

// SetTaskContext persists a TaskContext on the tab, consulted by
// FocusedSnapshot until cleared.
func (t *Tab) SetTaskContext(tc taskctx.TaskContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskContext = &tc
}

func (t *Tab) ClearTaskContext() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.taskContext = nil
}

func (t *Tab) TaskContext() *taskctx.TaskContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.taskContext
}

func (t *Tab) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateClosed
	return t.driver.Close(ctx)
}
