// Package browser drives a live Chromium tab via playwright-go and
// exposes it as the narrow PageDriver capability the rest of the module
// depends on: navigate, fetch markup, run a script, click/fill/scroll,
// and screenshot. Nothing outside this package imports playwright
// directly.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
)

const (
	defaultNavTimeout   = 30 * time.Second
	defaultActionTime   = 10 * time.Second
	headlessEnv         = "PERCEPT_HEADLESS"
	defaultScrollAmount = 600

	// mutationCounterScript installs (idempotently) a MutationObserver
	// that counts every DOM mutation since the tab was loaded, and
	// returns the running count.
	mutationCounterScript = `(() => {
		if (!window.__perceptMutations) {
			window.__perceptMutations = 0;
			new MutationObserver((muts) => {
				window.__perceptMutations += muts.length;
			}).observe(document.documentElement, {
				childList: true, attributes: true, characterData: true, subtree: true,
			});
		}
		return window.__perceptMutations;
	})()`

	// geometryScript reports the page metadata the serializer header and
	// the task's PageSnapshot need: viewport height, current scroll
	// offset, and total document height.
	geometryScript = `(() => ({
		viewportHeight: window.innerHeight,
		scrollY: window.scrollY,
		documentHeight: document.documentElement.scrollHeight,
	}))()`
)

// Geometry is the page-metrics triple reported by geometryScript.
type Geometry struct {
	ViewportHeight int `json:"viewportHeight"`
	ScrollY        int `json:"scrollY"`
	DocumentHeight int `json:"documentHeight"`
}

// Mark is a ref-numbered element to outline when annotating a
// screenshot; Selector resolves it on the live page.
type Mark struct {
	Ref      uint32
	Selector string
}

// PageDriver is the capability surface the session manager and mutation
// tracker need from a live tab. It hides playwright (and, in principle,
// any other automation backend) behind a small, domain-shaped interface.
type PageDriver interface {
	Close(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string) (string, error)
	MutationCount(ctx context.Context) (int64, error)

	Click(ctx context.Context, selector string) error
	ClickByCoordinates(ctx context.Context, x, y float64) error
	ClickByTextFuzzy(ctx context.Context, text string) error
	Fill(ctx context.Context, selector, text string) error
	Select(ctx context.Context, selector, value string) error
	Scroll(ctx context.Context, direction string, distance int) error
	ScrollToElement(ctx context.Context, selector string) error
	WaitFor(ctx context.Context, selector string, timeout time.Duration) error

	// Geometry reports viewport height, scroll offset, and document
	// height, for the serializer header and PageSnapshot metadata.
	Geometry(ctx context.Context) (Geometry, error)
	// VisibilityFlags reports, for each selector in order, whether the
	// element it resolves to currently falls outside the viewport —
	// cheap enough to call after a scroll without a full re-pipeline.
	VisibilityFlags(ctx context.Context, selectors []string) ([]bool, error)

	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	ScreenshotAnnotated(ctx context.Context, marks []Mark) ([]byte, error)
	SaveState(ctx context.Context, path string) error
	URL() string
	Title() string
}

// Launcher owns the playwright and browser process lifecycle; one
// Launcher backs every tab a session opens.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
	attached bool // true when Close should leave the remote browser process running
}

func NewLauncher(ctx context.Context) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	headless := parseBoolEnv(headlessEnv, true)
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser, headless: headless}, nil
}

// NewTab opens a fresh tab, optionally restoring storage state (cookies,
// local storage) from a prior SaveState call.
func (l *Launcher) NewTab(ctx context.Context, storageStatePath string) (PageDriver, error) {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if strings.TrimSpace(storageStatePath) != "" {
		opts.StorageStatePath = playwright.String(storageStatePath)
	}
	bctx, err := l.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))
	return &driver{context: bctx, page: page}, nil
}

// NewLauncherFromCDP attaches to an already-running Chrome instance that
// exposes its DevTools Protocol endpoint on port, instead of launching a
// fresh browser process — the CLI's `--port N` mode.
func NewLauncherFromCDP(ctx context.Context, port int) (*Launcher, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	endpoint := fmt.Sprintf("http://127.0.0.1:%d", port)
	browser, err := pw.Chromium.ConnectOverCDP(endpoint)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("connect over CDP to %s: %w", endpoint, err)
	}
	return &Launcher{pw: pw, browser: browser, headless: true, attached: true}, nil
}

func (l *Launcher) Close() error {
	// An attached launcher doesn't own the remote browser process; only
	// disconnect the CDP session, leaving Chrome running.
	if l.browser != nil && !l.attached {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

type driver struct {
	context playwright.BrowserContext
	page    playwright.Page
}

func (d *driver) URL() string   { return d.page.URL() }
func (d *driver) Title() string { t, _ := d.page.Title(); return t }

func (d *driver) Close(ctx context.Context) error {
	_ = ctx
	if d.page != nil {
		_ = d.page.Close()
	}
	if d.context != nil {
		return d.context.Close()
	}
	return nil
}

func (d *driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
	})
	return wrap(err)
}

func (d *driver) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := d.page.Content()
	return html, wrap(err)
}

func (d *driver) Evaluate(ctx context.Context, script string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	result, err := d.page.Evaluate(script)
	if err != nil {
		return "", wrap(err)
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal eval result: %w", err)
	}
	return string(encoded), nil
}

func (d *driver) MutationCount(ctx context.Context) (int64, error) {
	raw, err := d.Evaluate(ctx, mutationCounterScript)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse mutation count %q: %w", raw, err)
	}
	return n, nil
}

func (d *driver) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := d.page.Locator(selector)
	first := loc.First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{State: playwright.WaitForSelectorStateVisible}); err != nil {
		return wrap(err)
	}
	_ = first.ScrollIntoViewIfNeeded()
	return wrap(first.Click())
}

// ClickByCoordinates clicks at the given viewport coordinates. No caller
// in this module uses it.
func (d *driver) ClickByCoordinates(ctx context.Context, x, y float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(d.page.Mouse().Click(x, y))
}

// ClickByTextFuzzy clicks the first visible element whose text partially
// matches text; the session's Click uses it as its fallback when a ref's
// selector fails.
func (d *driver) ClickByTextFuzzy(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := d.page.GetByText(text, playwright.PageGetByTextOptions{Exact: playwright.Bool(false)})
	first := loc.First()
	if err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(5000),
	}); err != nil {
		return wrap(err)
	}
	_ = first.ScrollIntoViewIfNeeded()
	return wrap(first.Click())
}

func (d *driver) Fill(ctx context.Context, selector, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := d.page.Locator(selector)
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{State: playwright.WaitForSelectorStateVisible}); err != nil {
		return wrap(err)
	}
	return wrap(loc.Fill(text))
}

func (d *driver) Select(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	loc := d.page.Locator(selector)
	if err := loc.WaitFor(playwright.LocatorWaitForOptions{State: playwright.WaitForSelectorStateVisible}); err != nil {
		return wrap(err)
	}
	_, err := loc.SelectOption(playwright.SelectOptionValues{Values: playwright.StringSlice(value)})
	return wrap(err)
}

func (d *driver) Scroll(ctx context.Context, direction string, distance int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if distance == 0 {
		distance = defaultScrollAmount
	}
	move := distance
	switch strings.ToLower(direction) {
	case "up", "north":
		move = -distance
	case "top":
		_, err := d.page.Evaluate("window.scrollTo(0,0);")
		return wrap(err)
	case "bottom":
		_, err := d.page.Evaluate("window.scrollTo(0, document.body.scrollHeight);")
		return wrap(err)
	case "page_down":
		move = distance * 2
	case "page_up":
		move = -distance * 2
	}
	_, err := d.page.Evaluate(fmt.Sprintf("window.scrollBy(0,%d);", move))
	return wrap(err)
}

func (d *driver) ScrollToElement(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(d.page.Locator(selector).First().ScrollIntoViewIfNeeded())
}

func (d *driver) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = defaultActionTime
	}
	return wrap(d.page.Locator(selector).WaitFor(playwright.LocatorWaitForOptions{
		Timeout: playwright.Float(timeout.Seconds() * 1000),
		State:   playwright.WaitForSelectorStateVisible,
	}))
}

func (d *driver) Geometry(ctx context.Context) (Geometry, error) {
	if err := ctx.Err(); err != nil {
		return Geometry{}, err
	}
	raw, err := d.Evaluate(ctx, geometryScript)
	if err != nil {
		return Geometry{}, err
	}
	var g Geometry
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return Geometry{}, fmt.Errorf("parse geometry %q: %w", raw, err)
	}
	return g, nil
}

func (d *driver) VisibilityFlags(ctx context.Context, selectors []string) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(selectors) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(selectors)
	if err != nil {
		return nil, fmt.Errorf("marshal selectors: %w", err)
	}
	script := fmt.Sprintf(`(() => {
		const selectors = %s;
		return selectors.map((sel) => {
			const el = document.querySelector(sel);
			if (!el) return true;
			const r = el.getBoundingClientRect();
			return r.bottom < 0 || r.top > window.innerHeight;
		});
	})()`, string(encoded))
	raw, err := d.Evaluate(ctx, script)
	if err != nil {
		return nil, err
	}
	var flags []bool
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		return nil, fmt.Errorf("parse visibility flags %q: %w", raw, err)
	}
	return flags, nil
}

func (d *driver) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.page.Screenshot(playwright.PageScreenshotOptions{FullPage: playwright.Bool(fullPage)})
}

// ScreenshotAnnotated overlays a red outline and an "@eN" label on each
// mark's element, takes a viewport screenshot, then removes the overlay.
func (d *driver) ScreenshotAnnotated(ctx context.Context, marks []Mark) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type markPair struct {
		Ref uint32 `json:"ref"`
		Sel string `json:"sel"`
	}
	pairs := make([]markPair, len(marks))
	for i, m := range marks {
		pairs[i] = markPair{Ref: m.Ref, Sel: m.Selector}
	}
	encoded, err := json.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("marshal marks: %w", err)
	}
	injectScript := fmt.Sprintf(`(() => {
		const marks = %s;
		const layer = document.createElement('div');
		layer.id = '__percept_overlay';
		layer.style.cssText = 'position:absolute;top:0;left:0;pointer-events:none;z-index:2147483647;';
		for (const m of marks) {
			const el = document.querySelector(m.sel);
			if (!el) continue;
			const r = el.getBoundingClientRect();
			const box = document.createElement('div');
			box.style.cssText = 'position:absolute;left:' + (r.left + window.scrollX) + 'px;top:' +
				(r.top + window.scrollY) + 'px;width:' + r.width + 'px;height:' + r.height +
				'px;border:2px solid red;box-sizing:border-box;';
			const label = document.createElement('span');
			label.textContent = '@e' + m.ref;
			label.style.cssText = 'position:absolute;top:-1.2em;left:0;background:red;color:white;font:10px sans-serif;padding:1px 2px;';
			box.appendChild(label);
			layer.appendChild(box);
		}
		document.body.appendChild(layer);
		return true;
	})()`, string(encoded))
	if _, err := d.Evaluate(ctx, injectScript); err != nil {
		return nil, err
	}
	data, shotErr := d.page.Screenshot(playwright.PageScreenshotOptions{})
	_, _ = d.Evaluate(ctx, `(() => {
		const el = document.getElementById('__percept_overlay');
		if (el) el.remove();
		return true;
	})()`)
	if shotErr != nil {
		return nil, wrap(shotErr)
	}
	return data, nil
}

func (d *driver) SaveState(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := d.context.StorageState()
	if err != nil {
		return wrap(err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal storage: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
