// Package browser owns the Chrome connection, tracks its tabs and attaches
// page scripts to documents whose URL matches the scripts' patterns.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"formdeploy/internal/logging"
	"formdeploy/internal/message"
	"formdeploy/internal/relay"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// ErrNotConnected is returned when no browser connection exists.
var ErrNotConnected = errors.New("browser not connected")

// Tab describes a tracked browser tab.
type Tab struct {
	ID       message.TabID `json:"id"`
	URL      string        `json:"url"`
	Title    string        `json:"title,omitempty"`
	Scripts  []string      `json:"scripts,omitempty"`
	OpenedAt time.Time     `json:"opened_at"`
}

type tabRecord struct {
	meta   Tab
	page   *rod.Page
	gen    uint64
	detach context.CancelFunc
	stop   context.CancelFunc
}

// TabManager owns the Chrome instance and the scripts attached to its tabs.
type TabManager struct {
	cfg Config
	hub *relay.Hub

	mu         sync.RWMutex
	browser    *rod.Browser
	launcher   *launcher.Launcher // nil when attached to an existing browser
	controlURL string
	tabs       map[message.TabID]*tabRecord
	scripts    []Script
	onClosed   []func(message.TabID)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTabManager creates a tab manager that registers script handlers on hub.
func NewTabManager(cfg Config, hub *relay.Hub) *TabManager {
	return &TabManager{
		cfg:  cfg,
		hub:  hub,
		tabs: make(map[message.TabID]*tabRecord),
	}
}

// RegisterScript adds a page script. Scripts apply to documents loaded
// after registration.
func (m *TabManager) RegisterScript(s Script) error {
	if err := s.compile(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, s)
	return nil
}

// OnClosed registers fn to run after a tab is closed.
func (m *TabManager) OnClosed(fn func(message.TabID)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClosed = append(m.onClosed, fn)
}

// Start connects to an existing Chrome or launches a new one.
func (m *TabManager) Start(ctx context.Context) error {
	m.mu.Lock()

	// If we already have a browser, verify it's still alive
	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			m.mu.Unlock()
			return nil
		}
		logging.BrowserWarn("Stale browser connection detected, reconnecting...")
		m.mu.Unlock()
		_ = m.Shutdown(ctx)
		m.mu.Lock()
	}
	defer m.mu.Unlock()

	controlURL, l, err := m.resolveControlURL()
	if err != nil {
		return err
	}

	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	browser := rod.New().ControlURL(controlURL).Context(m.ctx)
	if err := browser.Connect(); err != nil {
		m.cancel()
		if l != nil {
			l.Cleanup()
		}
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.browser = browser
	m.launcher = l
	m.controlURL = controlURL
	logging.Browser("Connected to Chrome at %s", controlURL)

	m.wg.Add(1)
	go m.watchTargets(m.ctx, browser)

	pages, err := browser.Pages()
	if err != nil {
		logging.BrowserWarn("Could not list existing pages: %v", err)
		return nil
	}
	for _, page := range pages {
		m.adoptLocked(page)
	}
	return nil
}

func (m *TabManager) resolveControlURL() (string, *launcher.Launcher, error) {
	if m.cfg.DebuggerURL != "" {
		return m.cfg.DebuggerURL, nil, nil
	}

	l := launcher.New().Headless(m.cfg.Headless)
	if m.cfg.UserDataDir != "" {
		l = l.UserDataDir(m.cfg.UserDataDir)
	}
	if len(m.cfg.Launch) > 0 {
		l = l.Bin(m.cfg.Launch[0])
		for _, rawFlag := range m.cfg.Launch[1:] {
			flagStr := strings.TrimLeft(rawFlag, "-")
			name, val, hasVal := strings.Cut(flagStr, "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
	}

	url, err := l.Launch()
	if err != nil {
		return "", nil, fmt.Errorf("no debugger_url and failed to launch: %w", err)
	}
	return url, l, nil
}

func (m *TabManager) ensureStarted(ctx context.Context) error {
	m.mu.RLock()
	if m.browser != nil {
		m.mu.RUnlock()
		return nil
	}
	m.mu.RUnlock()
	return m.Start(ctx)
}

// ControlURL returns the WebSocket debugger URL.
func (m *TabManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *TabManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown detaches every script. A launched browser is closed; a browser
// we only connected to is left running.
func (m *TabManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for id, rec := range m.tabs {
		m.detachLocked(rec)
		if rec.stop != nil {
			rec.stop()
		}
		delete(m.tabs, id)
	}
	browser, l, cancel := m.browser, m.launcher, m.cancel
	m.browser, m.launcher, m.controlURL = nil, nil, ""
	m.mu.Unlock()

	var err error
	if browser != nil && l != nil {
		err = browser.Close()
		l.Cleanup()
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	logging.Browser("Browser shutdown complete")
	return err
}

// List returns all tracked tabs in the order they were first seen.
func (m *TabManager) List() []Tab {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Tab, 0, len(m.tabs))
	for _, rec := range m.tabs {
		results = append(results, rec.meta)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].OpenedAt.Before(results[j].OpenedAt)
	})
	return results
}

// Query returns tracked tabs whose URL matches the match pattern.
func (m *TabManager) Query(ctx context.Context, pattern string) ([]Tab, error) {
	p, err := ParseMatchPattern(pattern)
	if err != nil {
		return nil, err
	}
	var out []Tab
	for _, tab := range m.List() {
		if p.Match(tab.URL) {
			out = append(out, tab)
		}
	}
	return out, nil
}

// OpenTab opens url in a new tab of the default browser context, so the
// user's existing logins apply.
func (m *TabManager) OpenTab(ctx context.Context, url string) (Tab, error) {
	if err := m.ensureStarted(ctx); err != nil {
		return Tab{}, err
	}
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return Tab{}, ErrNotConnected
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return Tab{}, fmt.Errorf("create page: %w", err)
	}

	if m.cfg.Headless {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             m.cfg.GetViewportWidth(),
			Height:            m.cfg.GetViewportHeight(),
			DeviceScaleFactor: 1.0,
		}).Call(page); err != nil {
			logging.BrowserWarn("failed to set viewport: %v", err)
		}
	}

	m.mu.Lock()
	rec := m.adoptLocked(page)
	if rec.meta.URL == "" || rec.meta.URL == "about:blank" {
		rec.meta.URL = url
	}
	meta := rec.meta
	m.mu.Unlock()

	logging.Browser("Opened tab %s -> %s", meta.ID, url)
	return meta, nil
}

// adoptLocked starts tracking page unless it is already tracked.
func (m *TabManager) adoptLocked(page *rod.Page) *tabRecord {
	id := message.TabID(page.TargetID)
	if rec, ok := m.tabs[id]; ok {
		return rec
	}

	tabCtx, stop := context.WithCancel(m.ctx)
	rec := &tabRecord{
		meta: Tab{ID: id, OpenedAt: time.Now()},
		page: page.Context(tabCtx),
		stop: stop,
	}
	if info, err := page.Info(); err == nil {
		rec.meta.URL = info.URL
		rec.meta.Title = info.Title
	}
	m.tabs[id] = rec

	m.wg.Add(1)
	go m.watchTab(tabCtx, rec)
	return rec
}

func (m *TabManager) trackTarget(id proto.TargetTargetID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browser == nil {
		return
	}
	if _, ok := m.tabs[message.TabID(id)]; ok {
		return
	}
	page, err := m.browser.PageFromTarget(id)
	if err != nil {
		logging.BrowserDebug("Could not attach to target %s: %v", id, err)
		return
	}
	m.adoptLocked(page)
}

func (m *TabManager) untrack(id message.TabID) {
	m.mu.Lock()
	rec, ok := m.tabs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.tabs, id)
	m.detachLocked(rec)
	if rec.stop != nil {
		rec.stop()
	}
	callbacks := append([]func(message.TabID){}, m.onClosed...)
	m.mu.Unlock()

	logging.Browser("Tab %s closed", id)
	for _, fn := range callbacks {
		fn(id)
	}
}

// watchTargets follows tab creation and destruction across the browser.
func (m *TabManager) watchTargets(ctx context.Context, browser *rod.Browser) {
	defer m.wg.Done()

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(browser); err != nil {
		logging.BrowserWarn("Target discovery unavailable: %v", err)
	}

	wait := browser.Context(ctx).EachEvent(
		func(ev *proto.TargetTargetCreated) {
			if string(ev.TargetInfo.Type) != "page" {
				return
			}
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.trackTarget(ev.TargetInfo.TargetID)
			}()
		},
		func(ev *proto.TargetTargetInfoChanged) {
			id := message.TabID(ev.TargetInfo.TargetID)
			m.mu.Lock()
			if rec, ok := m.tabs[id]; ok {
				rec.meta.URL = ev.TargetInfo.URL
				rec.meta.Title = ev.TargetInfo.Title
			}
			m.mu.Unlock()
		},
		func(ev *proto.TargetTargetDestroyed) {
			m.untrack(message.TabID(ev.TargetID))
		},
	)
	wait()
}

// watchTab attaches scripts to every new main-frame document of a tab.
func (m *TabManager) watchTab(ctx context.Context, rec *tabRecord) {
	defer m.wg.Done()
	id := rec.meta.ID

	wait := rec.page.EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame.ParentID != "" {
			return
		}
		m.navigated(ctx, id, ev.Frame.URL)
	})

	if info, err := rec.page.Info(); err == nil {
		m.navigated(ctx, id, info.URL)
	}
	wait()
}

// navigated re-evaluates scripts for the tab's current document. The
// document is marked on first sight, so repeated notifications for the same
// load attach only once.
func (m *TabManager) navigated(ctx context.Context, id message.TabID, url string) {
	m.mu.Lock()
	rec, ok := m.tabs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	rec.meta.URL = url
	page := rec.page
	var matching []Script
	for _, s := range m.scripts {
		if s.MatchesURL(url) {
			matching = append(matching, s)
		}
	}
	m.mu.Unlock()

	fresh, err := markDocument(page.Timeout(m.cfg.NavigationTimeout()))
	if err != nil {
		logging.BrowserDebug("Tab %s: could not mark document %s: %v", id, url, err)
		return
	}
	if !fresh {
		return
	}

	m.mu.Lock()
	m.detachLocked(rec)
	gen := rec.gen
	meta := rec.meta
	m.mu.Unlock()

	if len(matching) == 0 {
		return
	}

	m.attach(ctx, rec, gen, ScriptContext{Tab: meta, Page: page, Hub: m.hub}, matching)
}

// attach binds scripts to the document of generation gen. The tab's
// handler is registered before any script starts.
func (m *TabManager) attach(ctx context.Context, rec *tabRecord, gen uint64, sc ScriptContext, scripts []Script) {
	scriptCtx, cancel := context.WithCancel(ctx)
	b := bindScripts(scriptCtx, sc, scripts)
	if !m.install(rec, gen, b, cancel) {
		cancel()
		return
	}
	b.start(scriptCtx)
	logging.Browser("Tab %s: attached %v to %s", sc.Tab.ID, b.names, sc.Tab.URL)
}

// install makes a binding current for the tab's document and registers its
// handler. It reports false when the document was replaced meanwhile.
func (m *TabManager) install(rec *tabRecord, gen uint64, b binding, cancel context.CancelFunc) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.tabs[rec.meta.ID]; !ok || cur != rec || rec.gen != gen {
		return false
	}
	rec.detach = cancel
	rec.meta.Scripts = b.names
	if b.handler != nil {
		m.hub.Register(rec.meta.ID, b.handler)
	}
	return true
}

// detachLocked cancels the scripts of the tab's previous document.
func (m *TabManager) detachLocked(rec *tabRecord) {
	rec.gen++
	rec.meta.Scripts = nil
	if rec.detach != nil {
		rec.detach()
		rec.detach = nil
		m.hub.Unregister(rec.meta.ID)
	}
}

// markDocument tags the current document and reports whether it was
// untagged before.
func markDocument(page *rod.Page) (bool, error) {
	res, err := page.Eval(`() => {
		if (window.__formdeployAttached) return false;
		window.__formdeployAttached = true;
		return true;
	}`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}
