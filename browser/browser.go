// Package browser adapts a running Chromium-family browser (reached over
// the DevTools protocol with rod) to the interfaces the rest of the module
// consumes: the live tab list, tab commands (focus, close), the lifecycle
// event stream, and the in-tab DOM-census probe.
//
// DevTools identifies tabs by opaque target IDs; this package assigns each
// target a small integer ID, stable for the lifetime of the connection, so
// stat records key cleanly.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/tabwarden/tabwarden/tabcore"
)

// Config for connecting to a browser.
type Config struct {
	// ControlURL is the DevTools endpoint, e.g. "http://127.0.0.1:9222"
	// or a ws:// URL.
	ControlURL string
	// ActivityPollInterval is how often focus is sampled to synthesize
	// activation events. Default: 2s.
	ActivityPollInterval time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.ActivityPollInterval <= 0 {
		c.ActivityPollInterval = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client is a connected browser.
type Client struct {
	b   *rod.Browser
	cfg Config

	mu       sync.Mutex
	nextID   int
	byTID    map[proto.TargetTargetID]*entry
	byID     map[int]*entry
	activeID int // last tab reported focused, 0 = none

	handlers handlers
}

type entry struct {
	id   int
	tid  proto.TargetTargetID
	page *rod.Page
}

type handlers struct {
	created   []func(tabcore.Tab)
	activated []func(int)
	updated   []func(tabcore.Tab)
	removed   []func(int)
}

// Connect attaches to the browser at cfg.ControlURL. It never launches a
// browser of its own; tabwarden observes the user's session.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	cfg.defaults()

	u := cfg.ControlURL
	if !strings.HasPrefix(u, "ws") {
		resolved, err := launcher.ResolveURL(u)
		if err != nil {
			return nil, fmt.Errorf("browser: resolve %s: %w", u, err)
		}
		u = resolved
	}

	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect %s: %w", u, err)
	}

	c := &Client{
		b:     b,
		cfg:   cfg,
		byTID: make(map[proto.TargetTargetID]*entry),
		byID:  make(map[int]*entry),
	}
	if err := c.seed(); err != nil {
		return nil, err
	}
	return c, nil
}

// seed registers every already-open page so IDs exist before the first
// event arrives.
func (c *Client) seed() error {
	pages, err := c.b.Pages()
	if err != nil {
		return fmt.Errorf("browser: list pages: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range pages {
		c.registerLocked(p.TargetID, p)
	}
	return nil
}

// registerLocked assigns (or returns) the integer ID for a target.
func (c *Client) registerLocked(tid proto.TargetTargetID, page *rod.Page) *entry {
	if e, ok := c.byTID[tid]; ok {
		if e.page == nil {
			e.page = page
		}
		return e
	}
	c.nextID++
	e := &entry{id: c.nextID, tid: tid, page: page}
	c.byTID[tid] = e
	c.byID[e.id] = e
	return e
}

func (c *Client) entryByID(id int) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id]
	return e, ok
}

// pageFor returns the rod page for an entry, attaching lazily when the
// target was discovered through an event rather than Pages().
func (c *Client) pageFor(e *entry) (*rod.Page, error) {
	c.mu.Lock()
	page := e.page
	c.mu.Unlock()
	if page != nil {
		return page, nil
	}
	page, err := c.b.PageFromTarget(e.tid)
	if err != nil {
		return nil, fmt.Errorf("browser: attach target %s: %w", e.tid, err)
	}
	c.mu.Lock()
	e.page = page
	c.mu.Unlock()
	return page, nil
}

// QueryAllTabs lists the currently open page targets.
func (c *Client) QueryAllTabs(ctx context.Context) ([]tabcore.Tab, error) {
	pages, err := c.b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("browser: list pages: %w", err)
	}

	tabs := make([]tabcore.Tab, 0, len(pages))
	for _, p := range pages {
		c.mu.Lock()
		e := c.registerLocked(p.TargetID, p)
		c.mu.Unlock()

		info, err := p.Context(ctx).Info()
		if err != nil {
			c.cfg.Logger.Debug("browser: page info failed", "target", p.TargetID, "error", err)
			continue
		}
		tabs = append(tabs, tabcore.Tab{
			ID:       e.id,
			URL:      info.URL,
			Title:    info.Title,
			WindowID: c.windowOf(ctx, p),
		})
	}
	return tabs, nil
}

func (c *Client) windowOf(ctx context.Context, p *rod.Page) int {
	res, err := proto.BrowserGetWindowForTarget{}.Call(p.Context(ctx))
	if err != nil {
		return 0
	}
	return int(res.WindowID)
}

// FocusTab brings the tab to the front of its window.
func (c *Client) FocusTab(ctx context.Context, id int) error {
	e, ok := c.entryByID(id)
	if !ok {
		return fmt.Errorf("browser: no tab %d", id)
	}
	page, err := c.pageFor(e)
	if err != nil {
		return err
	}
	if _, err := page.Context(ctx).Activate(); err != nil {
		return fmt.Errorf("browser: focus tab %d: %w", id, err)
	}
	return nil
}

// FocusWindow focuses a window by raising any of its tabs.
func (c *Client) FocusWindow(ctx context.Context, windowID int) error {
	tabs, err := c.QueryAllTabs(ctx)
	if err != nil {
		return err
	}
	for _, t := range tabs {
		if t.WindowID == windowID {
			return c.FocusTab(ctx, t.ID)
		}
	}
	return fmt.Errorf("browser: no window %d", windowID)
}

// CloseTabs closes the given tabs. Failures are collected, not
// short-circuited: closing nine of ten requested tabs beats closing four.
func (c *Client) CloseTabs(ctx context.Context, ids []int) error {
	var firstErr error
	for _, id := range ids {
		e, ok := c.entryByID(id)
		if !ok {
			continue
		}
		page, err := c.pageFor(e)
		if err == nil {
			err = page.Context(ctx).Close()
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("browser: close tab %d: %w", id, err)
		}
	}
	return firstErr
}

// Close disconnects from the browser without closing it.
func (c *Client) Close() error {
	return c.b.Close()
}
