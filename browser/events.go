package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/tabwarden/tabwarden/tabcore"
)

// OnCreated registers a handler for new page targets.
func (c *Client) OnCreated(fn func(tabcore.Tab)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.created = append(c.handlers.created, fn)
}

// OnActivated registers a handler for tab focus changes.
func (c *Client) OnActivated(fn func(tabID int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.activated = append(c.handlers.activated, fn)
}

// OnUpdated registers a handler for navigation / title changes.
func (c *Client) OnUpdated(fn func(tabcore.Tab)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.updated = append(c.handlers.updated, fn)
}

// OnRemoved registers a handler for closed tabs.
func (c *Client) OnRemoved(fn func(tabID int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers.removed = append(c.handlers.removed, fn)
}

// Watch streams lifecycle events to the registered handlers until ctx is
// cancelled. Create, update, and remove map directly onto DevTools target
// events; activation has no browser-level event, so focus is sampled at
// the configured interval and a change of focused tab is synthesized into
// an activation. Blocks; run it in a goroutine.
func (c *Client) Watch(ctx context.Context) {
	go c.pollActivity(ctx)

	wait := c.b.Context(ctx).EachEvent(
		func(e *proto.TargetTargetCreated) {
			if e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			c.mu.Lock()
			entry := c.registerLocked(e.TargetInfo.TargetID, nil)
			fns := c.handlers.created
			c.mu.Unlock()

			tab := tabcore.Tab{ID: entry.id, URL: e.TargetInfo.URL, Title: e.TargetInfo.Title}
			for _, fn := range fns {
				fn(tab)
			}
		},
		func(e *proto.TargetTargetInfoChanged) {
			if e.TargetInfo.Type != proto.TargetTargetInfoTypePage {
				return
			}
			c.mu.Lock()
			entry, ok := c.byTID[e.TargetInfo.TargetID]
			fns := c.handlers.updated
			c.mu.Unlock()
			if !ok {
				return
			}
			tab := tabcore.Tab{ID: entry.id, URL: e.TargetInfo.URL, Title: e.TargetInfo.Title}
			for _, fn := range fns {
				fn(tab)
			}
		},
		func(e *proto.TargetTargetDestroyed) {
			c.mu.Lock()
			entry, ok := c.byTID[e.TargetID]
			if ok {
				delete(c.byTID, e.TargetID)
				delete(c.byID, entry.id)
			}
			fns := c.handlers.removed
			c.mu.Unlock()
			if !ok {
				return
			}
			for _, fn := range fns {
				fn(entry.id)
			}
		},
	)
	wait()
}

// pollActivity samples which tab has focus. Pages that refuse script
// execution (chrome:// and friends) cannot report focus; their
// activations go uncounted, which the statistics layer already tolerates.
func (c *Client) pollActivity(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ActivityPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sampleFocus(ctx)
		}
	}
}

func (c *Client) sampleFocus(ctx context.Context) {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.byID))
	for _, e := range c.byID {
		entries = append(entries, e)
	}
	c.mu.Unlock()

	for _, e := range entries {
		page, err := c.pageFor(e)
		if err != nil {
			continue
		}
		evalCtx, cancel := context.WithTimeout(ctx, time.Second)
		res, err := page.Context(evalCtx).Eval(`() => document.visibilityState === "visible" && document.hasFocus()`)
		cancel()
		if err != nil || !res.Value.Bool() {
			continue
		}

		c.mu.Lock()
		changed := c.activeID != e.id
		c.activeID = e.id
		fns := c.handlers.activated
		c.mu.Unlock()

		if changed {
			for _, fn := range fns {
				fn(e.id)
			}
		}
		return
	}
}
