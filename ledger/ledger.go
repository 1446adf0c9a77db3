// Package ledger maintains the per-tab usage records in response to the
// host browser's lifecycle events: create, activate, update, remove, plus
// an on-demand bulk resync for tabs that predate tracking.
//
// Events are processed by a single worker goroutine draining a queue, so
// each event's full read-merge-write completes before the next one starts.
// That queue discipline, not locking, is what guarantees rapid successive
// events never lose updates against the shared durable bundle.
package ledger

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/tabwarden/tabwarden/store"
	"github.com/tabwarden/tabwarden/tabcore"
)

// Events is the lifecycle subscription surface of the host-environment
// adapter. Attach registers the ledger's handlers against it; tests drive
// the ledger directly with scripted event sequences instead.
type Events interface {
	OnCreated(func(tab tabcore.Tab))
	OnActivated(func(tabID int))
	OnUpdated(func(tab tabcore.Tab))
	OnRemoved(func(tabID int))
}

// Config tunes a Ledger. Zero values take defaults.
type Config struct {
	Logger *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
	// QueueSize is the event buffer length. Default: 256.
	QueueSize int
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
}

type eventKind int

const (
	evCreate eventKind = iota
	evActivate
	evUpdate
	evRemove
	evResync
	evDrain
)

type event struct {
	kind  eventKind
	at    time.Time
	tab   tabcore.Tab
	tabID int
	tabs  []tabcore.Tab
	done  chan struct{} // evDrain only
}

// Ledger applies lifecycle events to the durable bundle through the
// persistence gateway.
type Ledger struct {
	gw  *store.Gateway
	cfg Config

	queue chan event

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
}

// New creates a Ledger over the gateway. Call Start before feeding events.
func New(gw *store.Gateway, cfg Config) *Ledger {
	cfg.defaults()
	return &Ledger{
		gw:      gw,
		cfg:     cfg,
		queue:   make(chan event, cfg.QueueSize),
		stopped: make(chan struct{}),
	}
}

// Start launches the worker goroutine. It runs until ctx is cancelled or
// Close is called.
func (l *Ledger) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		go l.run(ctx)
	})
}

// Close stops accepting events and waits for the queue to drain.
func (l *Ledger) Close() {
	l.stopOnce.Do(func() {
		close(l.queue)
		<-l.stopped
	})
}

// Attach registers the ledger's handlers on a lifecycle event source.
func (l *Ledger) Attach(src Events) {
	src.OnCreated(l.TabCreated)
	src.OnActivated(l.TabActivated)
	src.OnUpdated(l.TabUpdated)
	src.OnRemoved(l.TabRemoved)
}

// TabCreated records a newly created tab.
func (l *Ledger) TabCreated(tab tabcore.Tab) {
	l.enqueue(event{kind: evCreate, tab: tab})
}

// TabActivated records an activation of tabID.
func (l *Ledger) TabActivated(tabID int) {
	l.enqueue(event{kind: evActivate, tabID: tabID})
}

// TabUpdated records a navigation or title change.
func (l *Ledger) TabUpdated(tab tabcore.Tab) {
	l.enqueue(event{kind: evUpdate, tab: tab})
}

// TabRemoved records the removal of tabID.
func (l *Ledger) TabRemoved(tabID int) {
	l.enqueue(event{kind: evRemove, tabID: tabID})
}

// ResyncAll seeds a stat record for every currently-open tab that lacks
// one. Used at startup so tabs that predate tracking are counted; their
// createdAt is necessarily "now", a known accuracy limitation.
func (l *Ledger) ResyncAll(tabs []tabcore.Tab) {
	l.enqueue(event{kind: evResync, tabs: tabs})
}

// Drain blocks until every event enqueued before it has been fully
// processed. Tests use it to assert on final state deterministically.
func (l *Ledger) Drain() {
	done := make(chan struct{})
	l.enqueue(event{kind: evDrain, done: done})
	<-done
}

func (l *Ledger) enqueue(ev event) {
	ev.at = l.cfg.Now()
	defer func() {
		// Enqueue after Close is a no-op, not a panic: late browser
		// callbacks may still fire during shutdown.
		if recover() != nil && ev.done != nil {
			close(ev.done)
		}
	}()
	l.queue <- ev
}

func (l *Ledger) run(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.queue:
			if !ok {
				return
			}
			l.apply(ctx, ev)
		}
	}
}

// apply performs one event's read-merge-write. A persistence failure is
// logged and dropped; the next event starts from the last committed state,
// so one failed write never corrupts its predecessors.
func (l *Ledger) apply(ctx context.Context, ev event) {
	if ev.kind == evDrain {
		close(ev.done)
		return
	}

	err := l.gw.Update(ctx, func(b *tabcore.Bundle) error {
		switch ev.kind {
		case evCreate:
			l.onCreate(b, ev.tab, ev.at)
		case evActivate:
			l.onActivate(b, ev.tabID, ev.at)
		case evUpdate:
			l.onUpdate(b, ev.tab, ev.at)
		case evRemove:
			l.onRemove(b, ev.tabID, ev.at)
		case evResync:
			for _, tab := range ev.tabs {
				if _, ok := b.TabStats[tab.ID]; !ok {
					l.onCreate(b, tab, ev.at)
				}
			}
		}
		return nil
	})
	if err != nil {
		l.cfg.Logger.Error("ledger: event write failed",
			"kind", ev.kind, "tab_id", ev.tabID, "error", err)
	}
}

// onCreate inserts a fresh stat record, overwriting any stale entry with
// the same ID (a resync may race with a create).
func (l *Ledger) onCreate(b *tabcore.Bundle, tab tabcore.Tab, now time.Time) {
	if !b.Settings.TrackingEnabled {
		return
	}
	nowMs := now.UnixMilli()
	b.TabStats[tab.ID] = tabcore.TabStat{
		ID:              tab.ID,
		URL:             tab.URL,
		Title:           tab.Title,
		WindowID:        tab.WindowID,
		CreatedAt:       nowMs,
		LastAccessedAt:  nowMs,
		ActivationCount: 1,
		Domain:          tabcore.DomainOf(tab.URL),
	}
	bumpSession(b, now, 1, 0)
}

// onActivate stamps the access time and bumps the activation count. A
// missing record self-heals as a create: the creation event was missed.
func (l *Ledger) onActivate(b *tabcore.Bundle, tabID int, now time.Time) {
	if !b.Settings.TrackingEnabled {
		return
	}
	st, ok := b.TabStats[tabID]
	if !ok {
		l.onCreate(b, tabcore.Tab{ID: tabID}, now)
		return
	}
	st.LastAccessedAt = now.UnixMilli()
	st.ActivationCount++
	b.TabStats[tabID] = st
}

// onUpdate refreshes the navigable fields after a navigation.
func (l *Ledger) onUpdate(b *tabcore.Bundle, tab tabcore.Tab, now time.Time) {
	if !b.Settings.TrackingEnabled {
		return
	}
	st, ok := b.TabStats[tab.ID]
	if !ok {
		l.onCreate(b, tab, now)
		return
	}
	st.URL = tab.URL
	st.Title = tab.Title
	st.Domain = tabcore.DomainOf(tab.URL)
	b.TabStats[tab.ID] = st
}

// onRemove snapshots the stat into closed-tab history, deletes the live
// entry, and prunes history past the retention window (settings are read
// at prune time, inside the same transaction).
func (l *Ledger) onRemove(b *tabcore.Bundle, tabID int, now time.Time) {
	if st, ok := b.TabStats[tabID]; ok {
		b.ClosedTabs = append(b.ClosedTabs, tabcore.ClosedTabRecord{
			TabStat:  st,
			ClosedAt: now.UnixMilli(),
		})
		delete(b.TabStats, tabID)
	}
	bumpSession(b, now, 0, 1)
	pruneClosed(b, now)
}

func pruneClosed(b *tabcore.Bundle, now time.Time) {
	retention := b.Settings.Normalized().DataRetentionDays
	cutoff := now.UnixMilli() - int64(retention)*tabcore.MillisPerDay

	kept := b.ClosedTabs[:0]
	for _, rec := range b.ClosedTabs {
		if rec.ClosedAt >= cutoff {
			kept = append(kept, rec)
		}
	}
	b.ClosedTabs = kept
}

// bumpSession counts the event in its local calendar day and prunes the
// counters to the most recent 30 days (YYYY-MM-DD keys sort
// chronologically).
func bumpSession(b *tabcore.Bundle, now time.Time, opened, closed int) {
	if b.SessionStats.Daily == nil {
		b.SessionStats.Daily = make(map[string]tabcore.DayCount)
	}
	key := tabcore.DateKey(now)
	dc := b.SessionStats.Daily[key]
	dc.Opened += opened
	dc.Closed += closed
	b.SessionStats.Daily[key] = dc

	if len(b.SessionStats.Daily) <= tabcore.MaxSessionDays {
		return
	}
	keys := make([]string, 0, len(b.SessionStats.Daily))
	for k := range b.SessionStats.Daily {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys[:len(keys)-tabcore.MaxSessionDays] {
		delete(b.SessionStats.Daily, k)
	}
}
