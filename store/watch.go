package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// WatchOptions tunes the change watcher.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action
	// fires; further changes reset the timer. 0 fires immediately.
	Debounce time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher polls the gateway's bundle version and runs an action when it
// advances. The panels long-poll through this instead of re-reading the
// whole bundle on a blind timer. Writes go through Update, which bumps
// PRAGMA user_version, so same-connection mutations are visible (SQLite's
// data_version only moves for other connections).
type Watcher struct {
	gw   *Gateway
	opts WatchOptions

	version atomic.Int64
	changes atomic.Int64
}

// NewWatcher creates a Watcher over the gateway. Call Run to start.
func NewWatcher(gw *Gateway, opts WatchOptions) *Watcher {
	opts.defaults()
	return &Watcher{gw: gw, opts: opts}
}

// Version returns the last observed bundle version.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Changes returns how many version advances have been observed.
func (w *Watcher) Changes() int64 { return w.changes.Load() }

// Run blocks until ctx is cancelled, polling at the configured interval
// and invoking action after each (debounced) bundle change.
func (w *Watcher) Run(ctx context.Context, action func()) {
	log := w.opts.Logger

	if v, err := w.current(ctx); err != nil {
		log.Warn("store: watch seed failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time
	pending := int64(-1)

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case <-ticker.C:
			cur, err := w.current(ctx)
			if err != nil {
				log.Warn("store: watch version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur
			if w.opts.Debounce <= 0 {
				w.fire(action, pending)
				pending = -1
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(w.opts.Debounce)
			debounceCh = debounceTimer.C

		case <-debounceCh:
			debounceCh = nil
			if pending >= 0 {
				w.fire(action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) fire(action func(), version int64) {
	action()
	w.version.Store(version)
}

func (w *Watcher) current(ctx context.Context) (int64, error) {
	var v int64
	err := w.gw.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}
