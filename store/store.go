// Package store is the persistence gateway: it exclusively owns the four
// durable records (tab stats, closed-tab history, settings, session
// counters), persisted as JSON values in a SQLite key-value table.
//
// Every mutation goes through Update, a serialized read-merge-write: the
// full bundle is read, the caller's function merges its change in, and the
// result is committed in one transaction. Rapid successive mutations
// cannot lose updates, and a failed mutation never corrupts previously
// committed state.
//
// Usage:
//
//	import _ "modernc.org/sqlite"
//	gw, err := store.Open("tabwarden.db")
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tabwarden/tabwarden/tabcore"
)

const schema = `
CREATE TABLE IF NOT EXISTS bundle (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Bundle record keys.
const (
	keyTabStats     = "tabStats"
	keyClosedTabs   = "closedTabs"
	keySettings     = "settings"
	keySessionStats = "sessionStats"
)

type config struct {
	driver      string
	busyTimeout int
	mkdirAll    bool
	logger      *slog.Logger
}

func defaults() config {
	return config{
		driver:      "sqlite",
		busyTimeout: 10_000,
		logger:      slog.Default(),
	}
}

// Option customises Open behaviour.
type Option func(*config)

// WithDriver sets the database/sql driver name. Default: "sqlite".
func WithDriver(name string) Option { return func(c *config) { c.driver = name } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithMkdirAll creates parent directories of the database path before opening.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// Gateway owns the durable bundle. Safe for concurrent use; writers are
// serialized.
type Gateway struct {
	db  *sql.DB
	log *slog.Logger

	// mu serializes read-merge-write cycles. SQLite would serialize the
	// transactions anyway; the mutex makes the queue discipline explicit
	// and keeps busy_timeout churn out of the hot path.
	mu sync.Mutex
}

// Open opens (creating if needed) the bundle database at path with WAL and
// the production pragmas applied. The caller must blank-import a driver:
//
//	import _ "modernc.org/sqlite"
func Open(path string, opts ...Option) (*Gateway, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}

	db, err := sql.Open(cfg.driver, path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	return &Gateway{db: db, log: cfg.logger}, nil
}

// OpenMemory opens an in-memory gateway for testing, single-connection so
// every query sees the same database, closed automatically via t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *Gateway {
	t.Helper()
	gw, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	gw.db.SetMaxOpenConns(1)
	t.Cleanup(func() { gw.Close() })
	return gw
}

// Close closes the underlying database.
func (g *Gateway) Close() error { return g.db.Close() }

// DB exposes the underlying handle for the change watcher.
func (g *Gateway) DB() *sql.DB { return g.db }

// Load reads the full bundle. Missing keys take their defaults, so a fresh
// database loads as an empty bundle with default settings.
func (g *Gateway) Load(ctx context.Context) (tabcore.Bundle, error) {
	return g.load(ctx, g.db)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (g *Gateway) load(ctx context.Context, q querier) (tabcore.Bundle, error) {
	b := tabcore.EmptyBundle()

	rows, err := q.QueryContext(ctx, "SELECT key, value FROM bundle")
	if err != nil {
		return b, fmt.Errorf("store: load: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return b, fmt.Errorf("store: scan: %w", err)
		}
		var dst any
		switch key {
		case keyTabStats:
			dst = &b.TabStats
		case keyClosedTabs:
			dst = &b.ClosedTabs
		case keySettings:
			dst = &b.Settings
		case keySessionStats:
			dst = &b.SessionStats
		default:
			continue
		}
		if err := json.Unmarshal([]byte(value), dst); err != nil {
			// A corrupt record falls back to its default rather than
			// wedging every reader.
			g.log.Warn("store: corrupt bundle record, using default", "key", key, "error", err)
		}
	}
	if err := rows.Err(); err != nil {
		return b, fmt.Errorf("store: load: %w", err)
	}

	if b.TabStats == nil {
		b.TabStats = make(map[int]tabcore.TabStat)
	}
	if b.SessionStats.Daily == nil {
		b.SessionStats.Daily = make(map[string]tabcore.DayCount)
	}
	if b.ClosedTabs == nil {
		b.ClosedTabs = []tabcore.ClosedTabRecord{}
	}
	return b, nil
}

// Update runs one serialized read-merge-write cycle: fn receives the
// current bundle and mutates it in place; the result is committed
// atomically. If fn returns an error nothing is written.
func (g *Gateway) Update(ctx context.Context, fn func(*tabcore.Bundle) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	b, err := g.load(ctx, tx)
	if err != nil {
		return err
	}

	if err := fn(&b); err != nil {
		return err
	}

	if err := g.write(ctx, tx, &b); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (g *Gateway) write(ctx context.Context, tx *sql.Tx, b *tabcore.Bundle) error {
	records := []struct {
		key   string
		value any
	}{
		{keyTabStats, b.TabStats},
		{keyClosedTabs, b.ClosedTabs},
		{keySettings, b.Settings},
		{keySessionStats, b.SessionStats},
	}
	now := time.Now().UnixMilli()
	for _, r := range records {
		data, err := json.Marshal(r.value)
		if err != nil {
			return fmt.Errorf("store: marshal %s: %w", r.key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO bundle (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, r.key, string(data), now)
		if err != nil {
			return fmt.Errorf("store: write %s: %w", r.key, err)
		}
	}

	// Bump user_version so same-connection watchers see the change
	// (data_version only moves for other connections).
	var v int64
	if err := tx.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return fmt.Errorf("store: read user_version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1)); err != nil {
		return fmt.Errorf("store: bump user_version: %w", err)
	}
	return nil
}

// Settings reads the stored settings (verbatim, not normalized).
func (g *Gateway) Settings(ctx context.Context) (tabcore.Settings, error) {
	b, err := g.Load(ctx)
	return b.Settings, err
}

// UpdateSettings merges the patch shallowly over the stored settings and
// returns the merged result.
func (g *Gateway) UpdateSettings(ctx context.Context, patch tabcore.SettingsPatch) (tabcore.Settings, error) {
	var merged tabcore.Settings
	err := g.Update(ctx, func(b *tabcore.Bundle) error {
		b.Settings = patch.Apply(b.Settings)
		merged = b.Settings
		return nil
	})
	return merged, err
}

// ClearAllStats resets the tab-stat map and the closed-tab history to
// empty. Settings and session counters are untouched.
func (g *Gateway) ClearAllStats(ctx context.Context) error {
	return g.Update(ctx, func(b *tabcore.Bundle) error {
		b.TabStats = make(map[int]tabcore.TabStat)
		b.ClosedTabs = []tabcore.ClosedTabRecord{}
		return nil
	})
}
