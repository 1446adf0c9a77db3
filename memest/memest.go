// Package memest estimates per-tab memory footprints without real process
// introspection: a probe counts DOM elements inside the tab and a weight
// table converts the census into megabytes. Pages that cannot be probed
// (non-web schemes, crashed or suspended tabs, probe timeouts) get a flat
// fallback figure instead of an error.
//
// Estimates are cached per tab ID with a fixed TTL. A computation fully
// replaces the prior cache entry; entries are never partially updated.
package memest

import (
	"context"
	"log/slog"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/tabwarden/tabwarden/tabcore"
)

// Weight table, in MB. Tuned against desktop Chromium task-manager
// readings; a heuristic, not a measurement.
const (
	baseMB      = 30.0
	perNodeMB   = 0.002
	perImageMB  = 0.5
	perIframeMB = 10.0
	perScriptMB = 1.0
	perSheetMB  = 0.5
	perVideoMB  = 50.0
	perAudioMB  = 5.0
	fallbackMB  = 20.0
)

// Defaults for Config zero values.
const (
	DefaultTTL          = 5 * time.Minute
	DefaultProbeTimeout = 5 * time.Second
)

// Estimate sources.
const (
	SourceMeasured = "measured"
	SourceFallback = "fallback"
)

// DomMetrics is the element census a probe gathers inside a tab.
type DomMetrics struct {
	Nodes       int `json:"nodes"`
	Images      int `json:"images"`
	Iframes     int `json:"iframes"`
	Scripts     int `json:"scripts"`
	Stylesheets int `json:"stylesheets"`
	Videos      int `json:"videos"`
	Audios      int `json:"audios"`
}

// Estimate is one tab's memory figure. Metrics is nil on the fallback path.
type Estimate struct {
	TabID      int         `json:"tabId"`
	EstimateMB float64     `json:"estimateMB"`
	Metrics    *DomMetrics `json:"metrics,omitempty"`
	Source     string      `json:"source"`
	Timestamp  time.Time   `json:"timestamp"`
}

// ProbeRunner executes the DOM census inside a tab. Implementations must
// honour ctx cancellation; the estimator abandons probes that outlive
// their deadline.
type ProbeRunner interface {
	RunInTab(ctx context.Context, tabID int) (*DomMetrics, error)
}

// Config tunes an Estimator. Zero values take the package defaults.
type Config struct {
	TTL          time.Duration
	ProbeTimeout time.Duration
	Logger       *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Estimator owns the probe runner and the transient estimate cache. The
// cache is never persisted.
type Estimator struct {
	runner ProbeRunner
	cfg    Config

	mu    sync.Mutex
	cache map[int]Estimate
}

// New creates an Estimator over the given probe runner.
func New(runner ProbeRunner, cfg Config) *Estimator {
	cfg.defaults()
	return &Estimator{
		runner: runner,
		cfg:    cfg,
		cache:  make(map[int]Estimate),
	}
}

// EstimateTab returns the memory estimate for one tab, serving from cache
// when the cached entry is younger than the TTL. It never returns an
// error: every failure path degrades to the flat fallback estimate.
func (e *Estimator) EstimateTab(ctx context.Context, tabID int, tabURL string) Estimate {
	now := e.cfg.Now()

	e.mu.Lock()
	if cached, ok := e.cache[tabID]; ok && now.Sub(cached.Timestamp) < e.cfg.TTL {
		e.mu.Unlock()
		return cached
	}
	e.mu.Unlock()

	est := e.compute(ctx, tabID, tabURL, now)

	e.mu.Lock()
	e.cache[tabID] = est
	e.mu.Unlock()
	return est
}

func (e *Estimator) compute(ctx context.Context, tabID int, tabURL string, now time.Time) Estimate {
	if !Injectable(tabURL) {
		return Estimate{TabID: tabID, EstimateMB: fallbackMB, Source: SourceFallback, Timestamp: now}
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.cfg.ProbeTimeout)
	defer cancel()

	type result struct {
		metrics *DomMetrics
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := e.runner.RunInTab(probeCtx, tabID)
		ch <- result{m, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			e.cfg.Logger.Debug("memest: probe failed, using fallback",
				"tab_id", tabID, "error", r.err)
			return Estimate{TabID: tabID, EstimateMB: fallbackMB, Source: SourceFallback, Timestamp: now}
		}
		return Estimate{
			TabID:      tabID,
			EstimateMB: WeighMetrics(r.metrics),
			Metrics:    r.metrics,
			Source:     SourceMeasured,
			Timestamp:  now,
		}
	case <-probeCtx.Done():
		// Abandon the probe; a late result is discarded with the buffered
		// channel.
		e.cfg.Logger.Debug("memest: probe timed out, using fallback", "tab_id", tabID)
		return Estimate{TabID: tabID, EstimateMB: fallbackMB, Source: SourceFallback, Timestamp: now}
	}
}

// EstimateAll probes every given tab concurrently with all-settled
// semantics: one tab's failure or timeout never affects its siblings, and
// the result always has exactly one entry per input tab.
func (e *Estimator) EstimateAll(ctx context.Context, tabs []tabcore.Tab) map[int]Estimate {
	results := make([]Estimate, len(tabs))
	var wg sync.WaitGroup
	for i, tab := range tabs {
		wg.Add(1)
		go func(i int, tab tabcore.Tab) {
			defer wg.Done()
			results[i] = e.EstimateTab(ctx, tab.ID, tab.URL)
		}(i, tab)
	}
	wg.Wait()

	out := make(map[int]Estimate, len(tabs))
	for _, est := range results {
		out[est.TabID] = est
	}
	return out
}

// ClearCache drops every cached estimate. Wired to the panels' manual
// refresh.
func (e *Estimator) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[int]Estimate)
	e.mu.Unlock()
}

// WeighMetrics converts a DOM census into megabytes via the weight table,
// rounded to one decimal.
func WeighMetrics(m *DomMetrics) float64 {
	if m == nil {
		return fallbackMB
	}
	mb := baseMB +
		float64(m.Nodes)*perNodeMB +
		float64(m.Images)*perImageMB +
		float64(m.Iframes)*perIframeMB +
		float64(m.Scripts)*perScriptMB +
		float64(m.Stylesheets)*perSheetMB +
		float64(m.Videos)*perVideoMB +
		float64(m.Audios)*perAudioMB
	return round1(mb)
}

// Injectable reports whether a probe can run inside the tab: only http,
// https, and file documents accept script execution.
func Injectable(tabURL string) bool {
	u, err := url.Parse(tabURL)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "file":
		return true
	}
	return false
}

// Stats aggregates a batch of estimates.
type Stats struct {
	TotalMB       float64 `json:"totalMB"`
	AverageMB     float64 `json:"averageMB"`
	HeaviestID    int     `json:"heaviestTabId"`
	HeaviestMB    float64 `json:"heaviestMB"`
	HasHeaviest   bool    `json:"hasHeaviest"`
	EstimateCount int     `json:"estimateCount"`
}

// MemoryStats totals a batch of estimates and finds the heaviest tab.
// Empty input yields the zero Stats.
func MemoryStats(estimates map[int]Estimate) Stats {
	var s Stats
	if len(estimates) == 0 {
		return s
	}
	total := 0.0
	for id, est := range estimates {
		total += est.EstimateMB
		if !s.HasHeaviest || est.EstimateMB > s.HeaviestMB ||
			(est.EstimateMB == s.HeaviestMB && id < s.HeaviestID) {
			s.HasHeaviest = true
			s.HeaviestID = id
			s.HeaviestMB = est.EstimateMB
		}
	}
	s.EstimateCount = len(estimates)
	s.TotalMB = round1(total)
	s.AverageMB = round1(total / float64(len(estimates)))
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
