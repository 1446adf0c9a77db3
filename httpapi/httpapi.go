// Package httpapi serves the derived telemetry to the two presentation
// shells (compact panel and full dashboard) as a local JSON API, and
// accepts the handful of mutations they issue: settings patches, cache and
// stats clears, bundle export/import, and tab commands.
//
// The shells pull: every read endpoint re-derives its response from the
// current bundle and live tab list on demand. /api/changes exposes the
// store watcher's version counter so pollers can cheapen their refresh
// loop.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tabwarden/tabwarden/memest"
	"github.com/tabwarden/tabwarden/stats"
	"github.com/tabwarden/tabwarden/store"
	"github.com/tabwarden/tabwarden/tabcore"
)

// TabSource is the live-tab side of the host-environment adapter.
type TabSource interface {
	QueryAllTabs(ctx context.Context) ([]tabcore.Tab, error)
	FocusTab(ctx context.Context, id int) error
	FocusWindow(ctx context.Context, windowID int) error
	CloseTabs(ctx context.Context, ids []int) error
}

// Service wires the engines to the router.
type Service struct {
	gw      *store.Gateway
	tabs    TabSource
	est     *memest.Estimator
	watcher *store.Watcher
	log     *slog.Logger
	now     func() time.Time
}

// Config for New. Watcher and Logger are optional.
type Config struct {
	Gateway   *store.Gateway
	Tabs      TabSource
	Estimator *memest.Estimator
	Watcher   *store.Watcher
	Logger    *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New builds the service and its router.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		gw:      cfg.Gateway,
		tabs:    cfg.Tabs,
		est:     cfg.Estimator,
		watcher: cfg.Watcher,
		log:     cfg.Logger,
		now:     cfg.Now,
	}
}

// Router returns the chi router for the service.
func (s *Service) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)
		r.Get("/health", s.handleHealth)
		r.Get("/inactive", s.handleInactive)
		r.Get("/rankings/age", s.handleByAge)
		r.Get("/rankings/activations", s.handleByActivations)
		r.Get("/domains", s.handleDomains)
		r.Get("/recommendations", s.handleRecommendations)
		r.Get("/memory", s.handleMemory)
		r.Delete("/memory/cache", s.handleClearMemoryCache)
		r.Get("/session-activity", s.handleSessionActivity)
		r.Get("/closed-tabs", s.handleClosedTabs)
		r.Get("/settings", s.handleGetSettings)
		r.Patch("/settings", s.handlePatchSettings)
		r.Post("/stats/clear", s.handleClearStats)
		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)
		r.Get("/changes", s.handleChanges)
		r.Post("/tabs/focus", s.handleFocusTab)
		r.Post("/tabs/close", s.handleCloseTabs)
		r.Post("/windows/focus", s.handleFocusWindow)
	})
	return r
}

func (s *Service) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("httpapi: request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// snapshot loads the bundle and the live tab list, the two inputs every
// derivation takes.
func (s *Service) snapshot(ctx context.Context) (tabcore.Bundle, []tabcore.Tab, error) {
	b, err := s.gw.Load(ctx)
	if err != nil {
		return b, nil, err
	}
	tabs, err := s.tabs.QueryAllTabs(ctx)
	if err != nil {
		return b, nil, err
	}
	return b, tabs, nil
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("httpapi: encode response", "error", err)
	}
}

func (s *Service) fail(w http.ResponseWriter, status int, err error) {
	s.log.Error("httpapi: request failed", "status", status, "error", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Service) handleSummary(w http.ResponseWriter, r *http.Request) {
	b, tabs, err := s.snapshot(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats.Summarize(b.TabStats, tabs, s.now()))
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	b, tabs, err := s.snapshot(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats.OverallHealth(b.TabStats, tabs, s.now()))
}

func (s *Service) handleInactive(w http.ResponseWriter, r *http.Request) {
	b, tabs, err := s.snapshot(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	days := b.Settings.Normalized().InactivityThresholdDays
	if q := r.URL.Query().Get("days"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			s.fail(w, http.StatusBadRequest, errBadDays)
			return
		}
		days = n
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"days": days,
		"tabs": stats.InactiveTabs(b.TabStats, tabs, days, s.now()),
	})
}

func (s *Service) handleByAge(w http.ResponseWriter, r *http.Request) {
	b, tabs, err := s.snapshot(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	ascending := r.URL.Query().Get("order") != "desc"
	s.writeJSON(w, http.StatusOK, stats.TabsByAge(b.TabStats, tabs, s.now(), ascending))
}

func (s *Service) handleByActivations(w http.ResponseWriter, r *http.Request) {
	b, tabs, err := s.snapshot(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	descending := r.URL.Query().Get("order") != "asc"
	s.writeJSON(w, http.StatusOK, stats.TabsByActivations(b.TabStats, tabs, descending))
}

func (s *Service) handleDomains(w http.ResponseWriter, r *http.Request) {
	b, tabs, err := s.snapshot(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats.DomainStats(b.TabStats, tabs))
}

func (s *Service) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	b, tabs, err := s.snapshot(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	recs := stats.Recommendations(b.TabStats, tabs, b.Settings, s.now())
	if recs == nil {
		recs = []stats.Recommendation{}
	}
	s.writeJSON(w, http.StatusOK, recs)
}

func (s *Service) handleMemory(w http.ResponseWriter, r *http.Request) {
	tabs, err := s.tabs.QueryAllTabs(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	estimates := s.est.EstimateAll(r.Context(), tabs)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"estimates": estimates,
		"stats":     memest.MemoryStats(estimates),
	})
}

func (s *Service) handleClearMemoryCache(w http.ResponseWriter, r *http.Request) {
	s.est.ClearCache()
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Service) handleSessionActivity(w http.ResponseWriter, r *http.Request) {
	b, err := s.gw.Load(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b.SessionStats)
}

func (s *Service) handleClosedTabs(w http.ResponseWriter, r *http.Request) {
	b, err := s.gw.Load(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b.ClosedTabs)
}

func (s *Service) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.gw.Settings(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Service) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	var patch tabcore.SettingsPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	merged, err := s.gw.UpdateSettings(r.Context(), patch)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, merged)
}

func (s *Service) handleClearStats(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.ClearAllStats(r.Context()); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.gw.Export(r.Context())
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="tabwarden-export.json"`)
	w.Write(data)
}

func (s *Service) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 32<<20))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	ok := s.gw.Import(r.Context(), data)
	status := http.StatusOK
	if !ok {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, map[string]bool{"ok": ok})
}

// handleChanges reports the bundle version. With ?since=V it long-polls
// (up to 25s) until the version advances past V, so the panel refreshes
// on change instead of on a blind timer.
func (s *Service) handleChanges(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		s.writeJSON(w, http.StatusOK, map[string]int64{"version": 0})
		return
	}
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	deadline := time.NewTimer(25 * time.Second)
	defer deadline.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if v := s.watcher.Version(); v > since || since == 0 {
			s.writeJSON(w, http.StatusOK, map[string]int64{"version": v})
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			s.writeJSON(w, http.StatusOK, map[string]int64{"version": s.watcher.Version()})
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) handleFocusTab(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := s.tabs.FocusTab(r.Context(), req.ID); err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Service) handleCloseTabs(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		s.fail(w, http.StatusBadRequest, errNoTabIDs)
		return
	}
	if err := s.tabs.CloseTabs(r.Context(), req.IDs); err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true, "closed": len(req.IDs)})
}

func (s *Service) handleFocusWindow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WindowID int `json:"windowId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := s.tabs.FocusWindow(r.Context(), req.WindowID); err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
