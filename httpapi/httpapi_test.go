package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/tabwarden/tabwarden/memest"
	"github.com/tabwarden/tabwarden/stats"
	"github.com/tabwarden/tabwarden/store"
	"github.com/tabwarden/tabwarden/tabcore"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

// fakeTabs is a scripted TabSource that records commands.
type fakeTabs struct {
	tabs    []tabcore.Tab
	focused []int
	closed  [][]int
	err     error
}

func (f *fakeTabs) QueryAllTabs(context.Context) ([]tabcore.Tab, error) { return f.tabs, f.err }
func (f *fakeTabs) FocusTab(_ context.Context, id int) error {
	f.focused = append(f.focused, id)
	return f.err
}
func (f *fakeTabs) FocusWindow(_ context.Context, id int) error { return f.err }
func (f *fakeTabs) CloseTabs(_ context.Context, ids []int) error {
	f.closed = append(f.closed, ids)
	return f.err
}

// fakeProber fails for tab IDs in bad, succeeds otherwise.
type fakeProber struct {
	bad map[int]bool
}

func (f *fakeProber) RunInTab(_ context.Context, tabID int) (*memest.DomMetrics, error) {
	if f.bad[tabID] {
		return nil, errors.New("tab crashed")
	}
	return &memest.DomMetrics{Nodes: 1000}, nil
}

type fixture struct {
	srv  *httptest.Server
	gw   *store.Gateway
	tabs *fakeTabs
}

func newFixture(t *testing.T, tabs []tabcore.Tab, bad map[int]bool) *fixture {
	t.Helper()
	gw := store.OpenMemory(t)
	ft := &fakeTabs{tabs: tabs}
	est := memest.New(&fakeProber{bad: bad}, memest.Config{ProbeTimeout: time.Second})
	svc := New(Config{
		Gateway:   gw,
		Tabs:      ft,
		Estimator: est,
		Now:       func() time.Time { return testNow },
	})
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, gw: gw, tabs: ft}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) send(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func seedStats(t *testing.T, gw *store.Gateway, entries ...tabcore.TabStat) {
	t.Helper()
	require.NoError(t, gw.Update(context.Background(), func(b *tabcore.Bundle) error {
		for _, st := range entries {
			b.TabStats[st.ID] = st
		}
		return nil
	}))
}

func TestSummaryEndpoint(t *testing.T) {
	tabs := []tabcore.Tab{
		{ID: 1, URL: "https://a.example/", WindowID: 1},
		{ID: 2, URL: "https://a.example/", WindowID: 2},
	}
	f := newFixture(t, tabs, nil)
	seedStats(t, f.gw, tabcore.TabStat{
		ID: 1, URL: "https://a.example/", Domain: "a.example",
		CreatedAt:      testNow.Add(-24 * time.Hour).UnixMilli(),
		LastAccessedAt: testNow.UnixMilli(), ActivationCount: 3,
	})

	var got stats.Summary
	status := f.get(t, "/api/summary", &got)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 2, got.TotalTabs)
	assert.Equal(t, 2, got.TotalWindows)
	require.Len(t, got.DuplicateGroups, 1)
	assert.Equal(t, 2, got.DuplicateGroups[0].Count)
}

func TestInactiveEndpointValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/inactive?days=zero", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/inactive?days=-3", nil))
	assert.Equal(t, http.StatusOK, f.get(t, "/api/inactive?days=14", nil))
}

func TestSettingsPatch(t *testing.T) {
	f := newFixture(t, nil, nil)

	var merged tabcore.Settings
	status := f.send(t, http.MethodPatch, "/api/settings",
		map[string]any{"dataRetentionDays": 60}, &merged)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 60, merged.DataRetentionDays)
	// Untouched keys keep defaults.
	assert.Equal(t, 7, merged.InactivityThresholdDays)
	assert.True(t, merged.TrackingEnabled)
}

func TestExportImportRoundTrip(t *testing.T) {
	f := newFixture(t, nil, nil)
	seedStats(t, f.gw, tabcore.TabStat{ID: 5, URL: "https://keep.example/", ActivationCount: 2})

	resp, err := http.Get(f.srv.URL + "/api/export")
	require.NoError(t, err)
	data := new(bytes.Buffer)
	_, err = data.ReadFrom(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	// Wipe, then restore through the API.
	require.NoError(t, f.gw.ClearAllStats(context.Background()))

	var out map[string]bool
	status := f.send(t, http.MethodPost, "/api/import", json.RawMessage(data.Bytes()), &out)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, out["ok"])

	b, err := f.gw.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, b.TabStats[5].ActivationCount)
}

func TestImportMalformed(t *testing.T) {
	f := newFixture(t, nil, nil)

	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/api/import",
		bytes.NewReader([]byte("{broken")))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestMemoryEndpointIsolatesFailures(t *testing.T) {
	tabs := []tabcore.Tab{
		{ID: 1, URL: "https://a.example/"},
		{ID: 2, URL: "https://b.example/"},
	}
	f := newFixture(t, tabs, map[int]bool{2: true})

	var got struct {
		Estimates map[int]memest.Estimate `json:"estimates"`
		Stats     memest.Stats            `json:"stats"`
	}
	status := f.get(t, "/api/memory", &got)

	assert.Equal(t, http.StatusOK, status)
	require.Len(t, got.Estimates, 2)
	assert.Equal(t, memest.SourceMeasured, got.Estimates[1].Source)
	assert.Equal(t, memest.SourceFallback, got.Estimates[2].Source)
	assert.Equal(t, 2, got.Stats.EstimateCount)
}

func TestCloseTabsCommand(t *testing.T) {
	f := newFixture(t, nil, nil)

	var out map[string]any
	status := f.send(t, http.MethodPost, "/api/tabs/close",
		map[string]any{"ids": []int{3, 4}}, &out)

	assert.Equal(t, http.StatusOK, status)
	require.Len(t, f.tabs.closed, 1)
	assert.Equal(t, []int{3, 4}, f.tabs.closed[0])

	// Empty id list is rejected before touching the browser.
	status = f.send(t, http.MethodPost, "/api/tabs/close", map[string]any{"ids": []int{}}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Len(t, f.tabs.closed, 1)
}

func TestRecommendationsEndpoint(t *testing.T) {
	tabs := []tabcore.Tab{{ID: 1, URL: "https://stale.example/", WindowID: 1}}
	f := newFixture(t, tabs, nil)
	seedStats(t, f.gw, tabcore.TabStat{
		ID: 1, URL: "https://stale.example/", Domain: "stale.example",
		CreatedAt:       testNow.Add(-8 * 24 * time.Hour).UnixMilli(),
		LastAccessedAt:  testNow.Add(-8 * 24 * time.Hour).UnixMilli(),
		ActivationCount: 1,
	})

	var recs []stats.Recommendation
	status := f.get(t, "/api/recommendations", &recs)

	assert.Equal(t, http.StatusOK, status)
	require.Len(t, recs, 2) // inactive + rarely used
	assert.Equal(t, stats.RecInactive, recs[0].Type)
	assert.Equal(t, stats.RecRarelyUsed, recs[1].Type)
}
