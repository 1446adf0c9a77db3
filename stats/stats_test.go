package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwarden/tabwarden/tabcore"
)

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func ms(t time.Time) int64 { return t.UnixMilli() }

func daysAgo(n int) time.Time { return testNow.Add(-time.Duration(n) * 24 * time.Hour) }

func stat(id int, url string, created, accessed time.Time, acts int) tabcore.TabStat {
	return tabcore.TabStat{
		ID:              id,
		URL:             url,
		WindowID:        1,
		CreatedAt:       ms(created),
		LastAccessedAt:  ms(accessed),
		ActivationCount: acts,
		Domain:          tabcore.DomainOf(url),
	}
}

func tab(id int, url string, windowID int) tabcore.Tab {
	return tabcore.Tab{ID: id, URL: url, WindowID: windowID}
}

func TestSummarizeTotals(t *testing.T) {
	tabs := []tabcore.Tab{
		tab(1, "https://a.example/x", 1),
		tab(2, "https://b.example/y", 1),
		tab(3, "https://a.example/z", 2),
	}
	tabStats := map[int]tabcore.TabStat{
		1: stat(1, "https://a.example/x", daysAgo(3), daysAgo(1), 5),
		2: stat(2, "https://b.example/y", daysAgo(1), testNow, 2),
	}

	s := Summarize(tabStats, tabs, testNow)

	assert.Equal(t, len(tabs), s.TotalTabs)
	assert.Equal(t, 2, s.TotalWindows)
	assert.Len(t, s.Windows[1], 2)
	assert.Len(t, s.Windows[2], 1)
	assert.Equal(t, 2, s.Domains["a.example"])
	assert.Equal(t, 1, s.Domains["b.example"])

	// Averages exclude tab 3 (no stat) rather than counting it as zero.
	wantAge := float64(ms(testNow)-ms(daysAgo(3))+ms(testNow)-ms(daysAgo(1))) / 2
	assert.InDelta(t, wantAge, s.AvgAgeMs, 1)
	assert.InDelta(t, 3.5, s.AvgActivations, 0.001)
}

func TestSummarizeExtremes(t *testing.T) {
	tabs := []tabcore.Tab{tab(1, "u1", 1), tab(2, "u2", 1), tab(3, "u3", 1)}
	tabStats := map[int]tabcore.TabStat{
		1: stat(1, "u1", daysAgo(10), daysAgo(2), 4),
		2: stat(2, "u2", daysAgo(1), testNow, 9),
		3: stat(3, "u3", daysAgo(5), daysAgo(5), 4),
	}

	s := Summarize(tabStats, tabs, testNow)

	require.NotNil(t, s.Oldest)
	assert.Equal(t, 1, s.Oldest.Tab.ID)
	assert.Equal(t, 2, s.Newest.Tab.ID)
	assert.Equal(t, 2, s.MostAccessed.Tab.ID)
	// Tabs 1 and 3 tie on activations; first-seen wins.
	assert.Equal(t, 1, s.LeastAccessed.Tab.ID)
}

func TestSummarizeNoStats(t *testing.T) {
	tabs := []tabcore.Tab{tab(1, "https://a.example/", 1)}

	s := Summarize(map[int]tabcore.TabStat{}, tabs, testNow)

	assert.Equal(t, 1, s.TotalTabs)
	assert.Nil(t, s.Oldest)
	assert.Zero(t, s.AvgAgeMs)
	assert.Zero(t, s.AvgActivations)
	// Domain falls back to a live URL parse.
	assert.Equal(t, 1, s.Domains["a.example"])
}

func TestSummarizeDuplicates(t *testing.T) {
	tabs := []tabcore.Tab{
		tab(1, "https://example.com/", 1),
		tab(2, "https://example.com/", 1),
		tab(3, "https://other.example/", 1),
		tab(4, "chrome://newtab/", 1),
		tab(5, "chrome://newtab/", 1),
	}

	s := Summarize(nil, tabs, testNow)

	// One group of two; the new-tab pages never group, a unique URL never
	// appears.
	require.Len(t, s.DuplicateGroups, 1)
	g := s.DuplicateGroups[0]
	assert.Equal(t, "https://example.com/", g.URL)
	assert.Equal(t, 2, g.Count)
	require.Len(t, g.Tabs, 2)
	assert.Equal(t, []int{g.Tabs[0].ID, g.Tabs[1].ID}, []int{1, 2})
}

func TestInactiveTabs(t *testing.T) {
	tabs := []tabcore.Tab{tab(1, "u1", 1), tab(2, "u2", 1), tab(3, "u3", 1), tab(4, "u4", 1)}
	tabStats := map[int]tabcore.TabStat{
		1: stat(1, "u1", daysAgo(30), daysAgo(20), 1),
		2: stat(2, "u2", daysAgo(30), daysAgo(8), 1),
		3: stat(3, "u3", daysAgo(30), testNow, 1),
		// tab 4 untracked: never eligible.
	}

	got := InactiveTabs(tabStats, tabs, 7, testNow)
	require.Len(t, got, 2)
	// Most stale first.
	assert.Equal(t, 1, got[0].Tab.ID)
	assert.Equal(t, 2, got[1].Tab.ID)

	// Monotonic in days: raising the threshold only ever shrinks the set.
	prev := len(got)
	for _, days := range []int{10, 15, 25, 60} {
		n := len(InactiveTabs(tabStats, tabs, days, testNow))
		assert.LessOrEqual(t, n, prev, "days=%d", days)
		prev = n
	}
}

func TestTabsByAgeReversal(t *testing.T) {
	tabs := []tabcore.Tab{tab(1, "u1", 1), tab(2, "u2", 1), tab(3, "u3", 1)}
	tabStats := map[int]tabcore.TabStat{
		1: stat(1, "u1", daysAgo(5), testNow, 1),
		2: stat(2, "u2", daysAgo(1), testNow, 1),
		3: stat(3, "u3", daysAgo(9), testNow, 1),
	}

	asc := TabsByAge(tabStats, tabs, testNow, true)
	desc := TabsByAge(tabStats, tabs, testNow, false)

	require.Len(t, asc, 3)
	for i := range asc {
		assert.Equal(t, asc[i].Tab.ID, desc[len(desc)-1-i].Tab.ID)
	}
	assert.Equal(t, 2, asc[0].Tab.ID)
	assert.Equal(t, 3, asc[2].Tab.ID)
}

func TestTabsByAgeUntrackedSortAsNewest(t *testing.T) {
	tabs := []tabcore.Tab{tab(1, "u1", 1), tab(2, "u2", 1)}
	tabStats := map[int]tabcore.TabStat{1: stat(1, "u1", daysAgo(5), testNow, 1)}

	asc := TabsByAge(tabStats, tabs, testNow, true)
	assert.Equal(t, 2, asc[0].Tab.ID)
	assert.Zero(t, asc[0].AgeMs)
}

func TestTabsByActivations(t *testing.T) {
	tabs := []tabcore.Tab{tab(1, "u1", 1), tab(2, "u2", 1), tab(3, "u3", 1)}
	tabStats := map[int]tabcore.TabStat{
		1: stat(1, "u1", daysAgo(1), testNow, 7),
		3: stat(3, "u3", daysAgo(1), testNow, 2),
	}

	desc := TabsByActivations(tabStats, tabs, true)
	assert.Equal(t, []int{desc[0].Tab.ID, desc[1].Tab.ID, desc[2].Tab.ID}, []int{1, 3, 2})

	asc := TabsByActivations(tabStats, tabs, false)
	// Untracked tab 2 sorts as least used.
	assert.Equal(t, 2, asc[0].Tab.ID)
	assert.Zero(t, asc[0].ActivationCount)
}

func TestDomainStats(t *testing.T) {
	tabs := []tabcore.Tab{
		tab(1, "https://a.example/1", 1),
		tab(2, "https://a.example/2", 1),
		tab(3, "https://b.example/", 1),
	}
	tabStats := map[int]tabcore.TabStat{
		1: stat(1, "https://a.example/1", daysAgo(1), testNow, 3),
		2: stat(2, "https://a.example/2", daysAgo(1), testNow, 2),
	}

	groups := DomainStats(tabStats, tabs)
	require.Len(t, groups, 2)
	assert.Equal(t, "a.example", groups[0].Domain)
	assert.Equal(t, 2, groups[0].Count)
	assert.Equal(t, 5, groups[0].Activations)
	assert.Len(t, groups[0].Tabs, 2)
	assert.Equal(t, "b.example", groups[1].Domain)
	assert.Zero(t, groups[1].Activations)
}

func TestTabHealthScorePerfect(t *testing.T) {
	st := stat(1, "u", testNow.Add(-time.Hour*2), testNow, 12)
	st.CreatedAt = ms(testNow.Add(-2 * time.Hour)) // age < 1 day
	assert.Equal(t, 100, TabHealthScore(&st, testNow))
}

func TestTabHealthScoreStaleOldTab(t *testing.T) {
	// 8 days old, accessed once at creation: 5 + 5 + 10 (ratio 1/8 >= 0.1).
	st := stat(1, "u", daysAgo(8), daysAgo(8), 1)
	assert.Equal(t, 20, TabHealthScore(&st, testNow))
}

func TestTabHealthScoreRange(t *testing.T) {
	cases := []tabcore.TabStat{
		stat(1, "u", daysAgo(90), daysAgo(90), 1),
		stat(2, "u", daysAgo(90), testNow, 1000),
		stat(3, "u", testNow, testNow, 0),
		stat(4, "u", daysAgo(2), daysAgo(1), 4),
	}
	for _, st := range cases {
		score := TabHealthScore(&st, testNow)
		assert.GreaterOrEqual(t, score, 0)
		assert.LessOrEqual(t, score, 100)
	}
	assert.Zero(t, TabHealthScore(nil, testNow))
}

func TestOverallHealth(t *testing.T) {
	tabs := []tabcore.Tab{tab(1, "u1", 1), tab(2, "u2", 1)}
	tabStats := map[int]tabcore.TabStat{
		1: stat(1, "u1", testNow.Add(-time.Hour), testNow, 10), // 100
		// tab 2 untracked: scores 0, still counted in the denominator.
	}

	h := OverallHealth(tabStats, tabs, testNow)
	assert.Equal(t, 50, h.AverageScore)
	assert.Equal(t, 2, h.TotalTabs)
	assert.Equal(t, 1, h.Buckets.Excellent)
	assert.Equal(t, 1, h.Buckets.Poor)
	assert.Equal(t, 50, h.Efficiency)
}

func TestOverallHealthEmpty(t *testing.T) {
	h := OverallHealth(nil, nil, testNow)
	assert.Zero(t, h.AverageScore)
	assert.Zero(t, h.Efficiency)
	assert.Zero(t, h.TotalTabs)
}

func TestRecommendations(t *testing.T) {
	tabs := []tabcore.Tab{
		tab(1, "https://stale.example/", 1),
		tab(2, "https://dup.example/", 1),
		tab(3, "https://dup.example/", 1),
		tab(4, "https://fresh.example/", 1),
	}
	tabStats := map[int]tabcore.TabStat{
		// Inactive AND rarely used: 8 days old, 1 activation.
		1: stat(1, "https://stale.example/", daysAgo(8), daysAgo(8), 1),
		2: stat(2, "https://dup.example/", daysAgo(1), testNow, 5),
		3: stat(3, "https://dup.example/", daysAgo(1), testNow, 5),
		4: stat(4, "https://fresh.example/", testNow, testNow, 1),
	}
	settings := tabcore.DefaultSettings() // inactivity threshold 7

	recs := Recommendations(tabStats, tabs, settings, testNow)
	require.Len(t, recs, 3)

	assert.Equal(t, RecInactive, recs[0].Type)
	assert.Equal(t, PriorityHigh, recs[0].Priority)
	assert.Equal(t, 1, recs[0].Count)
	assert.Equal(t, []int{1}, recs[0].TabIDs)

	assert.Equal(t, RecDuplicate, recs[1].Type)
	assert.Equal(t, PriorityMedium, recs[1].Priority)
	// Count is group size minus one, not group size.
	assert.Equal(t, 1, recs[1].Count)
	assert.Contains(t, recs[1].Message, "1 duplicate tab")

	assert.Equal(t, RecRarelyUsed, recs[2].Type)
	assert.Equal(t, PriorityLow, recs[2].Priority)
	assert.Equal(t, []int{1}, recs[2].TabIDs)
}

func TestRecommendationsFixedRarelyUsedThreshold(t *testing.T) {
	// Inactivity threshold raised to 30 days; the rarely-used cutoff stays
	// at 7 days regardless.
	tabs := []tabcore.Tab{tab(1, "https://old.example/", 1)}
	tabStats := map[int]tabcore.TabStat{
		1: stat(1, "https://old.example/", daysAgo(10), daysAgo(1), 1),
	}
	settings := tabcore.DefaultSettings()
	settings.InactivityThresholdDays = 30

	recs := Recommendations(tabStats, tabs, settings, testNow)
	require.Len(t, recs, 1)
	assert.Equal(t, RecRarelyUsed, recs[0].Type)
}

func TestRecommendationsEmpty(t *testing.T) {
	tabs := []tabcore.Tab{tab(1, "https://fresh.example/", 1)}
	tabStats := map[int]tabcore.TabStat{
		1: stat(1, "https://fresh.example/", testNow, testNow, 5),
	}
	recs := Recommendations(tabStats, tabs, tabcore.DefaultSettings(), testNow)
	assert.Empty(t, recs)
}
