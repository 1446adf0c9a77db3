// Package stats is the statistics engine: pure functions that turn the
// persisted tab-stat map and the live tab list into aggregates, rankings,
// health scores, and cleanup recommendations. Nothing here performs I/O or
// mutates its inputs, so every function is safe to call repeatedly and
// concurrently.
//
// Tabs without a TabStat (tracking started after the tab existed) are
// tolerated everywhere: they contribute zero, never an error.
package stats

import (
	"time"

	"github.com/tabwarden/tabwarden/tabcore"
)

// TabWithStat pairs a live tab with its stat record, nil when untracked.
type TabWithStat struct {
	Tab  tabcore.Tab      `json:"tab"`
	Stat *tabcore.TabStat `json:"stat,omitempty"`
}

// DuplicateGroup is a set of open tabs sharing one exact URL.
type DuplicateGroup struct {
	URL   string        `json:"url"`
	Count int           `json:"count"`
	Tabs  []tabcore.Tab `json:"tabs"`
}

// Summary is the aggregate view the dashboard header renders.
type Summary struct {
	TotalTabs    int                   `json:"totalTabs"`
	TotalWindows int                   `json:"totalWindows"`
	Windows      map[int][]tabcore.Tab `json:"windows"`
	Domains      map[string]int        `json:"domains"`

	// Extremes consider only tabs that have a TabStat. Ties are broken by
	// the first occurrence in the currentTabs iteration order.
	Oldest        *TabWithStat `json:"oldest,omitempty"`
	Newest        *TabWithStat `json:"newest,omitempty"`
	MostAccessed  *TabWithStat `json:"mostAccessed,omitempty"`
	LeastAccessed *TabWithStat `json:"leastAccessed,omitempty"`

	// Averages divide by the number of tabs with a TabStat, not TotalTabs.
	AvgAgeMs       float64 `json:"avgAgeMs"`
	AvgActivations float64 `json:"avgActivations"`

	DuplicateGroups []DuplicateGroup `json:"duplicateGroups"`
}

// Summarize computes the aggregate view at time now.
func Summarize(tabStats map[int]tabcore.TabStat, currentTabs []tabcore.Tab, now time.Time) Summary {
	nowMs := now.UnixMilli()
	s := Summary{
		TotalTabs: len(currentTabs),
		Windows:   make(map[int][]tabcore.Tab),
		Domains:   make(map[string]int),
	}

	var (
		tracked   int
		sumAge    float64
		sumActs   float64
		dupIndex  = make(map[string]int) // url -> index into DuplicateGroups
		dupGroups []DuplicateGroup
	)

	for _, tab := range currentTabs {
		s.Windows[tab.WindowID] = append(s.Windows[tab.WindowID], tab)

		stat, ok := statFor(tabStats, tab.ID)
		domain := domainFor(tab, stat)
		s.Domains[domain]++

		if !tabcore.IsNewTabURL(tab.URL) {
			if i, seen := dupIndex[tab.URL]; seen {
				dupGroups[i].Tabs = append(dupGroups[i].Tabs, tab)
				dupGroups[i].Count++
			} else {
				dupIndex[tab.URL] = len(dupGroups)
				dupGroups = append(dupGroups, DuplicateGroup{URL: tab.URL, Count: 1, Tabs: []tabcore.Tab{tab}})
			}
		}

		if !ok {
			continue
		}
		tracked++
		sumAge += float64(nowMs - stat.CreatedAt)
		sumActs += float64(stat.ActivationCount)

		entry := &TabWithStat{Tab: tab, Stat: stat}
		if s.Oldest == nil || stat.CreatedAt < s.Oldest.Stat.CreatedAt {
			s.Oldest = entry
		}
		if s.Newest == nil || stat.CreatedAt > s.Newest.Stat.CreatedAt {
			s.Newest = entry
		}
		if s.MostAccessed == nil || stat.ActivationCount > s.MostAccessed.Stat.ActivationCount {
			s.MostAccessed = entry
		}
		if s.LeastAccessed == nil || stat.ActivationCount < s.LeastAccessed.Stat.ActivationCount {
			s.LeastAccessed = entry
		}
	}

	s.TotalWindows = len(s.Windows)
	if tracked > 0 {
		s.AvgAgeMs = sumAge / float64(tracked)
		s.AvgActivations = sumActs / float64(tracked)
	}

	// Keep only real duplicates (two or more tabs on the same URL), in
	// first-appearance order.
	for _, g := range dupGroups {
		if g.Count >= 2 {
			s.DuplicateGroups = append(s.DuplicateGroups, g)
		}
	}
	return s
}

// statFor returns a copy of the stat entry for id, or nil when untracked.
func statFor(tabStats map[int]tabcore.TabStat, id int) (*tabcore.TabStat, bool) {
	st, ok := tabStats[id]
	if !ok {
		return nil, false
	}
	return &st, true
}

// domainFor prefers the cached derived domain and falls back to a live
// parse of the tab URL for untracked tabs.
func domainFor(tab tabcore.Tab, stat *tabcore.TabStat) string {
	if stat != nil && stat.Domain != "" {
		return stat.Domain
	}
	return tabcore.DomainOf(tab.URL)
}
