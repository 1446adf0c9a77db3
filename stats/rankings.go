package stats

import (
	"sort"
	"time"

	"github.com/tabwarden/tabwarden/tabcore"
)

// InactiveTab is a tab whose last activation is older than a threshold.
type InactiveTab struct {
	Tab            tabcore.Tab `json:"tab"`
	LastAccessedAt int64       `json:"lastAccessedAt"`
	InactiveMs     int64       `json:"inactiveMs"`
}

// InactiveTabs returns tabs not activated for more than days days, most
// stale first. Only tabs with a TabStat are eligible; an untracked tab has
// no access history to be inactive against.
func InactiveTabs(tabStats map[int]tabcore.TabStat, currentTabs []tabcore.Tab, days int, now time.Time) []InactiveTab {
	nowMs := now.UnixMilli()
	threshold := int64(days) * tabcore.MillisPerDay

	var out []InactiveTab
	for _, tab := range currentTabs {
		stat, ok := tabStats[tab.ID]
		if !ok {
			continue
		}
		idle := nowMs - stat.LastAccessedAt
		if idle > threshold {
			out = append(out, InactiveTab{Tab: tab, LastAccessedAt: stat.LastAccessedAt, InactiveMs: idle})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].InactiveMs > out[j].InactiveMs })
	return out
}

// RankedTab is a live tab annotated with the sort keys of the ranking
// views. Untracked tabs rank with AgeMs=0 and ActivationCount=0, sorting
// as "newest" and "least used" — a deliberate policy, not missing data.
type RankedTab struct {
	Tab             tabcore.Tab `json:"tab"`
	AgeMs           int64       `json:"ageMs"`
	ActivationCount int         `json:"activationCount"`
}

// TabsByAge returns all current tabs ordered by age. A fresh slice is built
// on every call; the inputs are never reordered in place.
func TabsByAge(tabStats map[int]tabcore.TabStat, currentTabs []tabcore.Tab, now time.Time, ascending bool) []RankedTab {
	out := rank(tabStats, currentTabs, now)
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].AgeMs < out[j].AgeMs
		}
		return out[i].AgeMs > out[j].AgeMs
	})
	return out
}

// TabsByActivations returns all current tabs ordered by activation count.
func TabsByActivations(tabStats map[int]tabcore.TabStat, currentTabs []tabcore.Tab, descending bool) []RankedTab {
	out := rank(tabStats, currentTabs, time.Time{})
	sort.SliceStable(out, func(i, j int) bool {
		if descending {
			return out[i].ActivationCount > out[j].ActivationCount
		}
		return out[i].ActivationCount < out[j].ActivationCount
	})
	return out
}

func rank(tabStats map[int]tabcore.TabStat, currentTabs []tabcore.Tab, now time.Time) []RankedTab {
	nowMs := now.UnixMilli()
	out := make([]RankedTab, 0, len(currentTabs))
	for _, tab := range currentTabs {
		r := RankedTab{Tab: tab}
		if stat, ok := tabStats[tab.ID]; ok {
			if !now.IsZero() {
				r.AgeMs = nowMs - stat.CreatedAt
			}
			r.ActivationCount = stat.ActivationCount
		}
		out = append(out, r)
	}
	return out
}

// DomainGroup aggregates the open tabs of one domain.
type DomainGroup struct {
	Domain      string        `json:"domain"`
	Count       int           `json:"count"`
	Activations int           `json:"activations"`
	Tabs        []tabcore.Tab `json:"tabs"`
}

// DomainStats groups all current tabs by derived domain, falling back to a
// live URL parse for untracked tabs, sorted by tab count descending (domain
// name ascending on ties, for stable output).
func DomainStats(tabStats map[int]tabcore.TabStat, currentTabs []tabcore.Tab) []DomainGroup {
	index := make(map[string]int)
	var groups []DomainGroup

	for _, tab := range currentTabs {
		stat, _ := statFor(tabStats, tab.ID)
		domain := domainFor(tab, stat)

		i, ok := index[domain]
		if !ok {
			i = len(groups)
			index[domain] = i
			groups = append(groups, DomainGroup{Domain: domain})
		}
		groups[i].Count++
		groups[i].Tabs = append(groups[i].Tabs, tab)
		if stat != nil {
			groups[i].Activations += stat.ActivationCount
		}
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Domain < groups[j].Domain
	})
	return groups
}
