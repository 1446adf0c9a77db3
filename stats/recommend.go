package stats

import (
	"fmt"
	"time"

	"github.com/tabwarden/tabwarden/tabcore"
)

// Recommendation types.
const (
	RecInactive   = "inactive"
	RecDuplicate  = "duplicate"
	RecRarelyUsed = "rarely_used"
)

// Recommendation priorities, high first.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// rarelyUsedAgeDays is the age floor for the rarely-used recommendation.
// Intentionally fixed rather than tied to the configurable inactivity
// threshold; "old but barely touched" is a different question from "not
// touched lately".
const rarelyUsedAgeDays = 7

// rarelyUsedMaxActivations: below this many activations an old tab counts
// as rarely used.
const rarelyUsedMaxActivations = 3

// Recommendation is one cleanup suggestion for the panels.
type Recommendation struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Count    int    `json:"count"`
	Message  string `json:"message"`
	TabIDs   []int  `json:"tabIds"`
}

// Recommendations derives up to three prioritized cleanup suggestions:
// inactive tabs (high), duplicate tabs (medium), rarely-used old tabs
// (low). The returned slice is already ordered by priority.
func Recommendations(tabStats map[int]tabcore.TabStat, currentTabs []tabcore.Tab, settings tabcore.Settings, now time.Time) []Recommendation {
	settings = settings.Normalized()
	var recs []Recommendation

	if inactive := InactiveTabs(tabStats, currentTabs, settings.InactivityThresholdDays, now); len(inactive) > 0 {
		ids := make([]int, len(inactive))
		for i, t := range inactive {
			ids[i] = t.Tab.ID
		}
		recs = append(recs, Recommendation{
			Type:     RecInactive,
			Priority: PriorityHigh,
			Count:    len(inactive),
			Message:  fmt.Sprintf("%d %s not used in over %d days", len(inactive), plural(len(inactive), "tab", "tabs"), settings.InactivityThresholdDays),
			TabIDs:   ids,
		})
	}

	if groups := Summarize(tabStats, currentTabs, now).DuplicateGroups; len(groups) > 0 {
		extra := 0
		var ids []int
		for _, g := range groups {
			extra += g.Count - 1
			for _, t := range g.Tabs {
				ids = append(ids, t.ID)
			}
		}
		recs = append(recs, Recommendation{
			Type:     RecDuplicate,
			Priority: PriorityMedium,
			Count:    extra,
			Message:  fmt.Sprintf("%d duplicate %s could be closed", extra, plural(extra, "tab", "tabs")),
			TabIDs:   ids,
		})
	}

	nowMs := now.UnixMilli()
	var rare []int
	for _, tab := range currentTabs {
		stat, ok := tabStats[tab.ID]
		if !ok {
			continue
		}
		age := nowMs - stat.CreatedAt
		if age > rarelyUsedAgeDays*tabcore.MillisPerDay && stat.ActivationCount < rarelyUsedMaxActivations {
			rare = append(rare, tab.ID)
		}
	}
	if len(rare) > 0 {
		recs = append(recs, Recommendation{
			Type:     RecRarelyUsed,
			Priority: PriorityLow,
			Count:    len(rare),
			Message:  fmt.Sprintf("%d old %s rarely used", len(rare), plural(len(rare), "tab is", "tabs are")),
			TabIDs:   rare,
		})
	}

	return recs
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
