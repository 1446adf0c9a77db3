package stats

import (
	"math"
	"time"

	"github.com/tabwarden/tabwarden/tabcore"
)

// Health score weights. The three components sum to at most 100.
const (
	recencyMax   = 40
	frequencyMax = 30
	ageMax       = 30
)

// Health bucket thresholds.
const (
	bucketExcellent = 75
	bucketGood      = 50
	bucketFair      = 25
)

// RecencyScore scores how recently the tab was activated: 0–40.
func RecencyScore(stat *tabcore.TabStat, now time.Time) int {
	if stat == nil {
		return 0
	}
	idle := time.Duration(now.UnixMilli()-stat.LastAccessedAt) * time.Millisecond
	switch {
	case idle < time.Hour:
		return recencyMax
	case idle < 24*time.Hour:
		return 30
	case idle < 7*24*time.Hour:
		return 15
	default:
		return 5
	}
}

// FrequencyScore scores how often the tab has been activated: 0–30.
// An unset activation count is treated as 1 (the creation activation).
func FrequencyScore(stat *tabcore.TabStat) int {
	if stat == nil {
		return 0
	}
	acts := stat.ActivationCount
	if acts < 1 {
		acts = 1
	}
	switch {
	case acts >= 10:
		return frequencyMax
	case acts >= 5:
		return 20
	case acts >= 2:
		return 10
	default:
		return 5
	}
}

// AgeScore scores whether the tab's usage justifies its age: 0–30.
// Young tabs (<1 day) get full marks; older tabs are scored on
// activations per day of life.
func AgeScore(stat *tabcore.TabStat, now time.Time) int {
	if stat == nil {
		return 0
	}
	ageDays := float64(now.UnixMilli()-stat.CreatedAt) / float64(tabcore.MillisPerDay)
	if ageDays < 1 {
		return ageMax
	}
	acts := stat.ActivationCount
	if acts < 1 {
		acts = 1
	}
	ratio := float64(acts) / math.Max(ageDays, 1)
	switch {
	case ratio >= 1:
		return ageMax
	case ratio >= 0.5:
		return 20
	case ratio >= 0.1:
		return 10
	default:
		return 5
	}
}

// TabHealthScore combines recency, frequency, and age-appropriateness into
// a 0–100 score. A tab with no stat record scores 0.
func TabHealthScore(stat *tabcore.TabStat, now time.Time) int {
	if stat == nil {
		return 0
	}
	score := RecencyScore(stat, now) + FrequencyScore(stat) + AgeScore(stat, now)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// HealthBuckets counts tabs per health band.
type HealthBuckets struct {
	Excellent int `json:"excellent"` // score >= 75
	Good      int `json:"good"`      // 50..74
	Fair      int `json:"fair"`      // 25..49
	Poor      int `json:"poor"`      // < 25
}

// Health is the whole-browser health view.
type Health struct {
	AverageScore int           `json:"averageScore"`
	Buckets      HealthBuckets `json:"buckets"`
	Efficiency   int           `json:"efficiency"` // % of tabs scoring >= 50
	TotalTabs    int           `json:"totalTabs"`
}

// OverallHealth averages the per-tab score over every current tab.
// Untracked tabs contribute 0 to the sum but still count in the
// denominator: a browser full of untracked tabs is not a healthy browser.
func OverallHealth(tabStats map[int]tabcore.TabStat, currentTabs []tabcore.Tab, now time.Time) Health {
	h := Health{TotalTabs: len(currentTabs)}

	sum := 0
	healthy := 0
	for _, tab := range currentTabs {
		stat, _ := statFor(tabStats, tab.ID)
		score := TabHealthScore(stat, now)
		sum += score
		switch {
		case score >= bucketExcellent:
			h.Buckets.Excellent++
		case score >= bucketGood:
			h.Buckets.Good++
		case score >= bucketFair:
			h.Buckets.Fair++
		default:
			h.Buckets.Poor++
		}
		if score >= bucketGood {
			healthy++
		}
	}

	denom := len(currentTabs)
	if denom < 1 {
		denom = 1
	}
	h.AverageScore = int(math.Round(float64(sum) / float64(denom)))
	h.Efficiency = int(math.Round(float64(healthy) / float64(denom) * 100))
	return h
}
