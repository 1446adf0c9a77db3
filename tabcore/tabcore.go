// Package tabcore defines the data model shared by the tab telemetry
// pipeline: live tabs as reported by the browser, per-tab usage statistics,
// closed-tab history, user settings, and daily session counters, plus the
// pure helpers (domain extraction, date keys) the rest of the module is
// built on.
package tabcore

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Tab is a currently-open tab as reported by the host browser.
type Tab struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
	WindowID int    `json:"windowId"`
}

// TabStat is the persisted usage record of a single open tab. Keyed by tab
// ID; the browser reuses an ID only after the previous stat entry is gone.
type TabStat struct {
	ID              int    `json:"id"`
	URL             string `json:"url"`
	Title           string `json:"title"`
	WindowID        int    `json:"windowId"`
	CreatedAt       int64  `json:"createdAt"`      // ms epoch, immutable once set
	LastAccessedAt  int64  `json:"lastAccessedAt"` // ms epoch, monotonically non-decreasing
	ActivationCount int    `json:"activationCount"`
	Domain          string `json:"domain"`
}

// ClosedTabRecord is a TabStat snapshot taken at removal time.
type ClosedTabRecord struct {
	TabStat
	ClosedAt int64 `json:"closedAt"` // ms epoch
}

// Settings are the user-tunable knobs. Partial updates merge shallowly over
// the stored value; see SettingsPatch.
type Settings struct {
	TrackingEnabled         bool `json:"trackingEnabled"`
	DataRetentionDays       int  `json:"dataRetentionDays"`
	InactivityThresholdDays int  `json:"inactivityThresholdDays"`
	ShowNotifications       bool `json:"showNotifications"`
	AutoCloseEnabled        bool `json:"autoCloseEnabled"`
}

// Settings bounds. Stored values outside these ranges are clamped at read
// time by Normalized, never rewritten in storage.
const (
	MinRetentionDays  = 1
	MaxRetentionDays  = 365
	MinInactivityDays = 1
	MaxInactivityDays = 90
)

// DefaultSettings returns the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		TrackingEnabled:         true,
		DataRetentionDays:       30,
		InactivityThresholdDays: 7,
		ShowNotifications:       true,
		AutoCloseEnabled:        false,
	}
}

// Normalized returns a copy with retention and inactivity clamped to their
// documented ranges. Imported bundles may carry out-of-range values; they
// round-trip verbatim but are never acted on raw.
func (s Settings) Normalized() Settings {
	s.DataRetentionDays = clamp(s.DataRetentionDays, MinRetentionDays, MaxRetentionDays)
	s.InactivityThresholdDays = clamp(s.InactivityThresholdDays, MinInactivityDays, MaxInactivityDays)
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SettingsPatch is a partial settings update. Nil fields keep the stored
// value.
type SettingsPatch struct {
	TrackingEnabled         *bool `json:"trackingEnabled,omitempty"`
	DataRetentionDays       *int  `json:"dataRetentionDays,omitempty"`
	InactivityThresholdDays *int  `json:"inactivityThresholdDays,omitempty"`
	ShowNotifications       *bool `json:"showNotifications,omitempty"`
	AutoCloseEnabled        *bool `json:"autoCloseEnabled,omitempty"`
}

// Apply merges the patch over s and returns the result.
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.TrackingEnabled != nil {
		s.TrackingEnabled = *p.TrackingEnabled
	}
	if p.DataRetentionDays != nil {
		s.DataRetentionDays = *p.DataRetentionDays
	}
	if p.InactivityThresholdDays != nil {
		s.InactivityThresholdDays = *p.InactivityThresholdDays
	}
	if p.ShowNotifications != nil {
		s.ShowNotifications = *p.ShowNotifications
	}
	if p.AutoCloseEnabled != nil {
		s.AutoCloseEnabled = *p.AutoCloseEnabled
	}
	return s
}

// DayCount is one day's open/close tally.
type DayCount struct {
	Opened int `json:"opened"`
	Closed int `json:"closed"`
}

// SessionStats buckets open/close events by local calendar day. Keys are
// YYYY-MM-DD, so lexicographic order is chronological order.
type SessionStats struct {
	Daily map[string]DayCount `json:"daily"`
}

// MaxSessionDays is how many day buckets SessionStats retains.
const MaxSessionDays = 30

// Bundle is the full durable state as one unit, the shape of the
// export/import document.
type Bundle struct {
	TabStats     map[int]TabStat   `json:"tabStats"`
	ClosedTabs   []ClosedTabRecord `json:"closedTabs"`
	Settings     Settings          `json:"settings"`
	SessionStats SessionStats      `json:"sessionStats"`
}

// EmptyBundle returns a bundle with empty collections and default settings.
func EmptyBundle() Bundle {
	return Bundle{
		TabStats:     make(map[int]TabStat),
		ClosedTabs:   []ClosedTabRecord{},
		Settings:     DefaultSettings(),
		SessionStats: SessionStats{Daily: make(map[string]DayCount)},
	}
}

// MillisPerDay converts the day-based settings to the ms-epoch arithmetic
// used throughout the engine.
const MillisPerDay = 24 * 60 * 60 * 1000

// UnknownDomain is the derived domain for URLs that cannot be parsed.
const UnknownDomain = "unknown"

// DomainOf extracts the hostname from a URL, lowercased, "unknown" when the
// URL is empty or unparseable. Non-web schemes keep their host when present
// (chrome-extension IDs group together) and degrade to the scheme name
// otherwise, so chrome://settings and chrome://history group as "settings"
// and "history" rather than one opaque bucket.
func DomainOf(rawURL string) string {
	if rawURL == "" {
		return UnknownDomain
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return UnknownDomain
	}
	if h := u.Hostname(); h != "" {
		return strings.ToLower(h)
	}
	// Opaque or host-less URLs (about:blank, file:///…).
	if u.Scheme == "file" {
		return "file"
	}
	if u.Opaque != "" {
		return strings.ToLower(strings.SplitN(u.Opaque, "/", 2)[0])
	}
	return UnknownDomain
}

// newTabURLs are the URLs a freshly opened, not-yet-navigated tab reports.
// They are excluded from duplicate grouping: fifty empty tabs are not
// fifty copies of one page.
var newTabURLs = map[string]bool{
	"":                       true,
	"about:blank":            true,
	"about:newtab":           true,
	"chrome://newtab/":       true,
	"chrome://new-tab-page/": true,
}

// IsNewTabURL reports whether rawURL is a new-tab page.
func IsNewTabURL(rawURL string) bool {
	return newTabURLs[rawURL]
}

// DateKey formats t as a local-calendar-day bucket key (YYYY-MM-DD).
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// FormatDuration renders a millisecond duration as a compact human string
// ("3d 4h", "2h 15m", "45m", "just now"). Used by the MCP text surface.
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d >= 24*time.Hour:
		days := d / (24 * time.Hour)
		hours := (d % (24 * time.Hour)) / time.Hour
		if hours > 0 {
			return fmt.Sprintf("%dd %dh", days, hours)
		}
		return fmt.Sprintf("%dd", days)
	case d >= time.Hour:
		mins := (d % time.Hour) / time.Minute
		if mins > 0 {
			return fmt.Sprintf("%dh %dm", d/time.Hour, mins)
		}
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return "just now"
	}
}
