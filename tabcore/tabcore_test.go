package tabcore

import (
	"testing"
	"time"
)

func TestDomainOf(t *testing.T) {
	tests := []struct {
		url    string
		domain string
	}{
		{"https://example.com/path?q=1", "example.com"},
		{"https://Sub.Example.COM/", "sub.example.com"},
		{"http://localhost:8080/", "localhost"},
		{"file:///home/user/notes.html", "file"},
		{"about:blank", "blank"},
		{"chrome://settings/privacy", "settings"},
		{"chrome-extension://abcdefgh/popup.html", "abcdefgh"},
		{"", "unknown"},
		{"://not a url", "unknown"},
	}
	for _, tt := range tests {
		if got := DomainOf(tt.url); got != tt.domain {
			t.Errorf("DomainOf(%q) = %q, want %q", tt.url, got, tt.domain)
		}
	}
}

func TestIsNewTabURL(t *testing.T) {
	for _, u := range []string{"", "about:blank", "about:newtab", "chrome://newtab/"} {
		if !IsNewTabURL(u) {
			t.Errorf("IsNewTabURL(%q) = false, want true", u)
		}
	}
	if IsNewTabURL("https://example.com/") {
		t.Error("example.com flagged as new-tab page")
	}
}

func TestSettingsNormalized(t *testing.T) {
	s := Settings{DataRetentionDays: 9999, InactivityThresholdDays: 0}
	n := s.Normalized()
	if n.DataRetentionDays != MaxRetentionDays {
		t.Errorf("retention = %d, want %d", n.DataRetentionDays, MaxRetentionDays)
	}
	if n.InactivityThresholdDays != MinInactivityDays {
		t.Errorf("inactivity = %d, want %d", n.InactivityThresholdDays, MinInactivityDays)
	}
	// Original stays untouched.
	if s.DataRetentionDays != 9999 {
		t.Error("Normalized mutated its receiver")
	}
}

func TestSettingsPatchApply(t *testing.T) {
	base := DefaultSettings()
	days := 14
	off := false
	got := SettingsPatch{DataRetentionDays: &days, TrackingEnabled: &off}.Apply(base)

	if got.DataRetentionDays != 14 {
		t.Errorf("retention = %d, want 14", got.DataRetentionDays)
	}
	if got.TrackingEnabled {
		t.Error("tracking still enabled after patch")
	}
	// Unpatched keys keep prior values.
	if got.InactivityThresholdDays != base.InactivityThresholdDays {
		t.Error("inactivity changed by unrelated patch")
	}
	if !got.ShowNotifications {
		t.Error("notifications changed by unrelated patch")
	}
}

func TestDateKey(t *testing.T) {
	ts := time.Date(2026, 3, 7, 23, 59, 0, 0, time.Local)
	if got := DateKey(ts); got != "2026-03-07" {
		t.Errorf("DateKey = %q, want 2026-03-07", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{0, "just now"},
		{30 * 1000, "just now"},
		{5 * 60 * 1000, "5m"},
		{2*3600*1000 + 15*60*1000, "2h 15m"},
		{3 * 3600 * 1000, "3h"},
		{3*MillisPerDay + 4*3600*1000, "3d 4h"},
		{7 * MillisPerDay, "7d"},
		{-100, "just now"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.ms); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.ms, got, tt.want)
		}
	}
}
