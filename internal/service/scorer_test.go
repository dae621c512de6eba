package service

import (
	"testing"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// TestScorePage_S1_MinorDeclineIsStable walks spec scenario S1: a page with
// a small traffic dip and otherwise healthy signals stays unflagged.
func TestScorePage_S1_MinorDeclineIsStable(t *testing.T) {
	in := ScoreInputs{
		Page: &models.Page{
			HasForm:  true,
			IsIndexed: true,
		},
		Analytics: &models.AnalyticsSnapshot{TrafficChangePct: -8.33},
		Search:    &models.SearchSnapshot{AvgPosition: 8},
		Speed:     &models.SpeedScore{PerformanceScore: 95},
	}
	age := 45
	in.ContentAge = &age

	b := ScorePage(in)

	want := models.ScoreBreakdown{
		TrafficTrend:     15,
		SEORanking:       20,
		PageSpeed:        20,
		ContentFreshness: 15,
		ConversionHealth: 5,
		TechnicalHealth:  10,
	}
	if b != want {
		t.Fatalf("breakdown = %+v, want %+v", b, want)
	}
	if total := b.Total(); total != 85 {
		t.Fatalf("total = %d, want 85", total)
	}
	if IsFlagged(b.Total()) {
		t.Fatalf("score %d should not be flagged", b.Total())
	}
}

// TestScorePage_S2_SevereDeclineFlagsAndCriticals walks spec scenario S2: the
// same page with severe decline across every dimension crosses both the
// flagged and critical thresholds.
func TestScorePage_S2_SevereDeclineFlagsAndCriticals(t *testing.T) {
	in := ScoreInputs{
		Page: &models.Page{
			HasForm:   true,
			IsIndexed: true,
			MetaIssues: []string{MetaIssueMissingMeta, MetaIssueTitleTooLong},
		},
		Analytics: &models.AnalyticsSnapshot{TrafficChangePct: -58.3},
		Search:    &models.SearchSnapshot{AvgPosition: 25},
		Speed:     &models.SpeedScore{PerformanceScore: 45},
	}
	age := 400
	in.ContentAge = &age

	b := ScorePage(in)

	want := models.ScoreBreakdown{
		TrafficTrend:     0,
		SEORanking:       8,
		PageSpeed:        0,
		ContentFreshness: 0,
		ConversionHealth: 5,
		TechnicalHealth:  7,
	}
	if b != want {
		t.Fatalf("breakdown = %+v, want %+v", b, want)
	}
	if total := b.Total(); total != 20 {
		t.Fatalf("total = %d, want 20", total)
	}
	if !IsFlagged(b.Total()) {
		t.Fatalf("score %d should be flagged", b.Total())
	}
	if !IsCritical(b.Total()) {
		t.Fatalf("score %d should be critical", b.Total())
	}
}

func TestIsFlaggedIsCriticalThresholds(t *testing.T) {
	cases := []struct {
		total           int
		flagged, critical bool
	}{
		{49, true, false},
		{50, false, false},
		{29, true, true},
		{30, true, false},
		{0, true, true},
		{100, false, false},
	}
	for _, c := range cases {
		if got := IsFlagged(c.total); got != c.flagged {
			t.Errorf("IsFlagged(%d) = %v, want %v", c.total, got, c.flagged)
		}
		if got := IsCritical(c.total); got != c.critical {
			t.Errorf("IsCritical(%d) = %v, want %v", c.total, got, c.critical)
		}
	}
}

func TestScorePage_MissingDataFallbacks(t *testing.T) {
	b := ScorePage(ScoreInputs{Page: nil})
	want := models.ScoreBreakdown{
		TrafficTrend:     10,
		SEORanking:       0,
		PageSpeed:        10,
		ContentFreshness: 0,
		ConversionHealth: 8,
		TechnicalHealth:  10,
	}
	if b != want {
		t.Fatalf("breakdown = %+v, want %+v", b, want)
	}
}

func TestPagePath(t *testing.T) {
	cases := []struct {
		url        string
		wantPath   string
		wantParsed bool
	}{
		{"https://example.com/foo/bar", "/foo/bar", true},
		{"https://example.com", "https://example.com", false},
		{"http://example.com/%zz", "http://example.com/%zz", false},
	}
	for _, c := range cases {
		path, parsed := PagePath(c.url)
		if path != c.wantPath || parsed != c.wantParsed {
			t.Errorf("PagePath(%q) = (%q, %v), want (%q, %v)", c.url, path, parsed, c.wantPath, c.wantParsed)
		}
	}
}

func TestNormalizeSearchKey(t *testing.T) {
	if got := NormalizeSearchKey("/foo/"); got != "/foo" {
		t.Errorf("NormalizeSearchKey(/foo/) = %q, want /foo", got)
	}
	if got := NormalizeSearchKey("/"); got != "/" {
		t.Errorf("NormalizeSearchKey(/) = %q, want /", got)
	}
}
