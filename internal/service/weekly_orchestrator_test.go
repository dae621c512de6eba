package service

import (
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

func TestNormalizeConversionName(t *testing.T) {
	if got := normalizeConversionName("  Demo Request  "); got != "demo request" {
		t.Errorf("normalizeConversionName = %q, want %q", got, "demo request")
	}
}

// TestConversionRecommendations_S5 covers scenario S5: zero configured
// conversion events against 5 forms with 37 total submissions must surface
// exactly one critical recommendation whose text cites the submission
// total.
func TestConversionRecommendations_S5(t *testing.T) {
	got := conversionRecommendations(models.TrackingNotConfigured, 0, 37)
	if len(got) != 1 {
		t.Fatalf("TrackingNotConfigured recommendations = %v, want exactly one", got)
	}
	if got[0].Priority != models.SeverityCritical {
		t.Errorf("TrackingNotConfigured priority = %q, want %q", got[0].Priority, models.SeverityCritical)
	}
	if !strings.Contains(got[0].Text, "37") {
		t.Errorf("TrackingNotConfigured recommendation = %q, want it to cite the submission total (37)", got[0].Text)
	}

	if got := conversionRecommendations(models.TrackingBroken, 3, 12); len(got) != 1 || got[0].Priority != models.SeverityCritical || !strings.Contains(got[0].Text, "12") {
		t.Errorf("TrackingBroken recommendations = %+v, want one critical recommendation citing 12 submissions", got)
	}

	degraded := conversionRecommendations(models.TrackingDegraded, 2, 20)
	if len(degraded) != 1 {
		t.Fatalf("TrackingDegraded recommendations = %v, want exactly one", degraded)
	}
	if degraded[0].Priority != models.SeverityMedium {
		t.Errorf("TrackingDegraded priority = %q, want %q", degraded[0].Priority, models.SeverityMedium)
	}
	if degraded[0].Text != "2 form page(s) have no matching conversion event configured." {
		t.Errorf("TrackingDegraded recommendation = %q, unexpected text", degraded[0].Text)
	}

	if got := conversionRecommendations(models.TrackingHealthy, 0, 0); got != nil {
		t.Errorf("TrackingHealthy recommendations = %v, want none", got)
	}
}

func TestStalePages(t *testing.T) {
	recent := time.Now().Add(-24 * time.Hour)
	old := time.Now().Add(-200 * 24 * time.Hour)
	pages := []*models.Page{
		{URL: "/fresh", LastUpdatedAt: &recent},
		{URL: "/stale", LastUpdatedAt: &old},
		{URL: "/unknown-age", LastUpdatedAt: nil},
	}

	stale := stalePages(pages)
	if len(stale) != 2 {
		t.Fatalf("stalePages returned %d pages, want 2", len(stale))
	}
	urls := map[string]bool{stale[0].URL: true, stale[1].URL: true}
	if !urls["/stale"] || !urls["/unknown-age"] {
		t.Errorf("stalePages = %v, want /stale and /unknown-age", stale)
	}
}

func TestScoreBucket(t *testing.T) {
	cases := []struct {
		score int
		want  int
	}{
		{0, 0}, {19, 0}, {20, 1}, {39, 1}, {40, 2}, {59, 2}, {60, 3}, {79, 3}, {80, 4}, {100, 4},
	}
	for _, c := range cases {
		if got := scoreBucket(c.score); got != c.want {
			t.Errorf("scoreBucket(%d) = %d, want %d", c.score, got, c.want)
		}
	}
}

// TestKeywordGaps_S6 covers scenario S6: a high_cpc_alert signal for
// "food erp" with no matching search-index rows surfaces as an uncovered
// gap (hasOrganicPage=false, position unset).
func TestKeywordGaps_S6(t *testing.T) {
	sigs := []*models.Signal{
		{
			SourceAgent: "other-agent",
			EventType:   "high_cpc_alert",
			Payload:     map[string]any{"keyword": "food erp", "cpc": 12.4},
			CreatedAt:   time.Now().Add(-3 * 24 * time.Hour),
		},
	}
	keywords := extractSignalKeywords(sigs)
	if len(keywords) != 1 || keywords[0] != "food erp" {
		t.Fatalf("extractSignalKeywords = %v, want [\"food erp\"]", keywords)
	}

	gaps := keywordGaps(keywords, nil)
	if len(gaps) != 1 {
		t.Fatalf("keywordGaps = %v, want exactly one gap", gaps)
	}
	if gaps[0].Keyword != "food erp" {
		t.Errorf("gap keyword = %q, want %q", gaps[0].Keyword, "food erp")
	}
	if gaps[0].HasCoverage {
		t.Errorf("gap HasCoverage = true, want false (no search rows for this keyword)")
	}
	if gaps[0].BestPosition != 0 {
		t.Errorf("gap BestPosition = %v, want the zero value (no ranking position)", gaps[0].BestPosition)
	}
}

// TestKeywordGaps_Covered checks the opposite branch: a keyword with a
// ranking row at position <= 20 is reported as covered, not a gap.
func TestKeywordGaps_Covered(t *testing.T) {
	rows := []QueryRow{{Query: "site health monitoring", Position: 4.5}}
	gaps := keywordGaps([]string{"site health monitoring"}, rows)
	if len(gaps) != 0 {
		t.Fatalf("keywordGaps = %v, want no gaps for a covered keyword", gaps)
	}
}

func TestTopN(t *testing.T) {
	deltas := []models.PageDelta{
		{PageURL: "/a", TrafficChangePct: -50},
		{PageURL: "/b", TrafficChangePct: 20},
		{PageURL: "/c", TrafficChangePct: -10},
		{PageURL: "/d", TrafficChangePct: 40},
	}

	declining := topN(deltas, 2, true)
	if len(declining) != 2 || declining[0].PageURL != "/a" || declining[1].PageURL != "/c" {
		t.Errorf("topN(ascending) = %v, want [/a, /c]", declining)
	}

	improving := topN(deltas, 2, false)
	if len(improving) != 2 || improving[0].PageURL != "/d" || improving[1].PageURL != "/b" {
		t.Errorf("topN(descending) = %v, want [/d, /b]", improving)
	}

	if got := topN(nil, 5, true); got != nil {
		t.Errorf("topN(empty) = %v, want nil", got)
	}
}
