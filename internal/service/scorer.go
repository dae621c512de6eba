package service

import (
	"net/url"
	"strings"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// ScoreInputs bundles the per-page signals the scorer needs. Any pointer
// left nil means "no data for this source" and the dimension falls back to
// its missing-data score: 10 for traffic and speed, 0 for search position
// and content age, and for a nil Page 8 for conversion and 10 for
// technical health.
type ScoreInputs struct {
	Page       *models.Page
	Analytics  *models.AnalyticsSnapshot
	Search     *models.SearchSnapshot
	Speed      *models.SpeedScore
	ContentAge *int // days; nil when unknown
}

// ScorePage is the pure health-scoring function (C7): six independent
// sub-scores summing to a 0-100 total. Each sub-score's bucketing and
// missing-data fallback mirrors spec.md §4.7 exactly.
func ScorePage(in ScoreInputs) models.ScoreBreakdown {
	return models.ScoreBreakdown{
		TrafficTrend:     trafficTrendScore(in.Analytics),
		SEORanking:       seoRankingScore(in.Search),
		PageSpeed:        pageSpeedScore(in.Speed),
		ContentFreshness: contentFreshnessScore(in.ContentAge),
		ConversionHealth: conversionHealthScore(in.Page),
		TechnicalHealth:  technicalHealthScore(in.Page),
	}
}

func trafficTrendScore(a *models.AnalyticsSnapshot) int {
	if a == nil {
		return 10
	}
	switch {
	case a.TrafficChangePct >= 0:
		return 20
	case a.TrafficChangePct > -10:
		return 15
	case a.TrafficChangePct > -30:
		return 8
	default:
		return 0
	}
}

func seoRankingScore(s *models.SearchSnapshot) int {
	if s == nil {
		return 0
	}
	switch {
	case s.AvgPosition <= 10:
		return 20
	case s.AvgPosition <= 20:
		return 15
	case s.AvgPosition <= 50:
		return 8
	default:
		return 0
	}
}

func pageSpeedScore(sp *models.SpeedScore) int {
	if sp == nil {
		return 10
	}
	switch {
	case sp.PerformanceScore >= 90:
		return 20
	case sp.PerformanceScore >= 70:
		return 15
	case sp.PerformanceScore >= 50:
		return 8
	default:
		return 0
	}
}

// contentFreshnessScore has no missing-data fallback distinct from its
// buckets: a nil age is treated as "else" (the oldest bucket), matching the
// spec's silence on a separate missing-data value for this dimension.
func contentFreshnessScore(ageDays *int) int {
	if ageDays == nil {
		return 0
	}
	age := *ageDays
	switch {
	case age < 90:
		return 15
	case age < 180:
		return 10
	case age < 365:
		return 5
	default:
		return 0
	}
}

func conversionHealthScore(p *models.Page) int {
	if p == nil {
		return 8
	}
	if p.HasForm {
		return 5
	}
	switch p.PageType {
	case models.PageTypeBlog:
		return 10
	case models.PageTypeLanding:
		return 0
	default:
		return 8
	}
}

func technicalHealthScore(p *models.Page) int {
	if p == nil {
		return 10
	}
	score := 10
	hasMissingMeta := false
	hasMissingTitle := false
	hasTitleIssue := false
	hasDuplicate := false
	for _, issue := range p.MetaIssues {
		switch issue {
		case MetaIssueMissingMeta:
			hasMissingMeta = true
		case MetaIssueMissingTitle:
			hasMissingTitle = true
		case MetaIssueTitleTooLong, MetaIssueTitleTooShort:
			hasTitleIssue = true
		case MetaIssueDuplicateTitle, MetaIssueDuplicateMeta:
			hasDuplicate = true
		}
	}
	if hasMissingMeta {
		score -= 2
	}
	if hasMissingTitle {
		score -= 2
	}
	if hasTitleIssue {
		score -= 1
	}
	if hasDuplicate {
		score -= 1
	}
	if p.HasBrokenLinks {
		score -= 2
	}
	if !p.IsIndexed {
		score -= 2
	}
	if score < 0 {
		score = 0
	}
	return score
}

// IsFlagged reports whether a total score puts the page in the flagged set.
func IsFlagged(total int) bool { return total < 50 }

// IsCritical reports whether a total score puts the page in the critical set.
func IsCritical(total int) bool { return total < 30 }

// PagePath extracts the URL path for joining against analytics rows, which
// are keyed by path rather than absolute URL. A page URL that fails to
// parse falls back to the raw string, which will never match an analytics
// path — preserved per spec.md §9's open question rather than silently
// patched. The second return value reports whether parsing succeeded; the
// scan orchestrator discards it, so such pages are not counted.
func PagePath(pageURL string) (path string, parsed bool) {
	u, err := url.Parse(pageURL)
	if err != nil || u.Path == "" {
		return pageURL, false
	}
	return u.Path, true
}

// NormalizeSearchKey strips a trailing slash so a page URL and a search-index
// row for the same page compare equal regardless of trailing-slash variance.
func NormalizeSearchKey(u string) string {
	if u != "/" {
		return strings.TrimSuffix(u, "/")
	}
	return u
}
