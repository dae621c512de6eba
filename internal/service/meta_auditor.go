package service

import (
	"strings"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// Meta issue vocabulary (closed set, spec.md §4.6).
const (
	MetaIssueMissingTitle   = "missing_title"
	MetaIssueMissingMeta    = "missing_meta"
	MetaIssueTitleTooLong   = "title_too_long"
	MetaIssueTitleTooShort  = "title_too_short"
	MetaIssueMetaTooLong    = "meta_too_long"
	MetaIssueMetaTooShort   = "meta_too_short"
	MetaIssueDuplicateTitle = "duplicate_title"
	MetaIssueDuplicateMeta  = "duplicate_meta"
)

const (
	titleMaxLen = 60
	titleMinLen = 30
	metaMaxLen  = 160
	metaMinLen  = 70
)

// MetaAuditor is a pure function over the page inventory (C6): no network,
// no store access, so it is trivially safe to call twice on the same input
// and get the identical issue set back (testable property 7).
type MetaAuditor struct{}

func NewMetaAuditor() *MetaAuditor { return &MetaAuditor{} }

// Audit computes a fresh meta_issues set for every page in the inventory.
// Duplicate detection (duplicate_title, duplicate_meta) is case-insensitive
// and trimmed, computed across the full inventory passed in, not per-page.
func (a *MetaAuditor) Audit(pages []*models.Page) map[string][]string {
	titleCounts := make(map[string]int, len(pages))
	metaCounts := make(map[string]int, len(pages))
	for _, p := range pages {
		if t := normalizeForDup(p.Title); t != "" {
			titleCounts[t]++
		}
		if m := normalizeForDup(p.MetaDescription); m != "" {
			metaCounts[m]++
		}
	}

	result := make(map[string][]string, len(pages))
	for _, p := range pages {
		result[p.URL] = auditPage(p, titleCounts, metaCounts)
	}
	return result
}

func auditPage(p *models.Page, titleCounts, metaCounts map[string]int) []string {
	var issues []string

	title := strings.TrimSpace(p.Title)
	meta := strings.TrimSpace(p.MetaDescription)

	switch {
	case title == "":
		issues = append(issues, MetaIssueMissingTitle)
	case len(title) > titleMaxLen:
		issues = append(issues, MetaIssueTitleTooLong)
	case len(title) < titleMinLen:
		issues = append(issues, MetaIssueTitleTooShort)
	}

	switch {
	case meta == "":
		issues = append(issues, MetaIssueMissingMeta)
	case len(meta) > metaMaxLen:
		issues = append(issues, MetaIssueMetaTooLong)
	case len(meta) < metaMinLen:
		issues = append(issues, MetaIssueMetaTooShort)
	}

	if t := normalizeForDup(p.Title); t != "" && titleCounts[t] > 1 {
		issues = append(issues, MetaIssueDuplicateTitle)
	}
	if m := normalizeForDup(p.MetaDescription); m != "" && metaCounts[m] > 1 {
		issues = append(issues, MetaIssueDuplicateMeta)
	}

	return issues
}

func normalizeForDup(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
