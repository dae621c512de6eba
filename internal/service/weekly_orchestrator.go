package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/sitewatch/internal/constants"
	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/jmylchreest/sitewatch/internal/repository"
)

// WeeklyOrchestrator runs the deeper weekly sweep (C11): a full sitemap
// link sweep instead of a 15-URL sample, a conversion-tracking audit, a
// keyword-coverage analysis over the signal bus, a trend snapshot, and a
// narrative digest.
type WeeklyOrchestrator struct {
	pages      repository.PageRepository
	conversion repository.ConversionAuditRepository
	trends     repository.TrendRepository
	digests    repository.WeeklyDigestRepository
	linkHealth repository.LinkHealthRepository
	changes    repository.ChangeLogRepository
	signals    repository.SignalRepository

	metaAuditor *MetaAuditor
	analytics   *AnalyticsAdapter
	search      *SearchAdapter
	cms         *CMSAdapter
	sitemap     *SitemapReader
	linkDisc    *LinkDiscoverer
	linkCheck   *LinkCheckAdapter
	llm         *LLMClient
	archive     *StorageArchive

	baseSiteURL string
	logger      *slog.Logger
}

func NewWeeklyOrchestrator(
	pages repository.PageRepository,
	conversion repository.ConversionAuditRepository,
	trends repository.TrendRepository,
	digests repository.WeeklyDigestRepository,
	linkHealth repository.LinkHealthRepository,
	changes repository.ChangeLogRepository,
	signals repository.SignalRepository,
	metaAuditor *MetaAuditor,
	analytics *AnalyticsAdapter,
	search *SearchAdapter,
	cms *CMSAdapter,
	sitemap *SitemapReader,
	linkDisc *LinkDiscoverer,
	linkCheck *LinkCheckAdapter,
	llm *LLMClient,
	archive *StorageArchive,
	baseSiteURL string,
	logger *slog.Logger,
) *WeeklyOrchestrator {
	return &WeeklyOrchestrator{
		pages: pages, conversion: conversion, trends: trends, digests: digests,
		linkHealth: linkHealth, changes: changes, signals: signals,
		metaAuditor: metaAuditor, analytics: analytics, search: search, cms: cms,
		sitemap: sitemap, linkDisc: linkDisc, linkCheck: linkCheck, llm: llm, archive: archive,
		baseSiteURL: baseSiteURL, logger: logger.With("component", "weekly_orchestrator"),
	}
}

// WeeklyReport summarizes one run.
type WeeklyReport struct {
	StartedAt       time.Time
	FinishedAt      time.Time
	LinksChecked    int
	NewlyResolved   int
	GapKeywords     int
	StalePages      int
	StepErrors      map[string]string
	DigestSource    models.DigestSource
}

// Run executes the nine-step weekly sweep against the shared 120s deadline.
func (o *WeeklyOrchestrator) Run(ctx context.Context) *WeeklyReport {
	ctx, cancel := context.WithTimeout(ctx, constants.WeeklyDeadline)
	defer cancel()

	start := time.Now().UTC()
	report := &WeeklyReport{StartedAt: start, StepErrors: map[string]string{}}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	window := WindowRange{Start: today.AddDate(0, 0, -7), End: today}
	previousWindow := WindowRange{Start: today.AddDate(0, 0, -14), End: today.AddDate(0, 0, -7)}

	inventory, err := o.pages.ListActive(ctx)
	if err != nil {
		report.StepErrors["load_inventory"] = err.Error()
	}

	// Step 2: search + analytics (already reflected via daily scans; the
	// weekly run refreshes them against its own 7-day window).
	dateStr := today.Format("2006-01-02")
	if _, err := o.search.FetchPageMetrics(ctx, window, previousWindow, dateStr); err != nil {
		report.StepErrors["search_refresh"] = err.Error()
	}
	analyticsSnaps, err := o.analytics.FetchPageMetrics(ctx, window, previousWindow, dateStr)
	if err != nil {
		report.StepErrors["analytics_refresh"] = err.Error()
	}

	// Step 3: conversion audit.
	audit, err := o.runConversionAudit(ctx, window, inventory)
	if err != nil {
		report.StepErrors["conversion_audit"] = err.Error()
	}

	// Step 4: full sitemap link sweep.
	linksChecked, resolved := o.runFullLinkSweep(ctx, inventory)
	report.LinksChecked = linksChecked
	report.NewlyResolved = resolved

	// Step 5: full meta audit (reconfirm inventory state).
	issuesByURL := o.metaAuditor.Audit(inventory)
	applyMetaIssues(inventory, issuesByURL)

	// Step 6: keyword-coverage analysis.
	gaps, err := o.analyzeKeywordCoverage(ctx)
	if err != nil {
		report.StepErrors["keyword_coverage"] = err.Error()
	}
	report.GapKeywords = len(gaps)

	// Step 7: stale-page sweep.
	stale := stalePages(inventory)
	report.StalePages = len(stale)

	// Step 8: trend snapshot.
	trend, err := o.buildTrendSnapshot(ctx, inventory, analyticsSnaps)
	if err != nil {
		report.StepErrors["trend_snapshot"] = err.Error()
	}

	// Step 9: narrative digest.
	source := o.writeDigest(ctx, today, audit, trend, gaps, stale, report)
	report.DigestSource = source

	report.FinishedAt = time.Now().UTC()

	if err := o.changes.Append(ctx, &models.ChangeLogEntry{
		ID:         ulid.Make().String(),
		ActionType: "weekly_digest_complete",
		Outcome:    models.OutcomeExecuted,
		Detail: map[string]any{
			"links_checked": report.LinksChecked, "newly_resolved": report.NewlyResolved,
			"gap_keywords": report.GapKeywords, "stale_pages": report.StalePages,
		},
		ExecutedAt: &report.FinishedAt,
		ExecutedBy: "system",
		CreatedAt:  report.FinishedAt,
	}); err != nil {
		report.StepErrors["change_log"] = err.Error()
	}

	o.signals.Emit(ctx, &models.Signal{
		ID: ulid.Make().String(), SourceAgent: "thyme", EventType: "weekly_digest_complete",
		Payload: map[string]any{"links_checked": report.LinksChecked, "gap_keywords": report.GapKeywords},
		CreatedAt: report.FinishedAt,
	})

	return report
}

func (o *WeeklyOrchestrator) runConversionAudit(ctx context.Context, window WindowRange, inventory []*models.Page) (*models.ConversionAudit, error) {
	events, err := o.analytics.FetchKeyEvents(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("conversion audit: %w", err)
	}

	var formPages []*models.Page
	for _, p := range inventory {
		if p.HasForm {
			formPages = append(formPages, p)
		}
	}
	cmsIDs := make([]string, 0, len(formPages))
	for _, p := range formPages {
		cmsIDs = append(cmsIDs, p.CMSPageID)
	}
	counts, err := o.cms.FormSubmissionCounts(ctx, cmsIDs)
	if err != nil {
		return nil, fmt.Errorf("conversion audit: form counts: %w", err)
	}

	eventNames := make(map[string]bool, len(events))
	totalSubmissions := 0
	for _, e := range events {
		eventNames[normalizeConversionName(e.Name)] = true
	}
	gapCount := 0
	for _, p := range formPages {
		totalSubmissions += counts[p.CMSPageID]
		matched := false
		for name := range eventNames {
			if strings.Contains(normalizeConversionName(p.Title), name) || strings.Contains(name, normalizeConversionName(p.Slug)) {
				matched = true
				break
			}
		}
		if !matched {
			gapCount++
		}
	}

	health := models.TrackingHealthy
	switch {
	case len(events) == 0:
		health = models.TrackingNotConfigured
	case gapCount >= len(formPages) && len(formPages) > 0:
		health = models.TrackingBroken
	case gapCount > 0:
		health = models.TrackingDegraded
	}

	audit := &models.ConversionAudit{
		ID:                   ulid.Make().String(),
		RunDate:              time.Now().UTC().Format("2006-01-02"),
		TrackingHealth:       health,
		ConfiguredEventCount: len(events),
		FormCount:            len(formPages),
		TotalFormSubmissions: totalSubmissions,
		GapCount:             gapCount,
		Recommendations:      conversionRecommendations(health, gapCount, totalSubmissions),
		CreatedAt:            time.Now().UTC(),
	}
	if err := o.conversion.Insert(ctx, audit); err != nil {
		return audit, fmt.Errorf("conversion audit: persist: %w", err)
	}
	return audit, nil
}

func normalizeConversionName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// conversionRecommendations builds the audit's structured, prioritized
// recommendation list (spec.md SPEC_FULL §3: "ordered list of structured
// recommendation objects with priority"). The not_configured and broken
// cases cite the submission total so a reviewer sees exactly how much
// conversion activity is going untracked (spec scenario S5).
func conversionRecommendations(health models.TrackingHealth, gapCount, totalSubmissions int) []models.ConversionRecommendation {
	switch health {
	case models.TrackingNotConfigured:
		return []models.ConversionRecommendation{{
			Text:     fmt.Sprintf("No conversion events are configured in analytics; %d form submissions this period are going untracked. Configure at least one key event to track form conversions.", totalSubmissions),
			Priority: models.SeverityCritical,
		}}
	case models.TrackingBroken:
		return []models.ConversionRecommendation{{
			Text:     fmt.Sprintf("No form on the site maps to a configured conversion event; conversion tracking is effectively absent despite %d recorded form submissions.", totalSubmissions),
			Priority: models.SeverityCritical,
		}}
	case models.TrackingDegraded:
		return []models.ConversionRecommendation{{
			Text:     fmt.Sprintf("%d form page(s) have no matching conversion event configured.", gapCount),
			Priority: models.SeverityMedium,
		}}
	default:
		return nil
	}
}

// runFullLinkSweep replaces the scan orchestrator's 15-URL sample with a
// full crawl: the union of sitemap URLs and a same-domain link discovery
// pass, deduplicated.
func (o *WeeklyOrchestrator) runFullLinkSweep(ctx context.Context, inventory []*models.Page) (checked, resolved int) {
	seen := map[string]bool{}
	var targets []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			targets = append(targets, u)
		}
	}

	if sitemapURLs, ok := o.sitemap.Discover(ctx, o.baseSiteURL); ok {
		for _, u := range sitemapURLs {
			add(u)
		}
	}
	for _, u := range o.linkDisc.Crawl(ctx, o.baseSiteURL) {
		add(u)
	}
	for _, p := range inventory {
		add(p.URL)
	}

	results := o.linkCheck.CheckBatch(ctx, o.baseSiteURL, targets)
	checked = len(results)
	for _, r := range results {
		record := &models.LinkHealthRecord{
			SourcePageURL: o.baseSiteURL,
			TargetURL:     r.TargetURL,
			LinkType:      o.linkCheck.ClassifyLinkType(r.TargetURL),
			IsBroken:      r.IsBroken,
			IsRedirect:    r.IsRedirect,
			RedirectChain: r.RedirectChain,
			RedirectCount: max(0, len(r.RedirectChain)-1),
			ErrorMessage:  r.ErrorMessage,
			LastCheckedAt: time.Now().UTC(),
		}
		if r.HTTPStatus != 0 {
			status := r.HTTPStatus
			record.HTTPStatus = &status
		}
		if !r.IsBroken {
			if err := o.linkHealth.MarkResolved(ctx, o.baseSiteURL, r.TargetURL, time.Now().UTC()); err == nil {
				resolved++
			}
		}
		_ = o.linkHealth.Upsert(ctx, record)
	}
	return checked, resolved
}

// KeywordGap names a trending or high-CPC keyword the site does not rank
// for organically (no row with position <= 20).
type KeywordGap struct {
	Keyword       string
	HasCoverage   bool
	BestPosition  float64
}

// analyzeKeywordCoverage consumes recent trending_search_term and
// high_cpc_alert signals, extracts distinct keywords, and checks each
// against the search index for organic coverage.
func (o *WeeklyOrchestrator) analyzeKeywordCoverage(ctx context.Context) ([]KeywordGap, error) {
	sigs, err := o.signals.Query(ctx, "", []string{"trending_search_term", "high_cpc_alert"}, time.Now().AddDate(0, 0, -7), 200)
	if err != nil {
		return nil, fmt.Errorf("keyword coverage: %w", err)
	}
	keywords := extractSignalKeywords(sigs)

	rows, err := o.search.FetchTopQueries(ctx, WindowRange{Start: time.Now().AddDate(0, 0, -28), End: time.Now()}, 500)
	if err != nil {
		return nil, fmt.Errorf("keyword coverage: %w", err)
	}
	return keywordGaps(keywords, rows), nil
}

// extractSignalKeywords pulls the distinct, normalized "keyword" field off
// a batch of trending_search_term/high_cpc_alert signals.
func extractSignalKeywords(sigs []*models.Signal) []string {
	seen := map[string]bool{}
	var keywords []string
	for _, s := range sigs {
		if kw, ok := s.Payload["keyword"].(string); ok && kw != "" {
			norm := strings.ToLower(strings.TrimSpace(kw))
			if !seen[norm] {
				seen[norm] = true
				keywords = append(keywords, norm)
			}
		}
	}
	return keywords
}

// keywordGaps classifies each keyword against the search index's best
// ranking position: covered when a query row exists at position <= 20,
// a gap otherwise (spec.md §4.11 step 6 / scenario S6).
func keywordGaps(keywords []string, rows []QueryRow) []KeywordGap {
	byQuery := make(map[string]float64, len(rows))
	for _, r := range rows {
		q := strings.ToLower(strings.TrimSpace(r.Query))
		if existing, ok := byQuery[q]; !ok || r.Position < existing {
			byQuery[q] = r.Position
		}
	}

	var gaps []KeywordGap
	for _, kw := range keywords {
		pos, found := byQuery[kw]
		gap := KeywordGap{Keyword: kw}
		if found && pos > 0 && pos <= 20 {
			gap.HasCoverage = true
			gap.BestPosition = pos
		} else {
			gaps = append(gaps, gap)
		}
	}
	return gaps
}

func stalePages(inventory []*models.Page) []*models.Page {
	var stale []*models.Page
	for _, p := range inventory {
		if p.LastUpdatedAt == nil {
			stale = append(stale, p)
			continue
		}
		if time.Since(*p.LastUpdatedAt) > 180*24*time.Hour {
			stale = append(stale, p)
		}
	}
	return stale
}

func (o *WeeklyOrchestrator) buildTrendSnapshot(ctx context.Context, inventory []*models.Page, analyticsSnaps []*models.AnalyticsSnapshot) (*models.TrendSnapshot, error) {
	prior, err := o.trends.Latest(ctx, models.TrendPeriodWeekly)
	if err != nil {
		prior = nil
	}

	analyticsByPath := make(map[string]*models.AnalyticsSnapshot, len(analyticsSnaps))
	for _, a := range analyticsSnaps {
		analyticsByPath[a.PageURL] = a
	}

	totalTraffic := 0
	totalScore := 0
	distribution := [5]int{}
	deltas := make([]models.PageDelta, 0, len(inventory))

	for _, p := range inventory {
		totalScore += p.HealthScore
		distribution[scoreBucket(p.HealthScore)]++

		path, _ := PagePath(p.URL)
		if snap, ok := analyticsByPath[path]; ok {
			totalTraffic += snap.ActiveUsers
			deltas = append(deltas, models.PageDelta{PageURL: p.URL, TrafficChangePct: snap.TrafficChangePct})
		}
	}
	var avgScore float64
	if len(inventory) > 0 {
		avgScore = float64(totalScore) / float64(len(inventory))
	}

	brokenCount, _ := o.linkHealth.BrokenCount(ctx)
	newBroken, _ := o.linkHealth.NewlyBrokenSince(ctx, time.Now().AddDate(0, 0, -7))
	metaIssuesCount := 0
	for _, p := range inventory {
		metaIssuesCount += len(p.MetaIssues)
	}

	var trafficChangePct float64
	if prior != nil && prior.TotalTraffic > 0 {
		trafficChangePct = 100 * float64(totalTraffic-prior.TotalTraffic) / float64(prior.TotalTraffic)
	}

	topDeclining := topN(deltas, 5, true)
	topImproving := topN(deltas, 5, false)

	snap := &models.TrendSnapshot{
		ID:                      ulid.Make().String(),
		Period:                  models.TrendPeriodWeekly,
		PeriodStart:             time.Now().UTC().Format("2006-01-02"),
		TotalTraffic:            totalTraffic,
		TrafficChangePct:        trafficChangePct,
		AvgHealthScore:          avgScore,
		HealthScoreDistribution: distribution,
		TopDecliningPages:       topDeclining,
		TopImprovingPages:       topImproving,
		BrokenLinksCount:        brokenCount,
		NewBrokenLinks:          newBroken,
		MetaIssuesCount:         metaIssuesCount,
		CreatedAt:               time.Now().UTC(),
	}
	if err := o.trends.Insert(ctx, snap); err != nil {
		return snap, fmt.Errorf("trend snapshot: %w", err)
	}

	if newBroken > 0 {
		o.signals.Emit(ctx, &models.Signal{ID: ulid.Make().String(), SourceAgent: "thyme", EventType: "new_broken_links", Payload: map[string]any{"count": newBroken}, CreatedAt: time.Now().UTC()})
	}
	if trafficChangePct < -15 {
		o.signals.Emit(ctx, &models.Signal{ID: ulid.Make().String(), SourceAgent: "thyme", EventType: "site_traffic_decline", Payload: map[string]any{"traffic_change_pct": trafficChangePct}, CreatedAt: time.Now().UTC()})
	}

	return snap, nil
}

func scoreBucket(score int) int {
	switch {
	case score < 20:
		return 0
	case score < 40:
		return 1
	case score < 60:
		return 2
	case score < 80:
		return 3
	default:
		return 4
	}
}

func topN(deltas []models.PageDelta, n int, ascending bool) []models.PageDelta {
	if len(deltas) == 0 {
		return nil
	}
	sorted := append([]models.PageDelta{}, deltas...)
	sort.Slice(sorted, func(i, j int) bool {
		if ascending {
			return sorted[i].TrafficChangePct < sorted[j].TrafficChangePct
		}
		return sorted[i].TrafficChangePct > sorted[j].TrafficChangePct
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func (o *WeeklyOrchestrator) writeDigest(ctx context.Context, weekStart time.Time, audit *models.ConversionAudit, trend *models.TrendSnapshot, gaps []KeywordGap, stale []*models.Page, report *WeeklyReport) models.DigestSource {
	figures := map[string]any{
		"links_checked": report.LinksChecked, "newly_resolved": report.NewlyResolved,
		"gap_keywords": report.GapKeywords, "stale_pages": len(stale),
	}
	if len(gaps) > 0 {
		gapDetail := make([]map[string]any, 0, len(gaps))
		for _, g := range gaps {
			entry := map[string]any{"keyword": g.Keyword, "has_organic_page": g.HasCoverage}
			if g.HasCoverage {
				entry["position"] = g.BestPosition
			} else {
				entry["position"] = nil
			}
			gapDetail = append(gapDetail, entry)
		}
		figures["keyword_gaps"] = gapDetail
	}
	if trend != nil {
		figures["avg_health_score"] = trend.AvgHealthScore
		figures["traffic_change_pct"] = trend.TrafficChangePct
		figures["broken_links"] = trend.BrokenLinksCount
	}
	if audit != nil {
		figures["tracking_health"] = string(audit.TrackingHealth)
	}

	narrative, err := o.llm.Complete(ctx, weeklyDigestSystemPrompt, renderDigestPrompt(figures))
	source := models.DigestSourceLLM
	if err != nil || narrative == "" {
		o.logger.Warn("weekly digest narrative generation failed, using fallback", "error", err)
		narrative = fallbackDigest(figures)
		source = models.DigestSourceFallback
	}

	digest := &models.WeeklyDigest{
		ID:          ulid.Make().String(),
		WeekStart:   weekStart.Format("2006-01-02"),
		Narrative:   narrative,
		Figures:     figures,
		GeneratedBy: source,
		CreatedAt:   time.Now().UTC(),
	}

	if o.archive != nil {
		if url, err := o.archive.ArchiveDigest(ctx, digest); err == nil && url != "" {
			digest.ArchiveURL = &url
		}
	}

	if err := o.digests.Insert(ctx, digest); err != nil {
		o.logger.Warn("failed to persist weekly digest", "error", err)
	}
	return source
}

const weeklyDigestSystemPrompt = `You summarize a week of website health data for a marketing team. Produce a concise summary, no more than a few short paragraphs, highlighting the most actionable findings.`

func renderDigestPrompt(figures map[string]any) string {
	return fmt.Sprintf("This week's figures: %+v. Write a short narrative summary for a non-technical stakeholder.", figures)
}

func fallbackDigest(figures map[string]any) string {
	return fmt.Sprintf("Weekly summary unavailable from the language model. Raw figures: %+v", figures)
}
