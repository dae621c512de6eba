package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/sitewatch/internal/constants"
	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/jmylchreest/sitewatch/internal/repository"
)

// ScanOrchestrator runs the scheduled health scan (C8): the beating heart
// of the pipeline. Every stage records a per-step error string rather than
// aborting the run, so one adapter outage degrades the scan instead of
// killing it.
type ScanOrchestrator struct {
	pages       repository.PageRepository
	snapshots   repository.SnapshotRepository
	speedRepo   repository.SpeedRepository
	linkHealth  repository.LinkHealthRepository
	changes     repository.ChangeLogRepository
	signals     repository.SignalRepository

	inventory   *PageInventory
	metaAuditor *MetaAuditor
	analytics   *AnalyticsAdapter
	search      *SearchAdapter
	performance *PerformanceAdapter
	linkCheck   *LinkCheckAdapter
	sitemap     *SitemapReader
	agentLoop   *AgentLoop

	baseSiteURL string
	logger      *slog.Logger
}

func NewScanOrchestrator(
	pages repository.PageRepository,
	snapshots repository.SnapshotRepository,
	speedRepo repository.SpeedRepository,
	linkHealth repository.LinkHealthRepository,
	changes repository.ChangeLogRepository,
	signals repository.SignalRepository,
	inventory *PageInventory,
	metaAuditor *MetaAuditor,
	analytics *AnalyticsAdapter,
	search *SearchAdapter,
	performance *PerformanceAdapter,
	linkCheck *LinkCheckAdapter,
	sitemap *SitemapReader,
	agentLoop *AgentLoop,
	baseSiteURL string,
	logger *slog.Logger,
) *ScanOrchestrator {
	return &ScanOrchestrator{
		pages: pages, snapshots: snapshots, speedRepo: speedRepo, linkHealth: linkHealth,
		changes: changes, signals: signals, inventory: inventory, metaAuditor: metaAuditor,
		analytics: analytics, search: search, performance: performance, linkCheck: linkCheck,
		sitemap: sitemap, agentLoop: agentLoop, baseSiteURL: baseSiteURL,
		logger: logger.With("component", "scan_orchestrator"),
	}
}

// ScanReport summarizes one run for the caller and the change log.
type ScanReport struct {
	StartedAt        time.Time
	FinishedAt       time.Time
	PagesScored      int
	FlaggedCount     int
	CriticalCount    int
	StepErrors       map[string]string
	AgentLoopRan     bool
	SpeedChecksRun   int
	BrokenLinksFound int
}

// Run executes the 12-step scan pipeline against a 120s global deadline.
func (o *ScanOrchestrator) Run(ctx context.Context) *ScanReport {
	ctx, cancel := context.WithTimeout(ctx, constants.ScanDeadline)
	defer cancel()

	start := time.Now().UTC()
	report := &ScanReport{StartedAt: start, StepErrors: map[string]string{}}

	// Step 1: load active inventory.
	inventory, err := o.pages.ListActive(ctx)
	if err != nil {
		report.StepErrors["load_inventory"] = err.Error()
		inventory = nil
	}

	// Step 2: windows.
	today := time.Now().UTC().Truncate(24 * time.Hour)
	current := WindowRange{Start: today.AddDate(0, 0, -7), End: today}
	previous := WindowRange{Start: today.AddDate(0, 0, -14), End: today.AddDate(0, 0, -7)}
	dateStr := today.Format("2006-01-02")

	// Step 3: search snapshots.
	searchSnaps, err := o.search.FetchPageMetrics(ctx, current, previous, dateStr)
	if err != nil {
		report.StepErrors["search_snapshots"] = err.Error()
	} else if err := upsertInChunks(ctx, searchSnaps, constants.SnapshotUpsertChunk, o.snapshots.UpsertSearch); err != nil {
		report.StepErrors["search_snapshots_upsert"] = err.Error()
	}

	// Step 4: analytics snapshots.
	analyticsSnaps, err := o.analytics.FetchPageMetrics(ctx, current, previous, dateStr)
	if err != nil {
		report.StepErrors["analytics_snapshots"] = err.Error()
	} else if err := upsertInChunks(ctx, analyticsSnaps, constants.SnapshotUpsertChunk, o.snapshots.UpsertAnalytics); err != nil {
		report.StepErrors["analytics_snapshots_upsert"] = err.Error()
	}

	// Step 5: speed spot checks, budgeted against SpeedStageDeadline.
	speedByURL := make(map[string]*models.SpeedScore)
	if elapsed(start) < constants.SpeedStageDeadline {
		targets := o.selectSpeedCheckTargets(ctx, inventory)
		for _, pageURL := range targets {
			if elapsed(start) > constants.SpeedStageDeadline {
				break
			}
			score, err := o.performance.RunAudit(ctx, pageURL, models.StrategyMobile, dateStr)
			if err != nil || score == nil {
				continue
			}
			score.PageURL = pageURL
			if err := o.speedRepo.Insert(ctx, score); err != nil {
				report.StepErrors["speed_insert_"+pageURL] = err.Error()
				continue
			}
			speedByURL[pageURL] = score
			report.SpeedChecksRun++
		}
	} else {
		report.StepErrors["speed_checks"] = "skipped: stage deadline already exceeded"
	}

	// Step 6: CMS sync + inventory reload + form supplement.
	if _, err := o.inventory.Sync(ctx); err != nil {
		report.StepErrors["cms_sync"] = err.Error()
	}
	inventory, err = o.pages.ListActive(ctx)
	if err != nil {
		report.StepErrors["reload_inventory"] = err.Error()
	}

	// Step 7: broken-link check.
	broken := o.runBrokenLinkCheck(ctx, inventory)
	report.BrokenLinksFound = broken

	// Step 8: meta audit.
	issuesByURL := o.metaAuditor.Audit(inventory)
	if err := batchUpdateMetaIssues(ctx, o.pages, issuesByURL, constants.CMSUpdateFanOut); err != nil {
		report.StepErrors["meta_audit_update"] = err.Error()
	}
	applyMetaIssues(inventory, issuesByURL)

	// Step 9: score every page.
	analyticsByPath, err := o.snapshots.LatestAnalyticsByPath(ctx, dateStr)
	if err != nil {
		report.StepErrors["analytics_lookup"] = err.Error()
		analyticsByPath = map[string]*models.AnalyticsSnapshot{}
	}
	searchByURL, err := o.snapshots.LatestSearchByURL(ctx, dateStr)
	if err != nil {
		report.StepErrors["search_lookup"] = err.Error()
		searchByURL = map[string]*models.SearchSnapshot{}
	}
	historicalSpeed, err := o.speedRepo.LatestByURL(ctx)
	if err != nil {
		historicalSpeed = map[string]*models.SpeedScore{}
	}

	now := time.Now().UTC()
	type scored struct {
		page  *models.Page
		total int
		reasons []string
	}
	var flagged []scored

	for _, p := range inventory {
		path, _ := PagePath(p.URL)
		var contentAge *int
		if p.ContentAgeDays != nil {
			contentAge = p.ContentAgeDays
		}
		speed := speedByURL[p.URL]
		if speed == nil {
			speed = historicalSpeed[p.URL]
		}
		breakdown := ScorePage(ScoreInputs{
			Page:       p,
			Analytics:  analyticsByPath[path],
			Search:     searchByURL[NormalizeSearchKey(p.URL)],
			Speed:      speed,
			ContentAge: contentAge,
		})
		total := breakdown.Total()
		if err := o.pages.UpdateHealthScore(ctx, p.URL, total, breakdown, now); err != nil {
			report.StepErrors["score_update_"+p.URL] = err.Error()
		}
		p.HealthScore = total
		p.HealthScoreBreakdown = breakdown
		report.PagesScored++

		if IsFlagged(total) {
			report.FlaggedCount++
			if IsCritical(total) {
				report.CriticalCount++
			}
			flagged = append(flagged, scored{page: p, total: total, reasons: flagReasons(breakdown)})
		}
	}

	sort.Slice(flagged, func(i, j int) bool { return flagged[i].total < flagged[j].total })

	// Step 11: agent loop on the single worst flagged page, budget-gated.
	if len(flagged) > 0 && elapsed(start) < constants.AgentStageDeadline {
		worst := flagged[0]
		_, err := o.agentLoop.Investigate(ctx, FlaggedPageContext{
			Page:        worst.page,
			FlagReasons: worst.reasons,
			Analytics:   analyticsByPath[mustPath(worst.page.URL)],
			Search:      searchByURL[NormalizeSearchKey(worst.page.URL)],
			Speed:       speedByURL[worst.page.URL],
		})
		if err != nil {
			report.StepErrors["agent_loop"] = err.Error()
		} else {
			report.AgentLoopRan = true
		}
	} else if len(flagged) > 0 {
		report.StepErrors["agent_loop"] = "skipped: agent stage deadline already exceeded"
	}

	report.FinishedAt = time.Now().UTC()

	if err := o.changes.Append(ctx, &models.ChangeLogEntry{
		ID:         ulid.Make().String(),
		ActionType: "health_scan_complete",
		Outcome:    models.OutcomeExecuted,
		Detail: map[string]any{
			"pages_scored": report.PagesScored, "flagged": report.FlaggedCount,
			"critical": report.CriticalCount, "agent_loop_ran": report.AgentLoopRan,
			"step_errors": len(report.StepErrors),
		},
		ExecutedAt: &report.FinishedAt,
		ExecutedBy: "system",
		CreatedAt:  report.FinishedAt,
	}); err != nil {
		report.StepErrors["change_log"] = err.Error()
	}

	o.signals.Emit(ctx, &models.Signal{
		ID: ulid.Make().String(), SourceAgent: "thyme", EventType: "health_scan_complete",
		Payload: map[string]any{"pages_scored": report.PagesScored, "flagged": report.FlaggedCount},
		CreatedAt: report.FinishedAt,
	})

	return report
}

func elapsed(since time.Time) time.Duration { return time.Since(since) }

func mustPath(u string) string {
	p, _ := PagePath(u)
	return p
}

func flagReasons(b models.ScoreBreakdown) []string {
	var reasons []string
	if b.TrafficTrend <= 8 {
		reasons = append(reasons, "traffic_decline")
	}
	if b.SEORanking <= 8 {
		reasons = append(reasons, "poor_ranking")
	}
	if b.PageSpeed <= 8 {
		reasons = append(reasons, "slow_page")
	}
	if b.ContentFreshness <= 5 {
		reasons = append(reasons, "stale_content")
	}
	if b.TechnicalHealth <= 6 {
		reasons = append(reasons, "technical_issues")
	}
	return reasons
}

func (o *ScanOrchestrator) selectSpeedCheckTargets(ctx context.Context, inventory []*models.Page) []string {
	var urls []string
	for _, p := range inventory {
		urls = append(urls, p.URL)
	}
	untested, err := o.speedRepo.UntestedPages(ctx, urls)
	if err != nil {
		untested = nil
	}
	byPriority := make([]string, 0, constants.SpeedSpotCheckSamples)
	seen := map[string]bool{}
	add := func(u string) bool {
		if seen[u] || len(byPriority) >= constants.SpeedSpotCheckSamples {
			return false
		}
		seen[u] = true
		byPriority = append(byPriority, u)
		return true
	}
	for _, u := range untested {
		add(u)
	}
	sorted := append([]*models.Page{}, inventory...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].HealthScore < sorted[j].HealthScore })
	for _, p := range sorted {
		add(p.URL)
	}
	for _, p := range inventory {
		if p.PageType == models.PageTypeLanding {
			add(p.URL)
		}
	}
	for _, u := range urls {
		add(u)
	}
	return byPriority
}

func (o *ScanOrchestrator) runBrokenLinkCheck(ctx context.Context, inventory []*models.Page) int {
	targets := o.selectLinkCheckTargets(ctx, inventory)
	if len(targets) == 0 {
		return 0
	}
	results := o.linkCheck.CheckBatch(ctx, o.baseSiteURL, targets)
	broken := 0
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
		if r.IsBroken {
			broken++
		} else {
			_ = o.linkHealth.MarkResolved(ctx, o.baseSiteURL, r.TargetURL, time.Now().UTC())
		}
		_ = o.linkHealth.Upsert(ctx, record)
	}
	return broken
}

func (o *ScanOrchestrator) selectLinkCheckTargets(ctx context.Context, inventory []*models.Page) []string {
	var targets []string
	seen := map[string]bool{}
	add := func(u string) {
		if !seen[u] && len(targets) < constants.BrokenLinkSampleSize {
			seen[u] = true
			targets = append(targets, u)
		}
	}

	prevBroken, _ := o.linkHealth.PreviouslyBroken(ctx, constants.BrokenLinkSampleSize)
	for _, r := range prevBroken {
		add(r.TargetURL)
	}
	for _, p := range inventory {
		if p.PageType == models.PageTypeLanding {
			add(p.URL)
		}
	}
	if sitemapURLs, ok := o.sitemap.Discover(ctx, o.baseSiteURL); ok {
		for _, u := range sitemapURLs {
			add(u)
		}
	}
	return targets
}

// upsertInChunks splits items into chunkSize-sized groups and upserts each
// group concurrently, bounded by SnapshotUpsertConcurrency: chunks are
// disjoint natural-key ranges, so concurrent upserts never race on the same
// row (spec.md §5, "chunked upserts run concurrently with bounded
// parallelism").
func upsertInChunks[T any](ctx context.Context, items []T, chunkSize int, upsert func(context.Context, []T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.SnapshotUpsertConcurrency)
	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunk := items[start:end]
		g.Go(func() error { return upsert(gctx, chunk) })
	}
	return g.Wait()
}

func batchUpdateMetaIssues(ctx context.Context, pages repository.PageRepository, issuesByURL map[string][]string, groupSize int) error {
	urls := make([]string, 0, len(issuesByURL))
	for u := range issuesByURL {
		urls = append(urls, u)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for start := 0; start < len(urls); start += groupSize {
		end := start + groupSize
		if end > len(urls) {
			end = len(urls)
		}
		group := make(map[string][]string, end-start)
		for _, u := range urls[start:end] {
			group[u] = issuesByURL[u]
		}
		g.Go(func() error { return pages.UpdateMetaIssuesBatch(gctx, group) })
	}
	return g.Wait()
}

func applyMetaIssues(pages []*models.Page, issuesByURL map[string][]string) {
	for _, p := range pages {
		if issues, ok := issuesByURL[p.URL]; ok {
			p.MetaIssues = issues
		}
	}
}
