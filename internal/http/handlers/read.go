package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/jmylchreest/sitewatch/internal/repository"
	"github.com/jmylchreest/sitewatch/internal/service"
)

// ReadHandler serves the read-only views over the pipeline's persisted
// state: the dashboard overview, the page inventory, findings, trend
// history, and the latest conversion audit.
type ReadHandler struct {
	pages      repository.PageRepository
	findings   repository.FindingRepository
	changes    repository.ChangeLogRepository
	trends     repository.TrendRepository
	conversion repository.ConversionAuditRepository
	queue      repository.DecisionQueueRepository
}

func NewReadHandler(
	pages repository.PageRepository,
	findings repository.FindingRepository,
	changes repository.ChangeLogRepository,
	trends repository.TrendRepository,
	conversion repository.ConversionAuditRepository,
	queue repository.DecisionQueueRepository,
) *ReadHandler {
	return &ReadHandler{pages: pages, findings: findings, changes: changes, trends: trends, conversion: conversion, queue: queue}
}

// OverviewOutput summarizes the site's current state for a dashboard.
type OverviewOutput struct {
	Body struct {
		TotalPages      int                `json:"total_pages"`
		FlaggedPages    int                `json:"flagged_pages"`
		CriticalPages   int                `json:"critical_pages"`
		PendingReviews  int                `json:"pending_reviews"`
		LatestTrend     *models.TrendSnapshot `json:"latest_trend,omitempty"`
		RecentChanges   []*models.ChangeLogEntry `json:"recent_changes"`
	}
}

// GetOverview answers the dashboard landing view.
func (h *ReadHandler) GetOverview(ctx context.Context, input *struct{}) (*OverviewOutput, error) {
	pages, _, err := h.pages.List(ctx, repository.PageFilter{Limit: 1})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load pages", err)
	}
	_ = pages

	allPages, err := h.pages.ListActive(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load inventory", err)
	}

	out := &OverviewOutput{}
	out.Body.TotalPages = len(allPages)
	for _, p := range allPages {
		if service.IsFlagged(p.HealthScore) {
			out.Body.FlaggedPages++
		}
		if service.IsCritical(p.HealthScore) {
			out.Body.CriticalPages++
		}
	}

	pending, err := h.queue.ListPending(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load decision queue", err)
	}
	out.Body.PendingReviews = len(pending)

	if trend, err := h.trends.Latest(ctx, models.TrendPeriodWeekly); err == nil {
		out.Body.LatestTrend = trend
	}

	changes, err := h.changes.Recent(ctx, 20)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load change log", err)
	}
	out.Body.RecentChanges = changes

	return out, nil
}

// ListPagesInput narrows the page inventory listing.
type ListPagesInput struct {
	FlaggedOnly bool   `query:"flagged_only"`
	Search      string `query:"search"`
	SortBy      string `query:"sort_by" default:"health_score" enum:"health_score,url,last_updated_at"`
	SortDesc    bool   `query:"sort_desc"`
	Limit       int    `query:"limit" default:"50"`
	Offset      int    `query:"offset" default:"0"`
}

// ListPagesOutput is the paginated page inventory.
type ListPagesOutput struct {
	Body struct {
		Pages []*models.Page `json:"pages"`
		Total int            `json:"total"`
	}
}

// ListPages returns the page inventory filtered and sorted per input.
func (h *ReadHandler) ListPages(ctx context.Context, input *ListPagesInput) (*ListPagesOutput, error) {
	pages, total, err := h.pages.List(ctx, repository.PageFilter{
		FlaggedOnly: input.FlaggedOnly,
		Search:      input.Search,
		SortBy:      input.SortBy,
		SortDesc:    input.SortDesc,
		Limit:       input.Limit,
		Offset:      input.Offset,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list pages", err)
	}
	out := &ListPagesOutput{}
	out.Body.Pages = pages
	out.Body.Total = total
	return out, nil
}

// ListFindingsInput narrows the findings listing.
type ListFindingsInput struct {
	Status   string `query:"status" enum:",new,recommendation_drafted,approved,completed,expired,skipped,resolved"`
	Severity string `query:"severity" enum:",critical,high,medium,low"`
	PageURL  string `query:"page_url"`
	Limit    int    `query:"limit" default:"50"`
	Offset   int    `query:"offset" default:"0"`
}

// ListFindingsOutput is the paginated findings listing.
type ListFindingsOutput struct {
	Body struct {
		Findings []*models.Finding `json:"findings"`
		Total    int               `json:"total"`
	}
}

// ListFindings returns findings filtered by status, severity, and page.
func (h *ReadHandler) ListFindings(ctx context.Context, input *ListFindingsInput) (*ListFindingsOutput, error) {
	filter := repository.FindingFilter{PageURL: input.PageURL, Limit: input.Limit, Offset: input.Offset}
	if input.Status != "" {
		s := models.FindingStatus(input.Status)
		filter.Status = &s
	}
	if input.Severity != "" {
		s := models.FindingSeverity(input.Severity)
		filter.Severity = &s
	}

	findings, total, err := h.findings.List(ctx, filter)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list findings", err)
	}
	out := &ListFindingsOutput{}
	out.Body.Findings = findings
	out.Body.Total = total
	return out, nil
}

// ListTrendsInput selects a trend period and history depth.
type ListTrendsInput struct {
	Period string `query:"period" default:"weekly" enum:"daily,weekly"`
	Limit  int    `query:"limit" default:"12"`
}

// ListTrendsOutput is the trend snapshot history, most recent first.
type ListTrendsOutput struct {
	Body struct {
		Trends []*models.TrendSnapshot `json:"trends"`
	}
}

// ListTrends returns recent trend snapshots for the requested period.
func (h *ReadHandler) ListTrends(ctx context.Context, input *ListTrendsInput) (*ListTrendsOutput, error) {
	trends, err := h.trends.ListByPeriod(ctx, models.TrendPeriod(input.Period), input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list trends", err)
	}
	out := &ListTrendsOutput{}
	out.Body.Trends = trends
	return out, nil
}

// LatestConversionAuditOutput is the most recent weekly conversion audit.
type LatestConversionAuditOutput struct {
	Body struct {
		Audit *models.ConversionAudit `json:"audit"`
	}
}

// LatestConversionAudit returns the most recent conversion-tracking audit.
func (h *ReadHandler) LatestConversionAudit(ctx context.Context, input *struct{}) (*LatestConversionAuditOutput, error) {
	audit, err := h.conversion.Latest(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load conversion audit", err)
	}
	if audit == nil {
		return nil, huma.Error404NotFound("no conversion audit has run yet")
	}
	out := &LatestConversionAuditOutput{}
	out.Body.Audit = audit
	return out, nil
}
