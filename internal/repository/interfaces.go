// Package repository provides store interfaces and libsql-backed
// implementations for every persisted entity in the surveillance
// pipeline. Interfaces are consumed by services; only the writer
// components (C10, the review endpoint, the orchestrators) hold
// write handles in practice, though nothing in Go enforces that split.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
)

// PageFilter narrows the page inventory listing for the pages read API.
type PageFilter struct {
	PageType    *models.PageType
	FlaggedOnly bool
	Search      string
	SortBy      string // "health_score", "url", "last_updated_at"
	SortDesc    bool
	Limit       int
	Offset      int
}

// PageRepository persists the canonical page inventory (C5, C4 consumer).
type PageRepository interface {
	Upsert(ctx context.Context, page *models.Page) error
	UpsertBatch(ctx context.Context, pages []*models.Page) (inserted, updated int, err error)
	GetByURL(ctx context.Context, url string) (*models.Page, error)
	ListActive(ctx context.Context) ([]*models.Page, error)
	List(ctx context.Context, filter PageFilter) ([]*models.Page, int, error)
	UpdateHealthScore(ctx context.Context, url string, score int, breakdown models.ScoreBreakdown, checkedAt time.Time) error
	UpdateMetaIssuesBatch(ctx context.Context, updates map[string][]string) error
	UpdateFormDetected(ctx context.Context, url string, hasForm bool) error
}

// SnapshotRepository handles idempotent per-source upserts for analytics
// and search data, keyed by (page_url, snapshot_date) (C4).
type SnapshotRepository interface {
	UpsertAnalytics(ctx context.Context, snapshots []*models.AnalyticsSnapshot) error
	UpsertSearch(ctx context.Context, snapshots []*models.SearchSnapshot) error
	LatestAnalyticsByPath(ctx context.Context, date string) (map[string]*models.AnalyticsSnapshot, error)
	LatestSearchByURL(ctx context.Context, date string) (map[string]*models.SearchSnapshot, error)
	AnalyticsHistory(ctx context.Context, pageURL string, since time.Time) ([]*models.AnalyticsSnapshot, error)
	SearchHistory(ctx context.Context, pageURL string, since time.Time) ([]*models.SearchSnapshot, error)
}

// SpeedRepository is an append-only store for performance audits (C4).
type SpeedRepository interface {
	Insert(ctx context.Context, score *models.SpeedScore) error
	LatestByURL(ctx context.Context) (map[string]*models.SpeedScore, error)
	UntestedPages(ctx context.Context, pageURLs []string) ([]string, error)
}

// LinkHealthRepository upserts and queries link check results (C4).
type LinkHealthRepository interface {
	Upsert(ctx context.Context, record *models.LinkHealthRecord) error
	PreviouslyBroken(ctx context.Context, limit int) ([]*models.LinkHealthRecord, error)
	BrokenCount(ctx context.Context) (int, error)
	NewlyBrokenSince(ctx context.Context, since time.Time) (int, error)
	MarkResolved(ctx context.Context, sourcePageURL, targetURL string, resolvedAt time.Time) error
	All(ctx context.Context) ([]*models.LinkHealthRecord, error)
}

// FindingFilter narrows the findings read API.
type FindingFilter struct {
	Status   *models.FindingStatus
	Severity *models.FindingSeverity
	PageURL  string
	Limit    int
	Offset   int
}

// FindingRepository persists findings materialized by the agent loop (C10).
type FindingRepository interface {
	Create(ctx context.Context, f *models.Finding) error
	GetByID(ctx context.Context, id string) (*models.Finding, error)
	FindActiveByPageURL(ctx context.Context, pageURL string, statuses []models.FindingStatus) (*models.Finding, error)
	UpdateStatus(ctx context.Context, id string, status models.FindingStatus) error
	List(ctx context.Context, filter FindingFilter) ([]*models.Finding, int, error)
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}

// DecisionQueueRepository persists the human review queue (C10).
type DecisionQueueRepository interface {
	Create(ctx context.Context, item *models.DecisionQueueItem) error
	GetByID(ctx context.Context, id string) (*models.DecisionQueueItem, error)
	UpdateStatus(ctx context.Context, id string, status models.QueueStatus, reviewer, notes string, reviewedAt time.Time) error
	ListPending(ctx context.Context) ([]*models.DecisionQueueItem, error)
}

// ChangeLogRepository is the append-only audit log (C10, every orchestrator).
type ChangeLogRepository interface {
	Append(ctx context.Context, entry *models.ChangeLogEntry) error
	Recent(ctx context.Context, limit int) ([]*models.ChangeLogEntry, error)
}

// GuardrailRepository holds the named rules the agent loop's
// evaluate_recommendation tool consults.
type GuardrailRepository interface {
	ListActive(ctx context.Context) ([]*models.Guardrail, error)
	Upsert(ctx context.Context, g *models.Guardrail) error
}

// TrendRepository persists per-period aggregates (C11).
type TrendRepository interface {
	Insert(ctx context.Context, snap *models.TrendSnapshot) error
	Latest(ctx context.Context, period models.TrendPeriod) (*models.TrendSnapshot, error)
	ListByPeriod(ctx context.Context, period models.TrendPeriod, limit int) ([]*models.TrendSnapshot, error)
}

// SignalRepository is the append-only cross-agent event log (C3).
type SignalRepository interface {
	Emit(ctx context.Context, signal *models.Signal)
	Query(ctx context.Context, sourceAgent string, eventTypes []string, since time.Time, limit int) ([]*models.Signal, error)
}

// NotificationRepository persists human-facing review alerts.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	MarkRead(ctx context.Context, id string) error
	ListUnread(ctx context.Context, limit int) ([]*models.Notification, error)
}

// ConversionAuditRepository persists weekly tracking-health audits (C11).
type ConversionAuditRepository interface {
	Insert(ctx context.Context, audit *models.ConversionAudit) error
	Latest(ctx context.Context) (*models.ConversionAudit, error)
}

// WeeklyDigestRepository persists the weekly narrative summary (C11).
type WeeklyDigestRepository interface {
	Insert(ctx context.Context, digest *models.WeeklyDigest) error
	Latest(ctx context.Context) (*models.WeeklyDigest, error)
}

// CredentialRow is the single-row encrypted token pair maintained by the
// token broker (C1).
type CredentialRow struct {
	AccessTokenEnc  string
	RefreshTokenEnc string
	ExpiresAt       time.Time
	Scopes          []string
	UpdatedAt       time.Time
}

// CredentialRepository reads and writes the single-row credential table.
type CredentialRepository interface {
	Get(ctx context.Context) (*CredentialRow, error)
	Save(ctx context.Context, row *CredentialRow) error
}

// ConfigRepository reads and writes the key-value config table, used for
// anything operators need to tune without a redeploy.
type ConfigRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}
