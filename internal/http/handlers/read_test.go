package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/jmylchreest/sitewatch/internal/repository"
)

type fakeReadPageRepo struct {
	active []*models.Page
}

func (r *fakeReadPageRepo) Upsert(ctx context.Context, page *models.Page) error { return nil }
func (r *fakeReadPageRepo) UpsertBatch(ctx context.Context, pages []*models.Page) (int, int, error) {
	return 0, 0, nil
}
func (r *fakeReadPageRepo) GetByURL(ctx context.Context, url string) (*models.Page, error) {
	return nil, nil
}
func (r *fakeReadPageRepo) ListActive(ctx context.Context) ([]*models.Page, error) {
	return r.active, nil
}
func (r *fakeReadPageRepo) List(ctx context.Context, filter repository.PageFilter) ([]*models.Page, int, error) {
	return r.active, len(r.active), nil
}
func (r *fakeReadPageRepo) UpdateHealthScore(ctx context.Context, url string, score int, breakdown models.ScoreBreakdown, checkedAt time.Time) error {
	return nil
}
func (r *fakeReadPageRepo) UpdateMetaIssuesBatch(ctx context.Context, updates map[string][]string) error {
	return nil
}
func (r *fakeReadPageRepo) UpdateFormDetected(ctx context.Context, url string, hasForm bool) error {
	return nil
}

type fakeReadFindingRepo struct{}

func (f *fakeReadFindingRepo) Create(ctx context.Context, fd *models.Finding) error { return nil }
func (f *fakeReadFindingRepo) GetByID(ctx context.Context, id string) (*models.Finding, error) {
	return nil, nil
}
func (f *fakeReadFindingRepo) FindActiveByPageURL(ctx context.Context, pageURL string, statuses []models.FindingStatus) (*models.Finding, error) {
	return nil, nil
}
func (f *fakeReadFindingRepo) UpdateStatus(ctx context.Context, id string, status models.FindingStatus) error {
	return nil
}
func (f *fakeReadFindingRepo) List(ctx context.Context, filter repository.FindingFilter) ([]*models.Finding, int, error) {
	return []*models.Finding{{ID: "f1", Status: models.FindingStatusNew}}, 1, nil
}
func (f *fakeReadFindingRepo) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

type fakeReadChangeLogRepo struct{}

func (f *fakeReadChangeLogRepo) Append(ctx context.Context, entry *models.ChangeLogEntry) error {
	return nil
}
func (f *fakeReadChangeLogRepo) Recent(ctx context.Context, limit int) ([]*models.ChangeLogEntry, error) {
	return []*models.ChangeLogEntry{{ID: "c1"}}, nil
}

type fakeReadTrendRepo struct{}

func (f *fakeReadTrendRepo) Insert(ctx context.Context, snap *models.TrendSnapshot) error { return nil }
func (f *fakeReadTrendRepo) Latest(ctx context.Context, period models.TrendPeriod) (*models.TrendSnapshot, error) {
	return &models.TrendSnapshot{ID: "t1", Period: period}, nil
}
func (f *fakeReadTrendRepo) ListByPeriod(ctx context.Context, period models.TrendPeriod, limit int) ([]*models.TrendSnapshot, error) {
	return []*models.TrendSnapshot{{ID: "t1", Period: period}}, nil
}

type fakeReadConversionRepo struct {
	audit *models.ConversionAudit
}

func (f *fakeReadConversionRepo) Insert(ctx context.Context, audit *models.ConversionAudit) error {
	return nil
}
func (f *fakeReadConversionRepo) Latest(ctx context.Context) (*models.ConversionAudit, error) {
	return f.audit, nil
}

type fakeReadQueueRepo struct {
	pending []*models.DecisionQueueItem
}

func (f *fakeReadQueueRepo) Create(ctx context.Context, item *models.DecisionQueueItem) error {
	return nil
}
func (f *fakeReadQueueRepo) GetByID(ctx context.Context, id string) (*models.DecisionQueueItem, error) {
	return nil, nil
}
func (f *fakeReadQueueRepo) UpdateStatus(ctx context.Context, id string, status models.QueueStatus, reviewer, notes string, reviewedAt time.Time) error {
	return nil
}
func (f *fakeReadQueueRepo) ListPending(ctx context.Context) ([]*models.DecisionQueueItem, error) {
	return f.pending, nil
}

func newTestReadHandler(pages []*models.Page, pending []*models.DecisionQueueItem) *ReadHandler {
	return NewReadHandler(
		&fakeReadPageRepo{active: pages},
		&fakeReadFindingRepo{},
		&fakeReadChangeLogRepo{},
		&fakeReadTrendRepo{},
		&fakeReadConversionRepo{},
		&fakeReadQueueRepo{pending: pending},
	)
}

// TestReadHandler_GetOverview_FlaggedAndCriticalThresholds pins the
// dashboard's flagged/critical counts to the glossary's thresholds: flagged
// below 50, critical below 30.
func TestReadHandler_GetOverview_FlaggedAndCriticalThresholds(t *testing.T) {
	pages := []*models.Page{
		{URL: "/healthy", HealthScore: 85, IsActive: true},
		{URL: "/flagged-not-critical", HealthScore: 49, IsActive: true},
		{URL: "/critical", HealthScore: 20, IsActive: true},
	}
	h := newTestReadHandler(pages, []*models.DecisionQueueItem{{ID: "q1"}})

	out, err := h.GetOverview(context.Background(), &struct{}{})
	if err != nil {
		t.Fatalf("GetOverview() error = %v", err)
	}
	if out.Body.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", out.Body.TotalPages)
	}
	if out.Body.FlaggedPages != 2 {
		t.Errorf("FlaggedPages = %d, want 2 (49 and 20 are both below 50)", out.Body.FlaggedPages)
	}
	if out.Body.CriticalPages != 1 {
		t.Errorf("CriticalPages = %d, want 1 (only 20 is below 30)", out.Body.CriticalPages)
	}
	if out.Body.PendingReviews != 1 {
		t.Errorf("PendingReviews = %d, want 1", out.Body.PendingReviews)
	}
}

func TestReadHandler_ListPages(t *testing.T) {
	h := newTestReadHandler([]*models.Page{{URL: "/a", HealthScore: 90, IsActive: true}}, nil)
	out, err := h.ListPages(context.Background(), &ListPagesInput{Limit: 50})
	if err != nil {
		t.Fatalf("ListPages() error = %v", err)
	}
	if out.Body.Total != 1 || len(out.Body.Pages) != 1 {
		t.Errorf("ListPages() = %+v, want a single page", out.Body)
	}
}

func TestReadHandler_ListFindings(t *testing.T) {
	h := newTestReadHandler(nil, nil)
	out, err := h.ListFindings(context.Background(), &ListFindingsInput{Status: "new", Limit: 50})
	if err != nil {
		t.Fatalf("ListFindings() error = %v", err)
	}
	if out.Body.Total != 1 {
		t.Errorf("Total = %d, want 1", out.Body.Total)
	}
}

func TestReadHandler_ListTrends(t *testing.T) {
	h := newTestReadHandler(nil, nil)
	out, err := h.ListTrends(context.Background(), &ListTrendsInput{Period: "weekly", Limit: 12})
	if err != nil {
		t.Fatalf("ListTrends() error = %v", err)
	}
	if len(out.Body.Trends) != 1 {
		t.Errorf("expected one trend snapshot, got %d", len(out.Body.Trends))
	}
}

func TestReadHandler_LatestConversionAudit_NotFound(t *testing.T) {
	h := NewReadHandler(&fakeReadPageRepo{}, &fakeReadFindingRepo{}, &fakeReadChangeLogRepo{}, &fakeReadTrendRepo{}, &fakeReadConversionRepo{audit: nil}, &fakeReadQueueRepo{})
	_, err := h.LatestConversionAudit(context.Background(), &struct{}{})
	if err == nil {
		t.Fatal("expected a 404 when no conversion audit has run yet")
	}
}

func TestReadHandler_LatestConversionAudit_Found(t *testing.T) {
	audit := &models.ConversionAudit{ID: "a1", TrackingHealth: models.TrackingHealthy}
	h := NewReadHandler(&fakeReadPageRepo{}, &fakeReadFindingRepo{}, &fakeReadChangeLogRepo{}, &fakeReadTrendRepo{}, &fakeReadConversionRepo{audit: audit}, &fakeReadQueueRepo{})
	out, err := h.LatestConversionAudit(context.Background(), &struct{}{})
	if err != nil {
		t.Fatalf("LatestConversionAudit() error = %v", err)
	}
	if out.Body.Audit.ID != "a1" {
		t.Errorf("Audit.ID = %q, want a1", out.Body.Audit.ID)
	}
}
