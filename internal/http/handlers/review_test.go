package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/jmylchreest/sitewatch/internal/repository"
	"github.com/jmylchreest/sitewatch/internal/service"
)

func huma404Status(err error) int {
	if se, ok := err.(huma.StatusError); ok {
		return se.GetStatus()
	}
	return 0
}

type fakeQueueRepo struct {
	item           *models.DecisionQueueItem
	updatedStatus  models.QueueStatus
	updatedID      string
}

func (f *fakeQueueRepo) Create(ctx context.Context, item *models.DecisionQueueItem) error {
	return nil
}
func (f *fakeQueueRepo) GetByID(ctx context.Context, id string) (*models.DecisionQueueItem, error) {
	return f.item, nil
}
func (f *fakeQueueRepo) UpdateStatus(ctx context.Context, id string, status models.QueueStatus, reviewer, notes string, reviewedAt time.Time) error {
	f.updatedID = id
	f.updatedStatus = status
	return nil
}
func (f *fakeQueueRepo) ListPending(ctx context.Context) ([]*models.DecisionQueueItem, error) {
	return nil, nil
}

type fakeFindingRepoForReview struct {
	updatedStatus models.FindingStatus
}

func (f *fakeFindingRepoForReview) Create(ctx context.Context, fd *models.Finding) error { return nil }
func (f *fakeFindingRepoForReview) GetByID(ctx context.Context, id string) (*models.Finding, error) {
	return nil, nil
}
func (f *fakeFindingRepoForReview) FindActiveByPageURL(ctx context.Context, pageURL string, statuses []models.FindingStatus) (*models.Finding, error) {
	return nil, nil
}
func (f *fakeFindingRepoForReview) UpdateStatus(ctx context.Context, id string, status models.FindingStatus) error {
	f.updatedStatus = status
	return nil
}
func (f *fakeFindingRepoForReview) List(ctx context.Context, filter repository.FindingFilter) ([]*models.Finding, int, error) {
	return nil, 0, nil
}
func (f *fakeFindingRepoForReview) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

type fakeChangeLogRepoForReview struct {
	entries []*models.ChangeLogEntry
}

func (f *fakeChangeLogRepoForReview) Append(ctx context.Context, entry *models.ChangeLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}
func (f *fakeChangeLogRepoForReview) Recent(ctx context.Context, limit int) ([]*models.ChangeLogEntry, error) {
	return f.entries, nil
}

type fakeNotificationRepoForReview struct {
	created []*models.Notification
}

func (f *fakeNotificationRepoForReview) Create(ctx context.Context, n *models.Notification) error {
	f.created = append(f.created, n)
	return nil
}
func (f *fakeNotificationRepoForReview) MarkRead(ctx context.Context, id string) error { return nil }
func (f *fakeNotificationRepoForReview) ListUnread(ctx context.Context, limit int) ([]*models.Notification, error) {
	return nil, nil
}

type fakeSignalRepoForReview struct{}

func (f *fakeSignalRepoForReview) Emit(ctx context.Context, signal *models.Signal) {}
func (f *fakeSignalRepoForReview) Query(ctx context.Context, sourceAgent string, eventTypes []string, since time.Time, limit int) ([]*models.Signal, error) {
	return nil, nil
}

func TestReviewHandler_ApplyDecision_Approve(t *testing.T) {
	findingID := "finding-1"
	queue := &fakeQueueRepo{item: &models.DecisionQueueItem{ID: "item-1", FindingID: &findingID, Status: models.QueueStatusPending}}
	findings := &fakeFindingRepoForReview{}
	changes := &fakeChangeLogRepoForReview{}
	notifs := &fakeNotificationRepoForReview{}

	writer := service.NewFindingWriter(findings, queue, changes, notifs, &fakeSignalRepoForReview{})
	h := NewReviewHandler(writer)

	out, err := h.ApplyDecision(context.Background(), &ReviewDecisionInput{ItemID: "item-1", Body: struct {
		Approve  bool   `json:"approve"`
		Reviewer string `json:"reviewer" doc:"Name or identifier of the human reviewer"`
		Notes    string `json:"notes,omitempty"`
	}{Approve: true, Reviewer: "alice"}})
	if err != nil {
		t.Fatalf("ApplyDecision() error = %v", err)
	}
	if !out.Body.Applied {
		t.Error("expected Applied = true")
	}
	if queue.updatedStatus != models.QueueStatusApproved {
		t.Errorf("queue status = %v, want approved", queue.updatedStatus)
	}
	if findings.updatedStatus != models.FindingStatusApproved {
		t.Errorf("finding status = %v, want approved", findings.updatedStatus)
	}
	if len(notifs.created) != 1 {
		t.Errorf("expected one notification, got %d", len(notifs.created))
	}
}

// TestReviewHandler_ApplyDecision_ConflictMapsTo404 covers spec section 7's
// explicit ReviewConflictError -> HTTP 404 mapping for a non-pending item.
func TestReviewHandler_ApplyDecision_ConflictMapsTo404(t *testing.T) {
	findingID := "finding-1"
	queue := &fakeQueueRepo{item: &models.DecisionQueueItem{ID: "item-1", FindingID: &findingID, Status: models.QueueStatusApproved}}
	writer := service.NewFindingWriter(&fakeFindingRepoForReview{}, queue, &fakeChangeLogRepoForReview{}, &fakeNotificationRepoForReview{}, &fakeSignalRepoForReview{})
	h := NewReviewHandler(writer)

	_, err := h.ApplyDecision(context.Background(), &ReviewDecisionInput{ItemID: "item-1", Body: struct {
		Approve  bool   `json:"approve"`
		Reviewer string `json:"reviewer" doc:"Name or identifier of the human reviewer"`
		Notes    string `json:"notes,omitempty"`
	}{Approve: true, Reviewer: "alice"}})
	if err == nil {
		t.Fatal("expected an error for a non-pending decision item")
	}
	if status := huma404Status(err); status != 404 {
		t.Errorf("status = %d, want 404", status)
	}
}
