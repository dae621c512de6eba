package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/oklog/ulid/v2"
)

func TestFindingRepository_FindActiveByPageURL(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	pageURL := "https://example.com/docs"
	finding := &models.Finding{
		ID:          ulid.Make().String(),
		PageURL:     &pageURL,
		FindingType: "traffic_decline",
		Severity:    models.SeverityHigh,
		Title:       "Traffic dropped sharply",
		Description: "active_users fell 58% week over week",
		Status:      models.FindingStatusRecommendationDraft,
	}
	if err := repos.Findings.Create(ctx, finding); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	active, err := repos.Findings.FindActiveByPageURL(ctx, pageURL, []models.FindingStatus{
		models.FindingStatusNew, models.FindingStatusRecommendationDraft, models.FindingStatusApproved,
	})
	if err != nil {
		t.Fatalf("FindActiveByPageURL() error = %v", err)
	}
	if active == nil {
		t.Fatal("FindActiveByPageURL() returned nil, want the existing finding")
	}
	if active.ID != finding.ID {
		t.Errorf("ID = %s, want %s", active.ID, finding.ID)
	}
}

func TestFindingRepository_SkippedFindingRequiresReason(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	pageURL := "https://example.com/blog/post"
	finding := &models.Finding{
		ID:          ulid.Make().String(),
		PageURL:     &pageURL,
		FindingType: "audit_only",
		Severity:    models.SeverityLow,
		Title:       "Investigation skipped",
		Status:      models.FindingStatusSkipped,
		SkipReason:  "Forced termination: exceeded 6 non-terminal tool calls",
	}
	if err := repos.Findings.Create(ctx, finding); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repos.Findings.GetByID(ctx, finding.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status == models.FindingStatusSkipped && got.SkipReason == "" {
		t.Error("skipped finding has empty skip_reason")
	}
}

func TestFindingRepository_ExpireOverdue(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	pageURL := "https://example.com/expired"
	finding := &models.Finding{
		ID:          ulid.Make().String(),
		PageURL:     &pageURL,
		FindingType: "traffic_decline",
		Severity:    models.SeverityMedium,
		Title:       "Overdue finding",
		Status:      models.FindingStatusRecommendationDraft,
		ExpiresAt:   &past,
	}
	if err := repos.Findings.Create(ctx, finding); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	n, err := repos.Findings.ExpireOverdue(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireOverdue() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("ExpireOverdue() = %d, want 1", n)
	}

	got, err := repos.Findings.GetByID(ctx, finding.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != models.FindingStatusExpired {
		t.Errorf("Status = %s, want %s", got.Status, models.FindingStatusExpired)
	}
}
