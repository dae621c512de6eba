package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/oklog/ulid/v2"
)

func newTestPage(url string) *models.Page {
	return &models.Page{
		ID:        ulid.Make().String(),
		URL:       url,
		Slug:      "example",
		Title:     "Example Page",
		PageType:  models.PageTypeLanding,
		IsActive:  true,
		IsIndexed: true,
	}
}

func TestPageRepository_UpsertAndGetByURL(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	page := newTestPage("https://example.com/pricing")
	if err := repos.Pages.Upsert(ctx, page); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := repos.Pages.GetByURL(ctx, page.URL)
	if err != nil {
		t.Fatalf("GetByURL() error = %v", err)
	}
	if got == nil {
		t.Fatal("GetByURL() returned nil")
	}
	if got.Title != page.Title {
		t.Errorf("Title = %q, want %q", got.Title, page.Title)
	}
	if !got.IsActive {
		t.Error("IsActive = false, want true")
	}
}

// TestPageRepository_UpsertIdempotent exercises the round-trip/idempotence
// property: re-running upsert for an unchanged page should update, not
// duplicate, the row.
func TestPageRepository_UpsertIdempotent(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	page := newTestPage("https://example.com/about")
	if err := repos.Pages.Upsert(ctx, page); err != nil {
		t.Fatalf("first Upsert() error = %v", err)
	}
	if err := repos.Pages.Upsert(ctx, page); err != nil {
		t.Fatalf("second Upsert() error = %v", err)
	}

	pages, err := repos.Pages.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive() error = %v", err)
	}
	if len(pages) != 1 {
		t.Fatalf("len(pages) = %d, want 1", len(pages))
	}
}

func TestPageRepository_UpdateHealthScore(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	page := newTestPage("https://example.com/landing")
	if err := repos.Pages.Upsert(ctx, page); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	breakdown := models.ScoreBreakdown{
		TrafficTrend:     15,
		SEORanking:       20,
		PageSpeed:        20,
		ContentFreshness: 15,
		ConversionHealth: 5,
		TechnicalHealth:  10,
	}
	if err := repos.Pages.UpdateHealthScore(ctx, page.URL, breakdown.Total(), breakdown, time.Now()); err != nil {
		t.Fatalf("UpdateHealthScore() error = %v", err)
	}

	got, err := repos.Pages.GetByURL(ctx, page.URL)
	if err != nil {
		t.Fatalf("GetByURL() error = %v", err)
	}
	if got.HealthScore != 85 {
		t.Errorf("HealthScore = %d, want 85", got.HealthScore)
	}
	if got.HealthScoreBreakdown.Total() != got.HealthScore {
		t.Errorf("breakdown total %d != health score %d", got.HealthScoreBreakdown.Total(), got.HealthScore)
	}
}

func TestPageRepository_ListFiltersFlaggedOnly(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	healthy := newTestPage("https://example.com/healthy")
	flagged := newTestPage("https://example.com/flagged")
	if err := repos.Pages.Upsert(ctx, healthy); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repos.Pages.Upsert(ctx, flagged); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := repos.Pages.UpdateHealthScore(ctx, healthy.URL, 85, models.ScoreBreakdown{}, time.Now()); err != nil {
		t.Fatalf("UpdateHealthScore() error = %v", err)
	}
	if err := repos.Pages.UpdateHealthScore(ctx, flagged.URL, 30, models.ScoreBreakdown{}, time.Now()); err != nil {
		t.Fatalf("UpdateHealthScore() error = %v", err)
	}

	pages, total, err := repos.Pages.List(ctx, PageFilter{FlaggedOnly: true, Limit: 10})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	if len(pages) != 1 || pages[0].URL != flagged.URL {
		t.Fatalf("List() returned unexpected pages: %+v", pages)
	}
}
