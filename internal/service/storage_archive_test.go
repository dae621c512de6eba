package service

import (
	"context"
	"testing"

	appconfig "github.com/jmylchreest/sitewatch/internal/config"
	"github.com/jmylchreest/sitewatch/internal/models"
)

// TestStorageArchive_DisabledWhenNoBucketConfigured covers the non-goal of
// requiring object storage: every method is a safe no-op when the bucket
// isn't configured, so the pipeline still runs end to end without it.
func TestStorageArchive_DisabledWhenNoBucketConfigured(t *testing.T) {
	cfg := &appconfig.Config{StorageEnabled: false}
	archive, err := NewStorageArchive(context.Background(), cfg, testLinkCheckLogger())
	if err != nil {
		t.Fatalf("NewStorageArchive() error = %v", err)
	}
	if archive.IsEnabled() {
		t.Fatal("archive should report disabled when StorageEnabled is false")
	}

	url, err := archive.ArchiveSpeedAudit(context.Background(), &models.SpeedScore{ID: "s1", TestDate: "2026-01-01", Strategy: models.StrategyMobile}, nil)
	if err != nil || url != "" {
		t.Errorf("ArchiveSpeedAudit() on disabled archive = (%q, %v), want (\"\", nil)", url, err)
	}

	url, err = archive.ArchiveDigest(context.Background(), &models.WeeklyDigest{ID: "d1", WeekStart: "2026-01-01"})
	if err != nil || url != "" {
		t.Errorf("ArchiveDigest() on disabled archive = (%q, %v), want (\"\", nil)", url, err)
	}

	deleted, err := archive.PruneOlderThan(context.Background(), "speed-audits/", 0)
	if err != nil || deleted != 0 {
		t.Errorf("PruneOlderThan() on disabled archive = (%d, %v), want (0, nil)", deleted, err)
	}
}

func TestStorageArchive_ObjectURL(t *testing.T) {
	archive := &StorageArchive{bucket: "thyme-archive", enabled: true}
	if got := archive.objectURL("weekly-digests/2026-01-01-abc.json"); got != "s3://thyme-archive/weekly-digests/2026-01-01-abc.json" {
		t.Errorf("objectURL = %q, unexpected format", got)
	}
}
