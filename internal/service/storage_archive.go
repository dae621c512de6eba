package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/jmylchreest/sitewatch/internal/config"
	"github.com/jmylchreest/sitewatch/internal/models"
)

// StorageArchive holds raw, non-queryable artifacts outside the primary
// store: full performance-audit payloads (ArchiveSpeedAudit) and rendered
// weekly digests (ArchiveDigest). Only the weekly run uses it, to archive
// its digest; no pipeline stage calls ArchiveSpeedAudit. Disabled when no
// bucket is configured; every method is then a no-op.
type StorageArchive struct {
	client  *s3.Client
	bucket  string
	enabled bool
	logger  *slog.Logger
}

func NewStorageArchive(ctx context.Context, cfg *appconfig.Config, logger *slog.Logger) (*StorageArchive, error) {
	if !cfg.StorageEnabled {
		logger.Info("storage archive disabled - no bucket configured")
		return &StorageArchive{enabled: false, logger: logger}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey, cfg.StorageSecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("storage_archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true
	})

	logger.Info("storage archive initialized", "bucket", cfg.StorageBucket, "endpoint", cfg.StorageEndpoint)
	return &StorageArchive{client: client, bucket: cfg.StorageBucket, enabled: true, logger: logger}, nil
}

func (s *StorageArchive) IsEnabled() bool { return s.enabled }

// ArchiveSpeedAudit stores the full raw PageSpeed response alongside the
// parsed SpeedScore, keyed by page and test date, so opportunities beyond
// the four scores kept in the primary store remain inspectable.
func (s *StorageArchive) ArchiveSpeedAudit(ctx context.Context, score *models.SpeedScore, rawResponse json.RawMessage) (string, error) {
	if !s.enabled {
		return "", nil
	}
	key := fmt.Sprintf("speed-audits/%s/%s-%s.json", score.TestDate, score.Strategy, score.ID)

	envelope := struct {
		Score *models.SpeedScore `json:"score"`
		Raw   json.RawMessage    `json:"raw_response"`
	}{Score: score, Raw: rawResponse}

	data, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("storage_archive: marshal speed audit: %w", err)
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket), Key: aws.String(key),
		Body: bytes.NewReader(data), ContentType: aws.String("application/json"),
	}); err != nil {
		return "", fmt.Errorf("storage_archive: put speed audit: %w", err)
	}
	return s.objectURL(key), nil
}

// ArchiveDigest stores the full weekly digest envelope (narrative plus the
// figures it was generated from) and returns the object's URL for the
// digest's archive_url field.
func (s *StorageArchive) ArchiveDigest(ctx context.Context, digest *models.WeeklyDigest) (string, error) {
	if !s.enabled {
		return "", nil
	}
	key := fmt.Sprintf("weekly-digests/%s-%s.json", digest.WeekStart, digest.ID)

	data, err := json.Marshal(digest)
	if err != nil {
		return "", fmt.Errorf("storage_archive: marshal digest: %w", err)
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket), Key: aws.String(key),
		Body: bytes.NewReader(data), ContentType: aws.String("application/json"),
	}); err != nil {
		return "", fmt.Errorf("storage_archive: put digest: %w", err)
	}
	return s.objectURL(key), nil
}

func (s *StorageArchive) objectURL(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

// PruneOlderThan deletes archived speed-audit and digest objects older than
// maxAge, mirroring the teacher's scheduled cleanup of result objects.
func (s *StorageArchive) PruneOlderThan(ctx context.Context, prefix string, maxAge time.Duration) (int, error) {
	if !s.enabled {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket), Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("storage_archive: list objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified == nil || obj.LastModified.After(cutoff) {
				continue
			}
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: obj.Key}); err != nil {
				s.logger.Warn("storage_archive: failed to delete old object", "key", *obj.Key, "error", err)
				continue
			}
			deleted++
		}
	}
	return deleted, nil
}
