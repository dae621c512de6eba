package service

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/sitewatch/internal/apperrors"
	"github.com/jmylchreest/sitewatch/internal/constants"
	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/jmylchreest/sitewatch/internal/repository"
)

// FindingWriter wraps the paired side effects of a terminal agent-loop
// action: a Finding and its DecisionQueueItem are always produced
// together, every write is mirrored into the change log, and a
// human-facing notification is raised alongside it (C10).
type FindingWriter struct {
	findings repository.FindingRepository
	queue    repository.DecisionQueueRepository
	changes  repository.ChangeLogRepository
	notifs   repository.NotificationRepository
	signals  repository.SignalRepository
}

func NewFindingWriter(findings repository.FindingRepository, queue repository.DecisionQueueRepository, changes repository.ChangeLogRepository, notifs repository.NotificationRepository, signals repository.SignalRepository) *FindingWriter {
	return &FindingWriter{findings: findings, queue: queue, changes: changes, notifs: notifs, signals: signals}
}

var priorityBySeverity = map[models.FindingSeverity]int{
	models.SeverityCritical: 10,
	models.SeverityHigh:     8,
	models.SeverityMedium:   5,
	models.SeverityLow:      3,
}

// SubmitFindingInput is the terminal submit_finding tool's validated input.
type SubmitFindingInput struct {
	PageURL              string
	FindingType          string
	Severity             models.FindingSeverity
	Title                string
	Description          string
	BusinessImpact       string
	ActionSummary        string
	ActionDetail         map[string]any
	Confidence           float64
	RiskLevel            models.RiskLevel
	InvestigationSummary string
	ToolsUsed            []string
	Iterations           int
	HealthScoreAtDetection int
}

// WriteSubmission materializes the Finding + DecisionQueueItem pair, logs
// the change, raises a notification, and emits the finding-type-specific
// signal plus page_health_critical when the page's score is under 30.
func (w *FindingWriter) WriteSubmission(ctx context.Context, in SubmitFindingInput) (*models.Finding, error) {
	now := time.Now().UTC()
	expires := now.Add(constants.FindingExpiry)

	confidence := in.Confidence
	if confidence == 0 {
		confidence = 0.7
	}
	risk := in.RiskLevel
	if risk == "" {
		risk = models.RiskLow
	}
	priority, ok := priorityBySeverity[in.Severity]
	if !ok {
		priority = 3
	}

	pageURL := in.PageURL
	finding := &models.Finding{
		ID:                     ulid.Make().String(),
		PageURL:                &pageURL,
		FindingType:            in.FindingType,
		Severity:               in.Severity,
		Title:                  in.Title,
		Description:            in.Description,
		BusinessImpact:         in.BusinessImpact,
		AgentLoopIterations:    in.Iterations,
		ToolsUsed:              in.ToolsUsed,
		InvestigationSummary:   in.InvestigationSummary,
		Status:                 models.FindingStatusRecommendationDraft,
		ExpiresAt:              &expires,
		HealthScoreAtDetection: &in.HealthScoreAtDetection,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := w.findings.Create(ctx, finding); err != nil {
		return nil, fmt.Errorf("finding_writer: create finding: %w", err)
	}

	findingID := finding.ID
	item := &models.DecisionQueueItem{
		ID:            ulid.Make().String(),
		FindingID:     &findingID,
		ActionType:    in.FindingType,
		ActionSummary: in.ActionSummary,
		ActionDetail:  in.ActionDetail,
		Severity:      in.Severity,
		Confidence:    confidence,
		RiskLevel:     risk,
		Priority:      priority,
		Status:        models.QueueStatusPending,
		ExpiresAt:     expires,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := w.queue.Create(ctx, item); err != nil {
		return nil, fmt.Errorf("finding_writer: create decision queue item: %w", err)
	}

	if err := w.changes.Append(ctx, &models.ChangeLogEntry{
		ID:         ulid.Make().String(),
		ActionType: "finding_submitted",
		EntityType: "finding",
		EntityID:   finding.ID,
		Outcome:    models.OutcomePending,
		Detail:     map[string]any{"page_url": in.PageURL, "severity": string(in.Severity)},
		CreatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("finding_writer: append change log: %w", err)
	}

	if err := w.notifs.Create(ctx, &models.Notification{
		ID:        ulid.Make().String(),
		FindingID: &findingID,
		Severity:  in.Severity,
		Title:     fmt.Sprintf("New %s finding: %s", in.Severity, in.Title),
		Body:      in.Description,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("finding_writer: create notification: %w", err)
	}

	w.signals.Emit(ctx, &models.Signal{
		ID:          ulid.Make().String(),
		SourceAgent: "thyme",
		EventType:   signalForFindingType(in.FindingType),
		Payload:     map[string]any{"page_url": in.PageURL, "finding_id": finding.ID, "severity": string(in.Severity)},
		CreatedAt:   now,
	})
	if in.HealthScoreAtDetection < 30 {
		w.signals.Emit(ctx, &models.Signal{
			ID:          ulid.Make().String(),
			SourceAgent: "thyme",
			EventType:   "page_health_critical",
			Payload:     map[string]any{"page_url": in.PageURL, "health_score": in.HealthScoreAtDetection},
			CreatedAt:   now,
		})
	}

	return finding, nil
}

func signalForFindingType(findingType string) string {
	switch findingType {
	case "traffic_drop":
		return "page_traffic_drop"
	case "ranking_loss":
		return "page_ranking_loss"
	case "speed_regression":
		return "page_speed_alert"
	default:
		return "page_finding_submitted"
	}
}

// WriteSkip records an audit-only skip: either the model's own
// skip_finding call or a forced termination after budget exhaustion.
func (w *FindingWriter) WriteSkip(ctx context.Context, pageURL, reason, investigationSummary string, iterations int, toolsUsed []string) (*models.Finding, error) {
	now := time.Now().UTC()
	url := pageURL
	finding := &models.Finding{
		ID:                   ulid.Make().String(),
		PageURL:              &url,
		FindingType:          "no_action",
		Severity:             models.SeverityLow,
		Title:                "Investigation closed without recommendation",
		Status:               models.FindingStatusSkipped,
		SkipReason:           reason,
		AgentLoopIterations:  iterations,
		ToolsUsed:            toolsUsed,
		InvestigationSummary: investigationSummary,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := w.findings.Create(ctx, finding); err != nil {
		return nil, fmt.Errorf("finding_writer: create skip finding: %w", err)
	}
	if err := w.changes.Append(ctx, &models.ChangeLogEntry{
		ID:         ulid.Make().String(),
		ActionType: "finding_skipped",
		EntityType: "finding",
		EntityID:   finding.ID,
		Outcome:    models.OutcomeRejected,
		Detail:     map[string]any{"page_url": pageURL, "reason": reason},
		CreatedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("finding_writer: append skip change log: %w", err)
	}
	return finding, nil
}

// ReviewDecision applies a human reviewer's decision to a pending queue
// item: mirrors the status onto the finding, logs the change, and raises a
// notification. Returns a ReviewConflictError if the item is not pending.
func (w *FindingWriter) ReviewDecision(ctx context.Context, itemID string, approve bool, reviewer, notes string) error {
	item, err := w.queue.GetByID(ctx, itemID)
	if err != nil {
		return fmt.Errorf("finding_writer: load decision item: %w", err)
	}
	if item == nil {
		return fmt.Errorf("finding_writer: decision item %s not found", itemID)
	}
	if item.Status != models.QueueStatusPending {
		return &apperrors.ReviewConflictError{ItemID: itemID, Status: string(item.Status)}
	}

	now := time.Now().UTC()
	newStatus := models.QueueStatusRejected
	findingStatus := models.FindingStatusExpired
	outcome := models.OutcomeRejected
	if approve {
		newStatus = models.QueueStatusApproved
		findingStatus = models.FindingStatusApproved
		outcome = models.OutcomeExecuted
	}

	if err := w.queue.UpdateStatus(ctx, itemID, newStatus, reviewer, notes, now); err != nil {
		return fmt.Errorf("finding_writer: update queue status: %w", err)
	}

	if item.FindingID != nil {
		if err := w.findings.UpdateStatus(ctx, *item.FindingID, findingStatus); err != nil {
			return fmt.Errorf("finding_writer: mirror finding status: %w", err)
		}
	}

	if err := w.changes.Append(ctx, &models.ChangeLogEntry{
		ID:         ulid.Make().String(),
		ActionType: "review_decision",
		EntityType: "decision_queue_item",
		EntityID:   itemID,
		Outcome:    outcome,
		Detail:     map[string]any{"approved": approve, "reviewer": reviewer, "notes": notes},
		ExecutedAt: &now,
		ExecutedBy: reviewer,
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("finding_writer: append review change log: %w", err)
	}

	title := "Recommendation rejected"
	if approve {
		title = "Recommendation approved"
	}
	if err := w.notifs.Create(ctx, &models.Notification{
		ID:        ulid.Make().String(),
		FindingID: item.FindingID,
		Severity:  item.Severity,
		Title:     title,
		Body:      notes,
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("finding_writer: create review notification: %w", err)
	}

	return nil
}
