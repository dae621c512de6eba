package handlers

import (
	"context"
	"log/slog"

	"github.com/jmylchreest/sitewatch/internal/service"
	"github.com/jmylchreest/sitewatch/internal/shutdown"
)

// TriggerHandler fires the scan or weekly orchestrator in the background
// and returns immediately, matching the scheduler's own fire-and-forget
// invocation so a slow run never holds an HTTP connection open.
type TriggerHandler struct {
	scan   *service.ScanOrchestrator
	weekly *service.WeeklyOrchestrator
	guard  *shutdown.RunGuard
	logger *slog.Logger
}

func NewTriggerHandler(scan *service.ScanOrchestrator, weekly *service.WeeklyOrchestrator, guard *shutdown.RunGuard, logger *slog.Logger) *TriggerHandler {
	return &TriggerHandler{scan: scan, weekly: weekly, guard: guard, logger: logger.With("component", "trigger_handler")}
}

// TriggerOutput acknowledges that a run was accepted for background
// execution; it carries no result, since the run itself can take up to two
// minutes.
type TriggerOutput struct {
	Body struct {
		Accepted bool `json:"accepted"`
	}
}

// TriggerScan starts a health scan run in the background.
func (h *TriggerHandler) TriggerScan(ctx context.Context, input *struct{}) (*TriggerOutput, error) {
	go func() {
		done := h.guard.Enter("scan")
		defer done()
		report := h.scan.Run(context.Background())
		h.logger.Info("scan run finished",
			"pages_scored", report.PagesScored, "flagged", report.FlaggedCount,
			"critical", report.CriticalCount, "agent_loop_ran", report.AgentLoopRan,
			"step_errors", len(report.StepErrors),
		)
	}()
	out := &TriggerOutput{}
	out.Body.Accepted = true
	return out, nil
}

// TriggerWeekly starts a weekly digest run in the background.
func (h *TriggerHandler) TriggerWeekly(ctx context.Context, input *struct{}) (*TriggerOutput, error) {
	go func() {
		done := h.guard.Enter("weekly")
		defer done()
		report := h.weekly.Run(context.Background())
		h.logger.Info("weekly run finished",
			"links_checked", report.LinksChecked, "newly_resolved", report.NewlyResolved,
			"gap_keywords", report.GapKeywords, "stale_pages", report.StalePages,
			"digest_source", string(report.DigestSource), "step_errors", len(report.StepErrors),
		)
	}()
	out := &TriggerOutput{}
	out.Body.Accepted = true
	return out, nil
}
