package service

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/jmylchreest/sitewatch/internal/repository"
)

// fakeFindingRepo is a minimal repository.FindingRepository double; only the
// methods the agent loop and finding writer exercise are meaningful.
type fakeFindingRepo struct {
	active  *models.Finding
	created []*models.Finding
}

func (f *fakeFindingRepo) Create(ctx context.Context, fd *models.Finding) error {
	f.created = append(f.created, fd)
	return nil
}
func (f *fakeFindingRepo) GetByID(ctx context.Context, id string) (*models.Finding, error) {
	return nil, nil
}
func (f *fakeFindingRepo) FindActiveByPageURL(ctx context.Context, pageURL string, statuses []models.FindingStatus) (*models.Finding, error) {
	return f.active, nil
}
func (f *fakeFindingRepo) UpdateStatus(ctx context.Context, id string, status models.FindingStatus) error {
	return nil
}
func (f *fakeFindingRepo) List(ctx context.Context, filter repository.FindingFilter) ([]*models.Finding, int, error) {
	return nil, 0, nil
}
func (f *fakeFindingRepo) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

type fakeChangeLogRepo struct {
	entries []*models.ChangeLogEntry
}

func (f *fakeChangeLogRepo) Append(ctx context.Context, entry *models.ChangeLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}
func (f *fakeChangeLogRepo) Recent(ctx context.Context, limit int) ([]*models.ChangeLogEntry, error) {
	return f.entries, nil
}

type fakeQueueRepo struct{}

func (f *fakeQueueRepo) Create(ctx context.Context, item *models.DecisionQueueItem) error {
	return nil
}
func (f *fakeQueueRepo) GetByID(ctx context.Context, id string) (*models.DecisionQueueItem, error) {
	return nil, nil
}
func (f *fakeQueueRepo) UpdateStatus(ctx context.Context, id string, status models.QueueStatus, reviewer, notes string, reviewedAt time.Time) error {
	return nil
}
func (f *fakeQueueRepo) ListPending(ctx context.Context) ([]*models.DecisionQueueItem, error) {
	return nil, nil
}

type fakeNotificationRepo struct{}

func (f *fakeNotificationRepo) Create(ctx context.Context, n *models.Notification) error { return nil }
func (f *fakeNotificationRepo) MarkRead(ctx context.Context, id string) error            { return nil }
func (f *fakeNotificationRepo) ListUnread(ctx context.Context, limit int) ([]*models.Notification, error) {
	return nil, nil
}

type fakeSignalRepo struct{}

func (f *fakeSignalRepo) Emit(ctx context.Context, signal *models.Signal) {}
func (f *fakeSignalRepo) Query(ctx context.Context, sourceAgent string, eventTypes []string, since time.Time, limit int) ([]*models.Signal, error) {
	return nil, nil
}

type fakeGuardrailRepo struct{}

func (f *fakeGuardrailRepo) ListActive(ctx context.Context) ([]*models.Guardrail, error) {
	return nil, nil
}
func (f *fakeGuardrailRepo) Upsert(ctx context.Context, g *models.Guardrail) error { return nil }

func newTestAgentLoop(findings *fakeFindingRepo, changes *fakeChangeLogRepo) *AgentLoop {
	writer := NewFindingWriter(findings, &fakeQueueRepo{}, changes, &fakeNotificationRepo{}, &fakeSignalRepo{})
	guardrails := NewGuardrailEngine(&fakeGuardrailRepo{})
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewAgentLoop(nil, findings, writer, guardrails, nil, nil, nil, nil, &fakeSignalRepo{}, logger)
}

func testPageContext() FlaggedPageContext {
	return FlaggedPageContext{
		Page: &models.Page{URL: "https://example.com/pricing", PageType: models.PageTypeLanding, HealthScore: 20},
	}
}

// TestAgentLoop_S3_DedupSkipsInvestigation covers scenario S3: an active
// finding already exists for the page, so the loop never touches the model
// and writes a duplicate-investigation skip immediately.
func TestAgentLoop_S3_DedupSkipsInvestigation(t *testing.T) {
	findings := &fakeFindingRepo{active: &models.Finding{ID: "existing-finding"}}
	changes := &fakeChangeLogRepo{}
	loop := newTestAgentLoop(findings, changes)

	finding, err := loop.Investigate(context.Background(), testPageContext())
	if err != nil {
		t.Fatalf("Investigate() error = %v", err)
	}
	if finding == nil {
		t.Fatal("Investigate() returned a nil finding")
	}
	if finding.Status != models.FindingStatusSkipped {
		t.Errorf("finding.Status = %v, want skipped", finding.Status)
	}
	if len(findings.created) != 1 {
		t.Fatalf("expected exactly one finding to be written, got %d", len(findings.created))
	}
	if len(changes.entries) != 1 {
		t.Fatalf("expected exactly one change log entry, got %d", len(changes.entries))
	}
}

// TestAgentLoop_S4_ForcedTerminationOnExpiredBudget covers scenario S4: the
// loop's wall-clock budget is already exhausted by the time Investigate
// starts, so it forces a skip without any model call.
func TestAgentLoop_S4_ForcedTerminationOnExpiredBudget(t *testing.T) {
	findings := &fakeFindingRepo{}
	changes := &fakeChangeLogRepo{}
	loop := newTestAgentLoop(findings, changes)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already expired before Investigate even starts its loop

	finding, err := loop.Investigate(ctx, testPageContext())
	if err != nil {
		t.Fatalf("Investigate() error = %v", err)
	}
	if finding.Status != models.FindingStatusSkipped {
		t.Errorf("finding.Status = %v, want skipped", finding.Status)
	}
	if finding.SkipReason == "" {
		t.Error("expected a non-empty skip reason for forced termination")
	}
}

func TestSplitTerminal(t *testing.T) {
	calls := []ToolCall{
		{ID: "1", Name: "get_page_analytics"},
		{ID: "2", Name: "submit_finding"},
	}
	terminal, name, nonTerminal := splitTerminal(calls)
	if terminal == nil || name != "submit_finding" {
		t.Fatalf("expected submit_finding to be detected as terminal, got %v/%s", terminal, name)
	}
	if nonTerminal != nil {
		t.Errorf("expected no non-terminal calls once a terminal call is present, got %v", nonTerminal)
	}

	onlyNonTerminal := []ToolCall{{ID: "1", Name: "get_page_analytics"}}
	terminal, _, nonTerminal = splitTerminal(onlyNonTerminal)
	if terminal != nil {
		t.Errorf("expected no terminal call, got %v", terminal)
	}
	if len(nonTerminal) != 1 {
		t.Errorf("expected one non-terminal call, got %d", len(nonTerminal))
	}
}

// TestAgentLoop_ExecuteToolUnknownTool checks that the tool registry is
// non-empty and that executeTool answers an unregistered tool name with an
// error payload rather than panicking. The constants.MaxToolCalls budget in
// Investigate is only reached through a model turn and is not exercised here.
func TestAgentLoop_ExecuteToolUnknownTool(t *testing.T) {
	if len(agentToolRegistry) == 0 {
		t.Fatal("expected a non-empty tool registry")
	}
	loop := newTestAgentLoop(&fakeFindingRepo{}, &fakeChangeLogRepo{})
	out := loop.executeTool(context.Background(), ToolCall{Name: "not_a_real_tool"}, testPageContext())
	if out != `{"error":"unknown tool"}` {
		t.Errorf("executeTool(unknown) = %q, want unknown-tool error payload", out)
	}
}
