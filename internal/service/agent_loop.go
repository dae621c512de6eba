package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/sitewatch/internal/constants"
	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/jmylchreest/sitewatch/internal/repository"
)

// agentState names one point in the bounded conversation state machine.
type agentState string

const (
	stateAwaitingModel agentState = "awaiting_model"
	stateExecutingTools agentState = "executing_tools"
	stateTerminalSubmit agentState = "terminal_submit"
	stateTerminalSkip   agentState = "terminal_skip"
	stateForcedSkip     agentState = "forced_skip"
)

// loopToolCall is the append-only record of one executed tool, kept on the
// investigation for the finding's tools_used summary.
type loopToolCall struct {
	ToolName   string
	Input      json.RawMessage
	Output     string
	DurationMs int64
}

// FlaggedPageContext is the initial-prompt material the scan orchestrator
// hands to an investigation: everything known about the page at the
// moment it was flagged.
type FlaggedPageContext struct {
	Page            *models.Page
	FlagReasons     []string
	Analytics       *models.AnalyticsSnapshot
	Search          *models.SearchSnapshot
	Speed           *models.SpeedScore
}

// AgentLoop runs one bounded, tool-using investigation per flagged page
// (C9): the model terminates by invoking submit_finding or skip_finding,
// never runs more than MaxToolCalls non-terminal calls, and never runs
// longer than MaxLoopDuration.
type AgentLoop struct {
	llm        *LLMClient
	findings   repository.FindingRepository
	writer     *FindingWriter
	guardrails *GuardrailEngine
	analytics  *AnalyticsAdapter
	search     *SearchAdapter
	performance *PerformanceAdapter
	cms        *CMSAdapter
	signals    repository.SignalRepository
	logger     *slog.Logger
}

func NewAgentLoop(
	llm *LLMClient,
	findings repository.FindingRepository,
	writer *FindingWriter,
	guardrails *GuardrailEngine,
	analytics *AnalyticsAdapter,
	search *SearchAdapter,
	performance *PerformanceAdapter,
	cms *CMSAdapter,
	signals repository.SignalRepository,
	logger *slog.Logger,
) *AgentLoop {
	return &AgentLoop{
		llm: llm, findings: findings, writer: writer, guardrails: guardrails,
		analytics: analytics, search: search, performance: performance, cms: cms,
		signals: signals, logger: logger.With("component", "agent_loop"),
	}
}

// Investigate runs the dedup pre-check, then the bounded conversation, and
// returns the Finding it produced (either a drafted recommendation or an
// audit-only skip). It never returns an error for ordinary model behavior;
// only infrastructure failures (repository writes) surface as errors.
func (a *AgentLoop) Investigate(ctx context.Context, pc FlaggedPageContext) (*models.Finding, error) {
	pageURL := pc.Page.URL

	active, err := a.findings.FindActiveByPageURL(ctx, pageURL, []models.FindingStatus{
		models.FindingStatusNew, models.FindingStatusRecommendationDraft, models.FindingStatusApproved,
	})
	if err != nil {
		return nil, fmt.Errorf("agent_loop: dedup check: %w", err)
	}
	if active != nil {
		a.logger.Info("skipping investigation, active finding already exists", "page_url", pageURL, "finding_id", active.ID)
		return a.writer.WriteSkip(ctx, pageURL, "Duplicate investigation: an active finding already exists for this page", "", 0, nil)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.MaxLoopDuration)
	defer cancel()

	history := []conversationMessage{NewUserText(a.buildInitialPrompt(pc))}
	var toolCalls []loopToolCall
	state := stateAwaitingModel

	for {
		if state == stateAwaitingModel {
			select {
			case <-ctx.Done():
				state = stateForcedSkip
			default:
			}
		}

		switch state {
		case stateAwaitingModel:
			turn, err := a.llm.RunTurn(ctx, agentSystemPrompt, history, agentToolRegistry)
			if err != nil {
				a.logger.Warn("model call failed, forcing skip", "page_url", pageURL, "error", err)
				state = stateForcedSkip
				continue
			}
			if len(turn.ToolCalls) == 0 {
				state = stateForcedSkip
				continue
			}

			terminalCall, terminalName, nonTerminal := splitTerminal(turn.ToolCalls)
			history = append(history, conversationMessage{role: "assistant", toolUse: turn.ToolCalls})

			if terminalCall != nil {
				state = a.dispatchTerminal(terminalName)
				history = append(history, NewToolResults([]ToolResult{{ToolCallID: terminalCall.ID, Content: `{"acknowledged":true}`}}))
				finding, err := a.finalize(ctx, state, pc, *terminalCall, toolCalls, len(toolCalls))
				return finding, err
			}

			if len(toolCalls) >= constants.MaxToolCalls {
				state = stateForcedSkip
				continue
			}

			results := make([]ToolResult, 0, len(nonTerminal))
			for _, tc := range nonTerminal {
				if len(toolCalls) >= constants.MaxToolCalls {
					results = append(results, ToolResult{ToolCallID: tc.ID, Content: `{"error":"tool call budget exhausted"}`, IsError: true})
					continue
				}
				start := time.Now()
				output := a.executeTool(ctx, tc, pc)
				toolCalls = append(toolCalls, loopToolCall{ToolName: tc.Name, Input: tc.Input, Output: output, DurationMs: time.Since(start).Milliseconds()})
				results = append(results, ToolResult{ToolCallID: tc.ID, Content: output})
			}
			history = append(history, NewToolResults(results))
			state = stateAwaitingModel

		case stateForcedSkip:
			toolNames := toolNamesUsed(toolCalls)
			finding, err := a.writer.WriteSkip(ctx, pageURL, "Forced termination: tool call or duration budget exhausted", summarize(toolCalls), len(toolCalls), toolNames)
			return finding, err
		}
	}
}

func (a *AgentLoop) finalize(ctx context.Context, state agentState, pc FlaggedPageContext, terminalCall ToolCall, priorCalls []loopToolCall, iterations int) (*models.Finding, error) {
	toolNames := toolNamesUsed(priorCalls)

	switch state {
	case stateTerminalSkip:
		var in struct {
			Reason               string `json:"reason"`
			InvestigationSummary string `json:"investigation_summary"`
		}
		_ = json.Unmarshal(terminalCall.Input, &in)
		return a.writer.WriteSkip(ctx, pc.Page.URL, in.Reason, in.InvestigationSummary, iterations, toolNames)

	case stateTerminalSubmit:
		var in struct {
			FindingType            string         `json:"finding_type"`
			Severity               string         `json:"severity"`
			Title                  string         `json:"title"`
			Description            string         `json:"description"`
			BusinessImpact         string         `json:"business_impact"`
			ActionSummary          string         `json:"action_summary"`
			ActionDetail           map[string]any `json:"action_detail"`
			Confidence             float64        `json:"confidence"`
			RiskLevel              string         `json:"risk_level"`
			InvestigationSummary   string         `json:"investigation_summary"`
		}
		if err := json.Unmarshal(terminalCall.Input, &in); err != nil {
			return a.writer.WriteSkip(ctx, pc.Page.URL, "Forced termination: malformed submit_finding payload", "", iterations, toolNames)
		}

		eval, err := a.guardrails.Evaluate(ctx, RecommendationProposal{ActionType: in.FindingType, Confidence: in.Confidence})
		if err != nil {
			return nil, fmt.Errorf("agent_loop: guardrail evaluation: %w", err)
		}
		if eval.Blocked {
			reason := fmt.Sprintf("Guardrail blocked recommendation: %s", eval.Violations[0].Reason)
			return a.writer.WriteSkip(ctx, pc.Page.URL, reason, in.InvestigationSummary, iterations, toolNames)
		}

		return a.writer.WriteSubmission(ctx, SubmitFindingInput{
			PageURL:                pc.Page.URL,
			FindingType:            in.FindingType,
			Severity:               models.FindingSeverity(in.Severity),
			Title:                  in.Title,
			Description:            in.Description,
			BusinessImpact:         in.BusinessImpact,
			ActionSummary:          in.ActionSummary,
			ActionDetail:           in.ActionDetail,
			Confidence:             in.Confidence,
			RiskLevel:              models.RiskLevel(in.RiskLevel),
			InvestigationSummary:   in.InvestigationSummary,
			ToolsUsed:              toolNames,
			Iterations:             iterations,
			HealthScoreAtDetection: pc.Page.HealthScore,
		})

	default:
		return a.writer.WriteSkip(ctx, pc.Page.URL, "Forced termination: tool call or duration budget exhausted", summarize(priorCalls), iterations, toolNames)
	}
}

func (a *AgentLoop) dispatchTerminal(name string) agentState {
	switch name {
	case "submit_finding":
		return stateTerminalSubmit
	case "skip_finding":
		return stateTerminalSkip
	default:
		return stateForcedSkip
	}
}

func splitTerminal(calls []ToolCall) (terminal *ToolCall, terminalName string, nonTerminal []ToolCall) {
	for i, c := range calls {
		if c.Name == "submit_finding" || c.Name == "skip_finding" {
			return &calls[i], c.Name, nil
		}
	}
	return nil, "", calls
}

func toolNamesUsed(calls []loopToolCall) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range calls {
		if !seen[c.ToolName] {
			seen[c.ToolName] = true
			out = append(out, c.ToolName)
		}
	}
	return out
}

func summarize(calls []loopToolCall) string {
	if len(calls) == 0 {
		return "No tools were called before termination."
	}
	return fmt.Sprintf("%d tool calls executed before termination.", len(calls))
}

const agentSystemPrompt = `You are a site health investigator. You have been given a page that was flagged by an automated scoring pass. Use the available tools to gather more context, then either submit a finding with a specific remediation recommendation or skip the investigation if no action is warranted. Always finish by calling exactly one of submit_finding or skip_finding.`

func (a *AgentLoop) buildInitialPrompt(pc FlaggedPageContext) string {
	b, _ := json.Marshal(map[string]any{
		"page_url":          pc.Page.URL,
		"page_type":         pc.Page.PageType,
		"title":             pc.Page.Title,
		"health_score":      pc.Page.HealthScore,
		"score_breakdown":   pc.Page.HealthScoreBreakdown,
		"flag_reasons":      pc.FlagReasons,
		"last_updated_at":   pc.Page.LastUpdatedAt,
		"has_form":          pc.Page.HasForm,
		"meta_issues":       pc.Page.MetaIssues,
		"has_broken_links":  pc.Page.HasBrokenLinks,
		"analytics":         pc.Analytics,
		"search":            pc.Search,
		"speed":             pc.Speed,
	})
	return string(b)
}

// executeTool dispatches one non-terminal tool call against the adapters
// and returns its JSON-serialized output, swallowing errors into the
// output payload itself (per the tool registry's shared execution
// signature, a failed lookup is data the model reasons about, not a
// loop-ending error).
func (a *AgentLoop) executeTool(ctx context.Context, call ToolCall, pc FlaggedPageContext) string {
	var in RawPayload
	_ = json.Unmarshal(call.Input, &in)

	switch call.Name {
	case "get_page_analytics":
		detail, err := a.analytics.FetchPageDetail(ctx, valueOrDefault(in.String("page_path"), pc.Page.URL), int(in.Float("days")))
		return toToolJSON(detail, err)

	case "get_page_rankings":
		rows, err := a.search.FetchTopQueries(ctx, WindowRange{Start: time.Now().AddDate(0, 0, -int(in.Float("days"))), End: time.Now()}, 20)
		return toToolJSON(rows, err)

	case "get_page_speed_detail":
		strategy := models.Strategy(valueOrDefault(in.String("strategy"), "mobile"))
		score, err := a.performance.RunAudit(ctx, valueOrDefault(in.String("url"), pc.Page.URL), strategy, time.Now().UTC().Format("2006-01-02"))
		return toToolJSON(score, err)

	case "get_hubspot_page_detail":
		counts, err := a.cms.FormSubmissionCounts(ctx, []string{pc.Page.CMSPageID})
		return toToolJSON(counts, err)

	case "check_keyword_page_gap":
		rows, err := a.search.FetchTopQueries(ctx, WindowRange{Start: time.Now().AddDate(0, 0, -28), End: time.Now()}, 50)
		return toToolJSON(rows, err)

	case "check_signal_bus":
		sigs, err := a.signals.Query(ctx, "", []string{in.String("topic")}, time.Now().AddDate(0, 0, -7), 20)
		return toToolJSON(sigs, err)

	case "evaluate_recommendation":
		eval, err := a.guardrails.Evaluate(ctx, RecommendationProposal{ActionType: in.String("action_type"), Confidence: in.Float("confidence")})
		return toToolJSON(eval, err)

	default:
		return `{"error":"unknown tool"}`
	}
}

func toToolJSON(v any, err error) string {
	if err != nil {
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(b)
	}
	b, marshalErr := json.Marshal(v)
	if marshalErr != nil {
		return `{"error":"failed to serialize tool output"}`
	}
	return string(b)
}

func valueOrDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

var agentToolRegistry = []AgentTool{
	{Name: "get_page_analytics", Description: "Fetch traffic detail for a page over a bounded number of days (<=30).", InputSchema: map[string]any{"page_path": map[string]any{"type": "string"}, "days": map[string]any{"type": "integer"}}},
	{Name: "get_page_rankings", Description: "Fetch search ranking detail for a page over a bounded number of days (<=30).", InputSchema: map[string]any{"page_url": map[string]any{"type": "string"}, "days": map[string]any{"type": "integer"}}},
	{Name: "get_page_speed_detail", Description: "Run a fresh performance audit for a page and strategy.", InputSchema: map[string]any{"url": map[string]any{"type": "string"}, "strategy": map[string]any{"type": "string", "enum": []string{"mobile", "desktop"}}}},
	{Name: "get_hubspot_page_detail", Description: "Fetch CMS form submission detail for a page.", InputSchema: map[string]any{"page_url": map[string]any{"type": "string"}}},
	{Name: "check_keyword_page_gap", Description: "Check whether a keyword has a page gap: high impressions without a ranking page.", InputSchema: map[string]any{"keyword": map[string]any{"type": "string"}}},
	{Name: "check_signal_bus", Description: "Query the cross-agent signal bus for recent events on a topic.", InputSchema: map[string]any{"topic": map[string]any{"type": "string"}}},
	{Name: "evaluate_recommendation", Description: "Self-evaluate a proposed recommendation against active guardrails before submitting.", InputSchema: map[string]any{"action_type": map[string]any{"type": "string"}, "action_summary": map[string]any{"type": "string"}, "severity": map[string]any{"type": "string"}, "confidence": map[string]any{"type": "number"}}},
	{Name: "submit_finding", Description: "Terminal: submit a drafted recommendation ending the investigation.", InputSchema: map[string]any{
		"finding_type": map[string]any{"type": "string"}, "severity": map[string]any{"type": "string"},
		"title": map[string]any{"type": "string"}, "description": map[string]any{"type": "string"},
		"business_impact": map[string]any{"type": "string"}, "action_summary": map[string]any{"type": "string"},
		"action_detail": map[string]any{"type": "object"}, "confidence": map[string]any{"type": "number"},
		"risk_level": map[string]any{"type": "string"}, "investigation_summary": map[string]any{"type": "string"},
	}},
	{Name: "skip_finding", Description: "Terminal: close the investigation without a recommendation.", InputSchema: map[string]any{
		"reason": map[string]any{"type": "string"}, "investigation_summary": map[string]any{"type": "string"},
	}},
}
