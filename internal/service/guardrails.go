package service

import (
	"context"
	"fmt"

	"github.com/jmylchreest/sitewatch/internal/models"
	"github.com/jmylchreest/sitewatch/internal/repository"
)

// GuardrailViolation describes one rule a proposed recommendation failed.
type GuardrailViolation struct {
	GuardrailName string
	Action        models.ViolationAction
	Reason        string
}

// GuardrailEvaluation is the evaluate_recommendation tool's result: the
// recommendation is blocked if any violation's action is "block", or if
// confidence falls under the hard floor regardless of configured rules.
type GuardrailEvaluation struct {
	Blocked    bool
	Violations []GuardrailViolation
}

const hardMinConfidence = 0.3

// GuardrailEngine evaluates a proposed recommendation against the active
// guardrail set before the agent loop is allowed to submit a finding.
type GuardrailEngine struct {
	guardrails repository.GuardrailRepository
}

func NewGuardrailEngine(guardrails repository.GuardrailRepository) *GuardrailEngine {
	return &GuardrailEngine{guardrails: guardrails}
}

// RecommendationProposal is what the agent loop hands to the guardrail
// engine before a submit_finding call is allowed to become terminal.
type RecommendationProposal struct {
	ActionType string
	Confidence float64
}

// Evaluate checks confidence against the hard floor first (unconditional,
// not configurable away) then walks the active guardrail rows.
func (e *GuardrailEngine) Evaluate(ctx context.Context, proposal RecommendationProposal) (*GuardrailEvaluation, error) {
	eval := &GuardrailEvaluation{}

	if proposal.Confidence < hardMinConfidence {
		eval.Blocked = true
		eval.Violations = append(eval.Violations, GuardrailViolation{
			GuardrailName: "minimum_confidence_floor",
			Action:        models.ViolationBlock,
			Reason:        fmt.Sprintf("confidence %.2f is below the hard floor of %.2f", proposal.Confidence, hardMinConfidence),
		})
	}

	rules, err := e.guardrails.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("guardrails: load active rules: %w", err)
	}

	for _, g := range rules {
		violated, reason := evaluateRule(g, proposal)
		if !violated {
			continue
		}
		eval.Violations = append(eval.Violations, GuardrailViolation{
			GuardrailName: g.Name,
			Action:        g.ViolationAction,
			Reason:        reason,
		})
		if g.ViolationAction == models.ViolationBlock {
			eval.Blocked = true
		}
	}

	return eval, nil
}

// evaluateRule covers the two rule categories the spec names:
// min_confidence (a per-rule confidence floor stricter than the hard
// minimum) and blocked_action_types (a closed list of action types that
// always violate regardless of confidence).
func evaluateRule(g *models.Guardrail, proposal RecommendationProposal) (bool, string) {
	switch g.RuleCategory {
	case "min_confidence":
		if g.Threshold == nil {
			return false, ""
		}
		if proposal.Confidence < *g.Threshold {
			return true, fmt.Sprintf("confidence %.2f is below rule threshold %.2f", proposal.Confidence, *g.Threshold)
		}
	case "blocked_action_types":
		blocked, _ := g.Config["action_types"].([]any)
		for _, b := range blocked {
			if s, ok := b.(string); ok && s == proposal.ActionType {
				return true, fmt.Sprintf("action type %q is in the blocked list", proposal.ActionType)
			}
		}
	}
	return false, ""
}
