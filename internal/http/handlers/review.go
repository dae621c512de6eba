package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/sitewatch/internal/apperrors"
	"github.com/jmylchreest/sitewatch/internal/service"
)

// ReviewHandler applies a human reviewer's approve/reject decision to a
// pending decision queue item.
type ReviewHandler struct {
	writer *service.FindingWriter
}

func NewReviewHandler(writer *service.FindingWriter) *ReviewHandler {
	return &ReviewHandler{writer: writer}
}

// ReviewDecisionInput is the path parameter plus the reviewer's decision.
type ReviewDecisionInput struct {
	ItemID string `path:"itemId"`
	Body   struct {
		Approve  bool   `json:"approve"`
		Reviewer string `json:"reviewer" doc:"Name or identifier of the human reviewer"`
		Notes    string `json:"notes,omitempty"`
	}
}

// ReviewDecisionOutput confirms the decision was applied.
type ReviewDecisionOutput struct {
	Body struct {
		Applied bool `json:"applied"`
	}
}

// ApplyDecision approves or rejects a pending decision queue item.
func (h *ReviewHandler) ApplyDecision(ctx context.Context, input *ReviewDecisionInput) (*ReviewDecisionOutput, error) {
	err := h.writer.ReviewDecision(ctx, input.ItemID, input.Body.Approve, input.Body.Reviewer, input.Body.Notes)
	if err != nil {
		var conflict *apperrors.ReviewConflictError
		if errors.As(err, &conflict) {
			return nil, huma.Error404NotFound(conflict.Error())
		}
		return nil, huma.Error500InternalServerError("failed to apply review decision", err)
	}
	out := &ReviewDecisionOutput{}
	out.Body.Applied = true
	return out, nil
}
