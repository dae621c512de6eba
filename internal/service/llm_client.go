package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AgentTool is one entry in the agent loop's closed tool registry: a name,
// a description the model sees, and a JSON-schema-shaped input definition.
type AgentTool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a single tool_use content block the model produced.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ModelTurn is one round-trip: the text the model said (if any), the tool
// calls it wants run, and whether it stopped because it is done rather
// than because it wants a tool executed.
type ModelTurn struct {
	Text      string
	ToolCalls []ToolCall
	StopReason string
}

// LLMClient wraps the Anthropic messages API directly for the agent loop's
// tool-calling investigation and the weekly digest's narrative generation.
// Unlike a multi-provider abstraction, the agent loop depends on the
// provider's own tool_use/tool_result block shape, so there is no value in
// hiding it behind a format-agnostic interface.
type LLMClient struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewLLMClient(apiKey, model string) *LLMClient {
	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaude3_7SonnetLatest
	}
	return &LLMClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  m,
	}
}

// conversationMessage is the client's own representation of one turn so
// callers (the agent loop) don't need to import SDK param types directly.
type conversationMessage struct {
	role    string // "user" or "assistant"
	text    string
	toolUse []ToolCall
	// toolResults, when set, carries the outcome of the previous turn's
	// tool calls back to the model as a user-role message.
	toolResults []ToolResult
}

// ToolResult is the outcome of one executed tool call, fed back to the
// model on the next turn.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// NewUserText starts a conversation with a plain text user turn.
func NewUserText(text string) conversationMessage {
	return conversationMessage{role: "user", text: text}
}

// NewToolResults continues a conversation by reporting tool outcomes.
func NewToolResults(results []ToolResult) conversationMessage {
	return conversationMessage{role: "user", toolResults: results}
}

// RunTurn sends the accumulated conversation plus the tool registry and
// returns the model's next turn. systemPrompt is sent once per call since
// the agent loop's history is short enough that resending it is cheap.
func (c *LLMClient) RunTurn(ctx context.Context, systemPrompt string, history []conversationMessage, tools []AgentTool) (*ModelTurn, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2048,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:  toMessageParams(history),
		Tools:     toToolParams(tools),
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("llm: messages.new: %w", err)
	}

	turn := &ModelTurn{StopReason: string(msg.StopReason)}
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			turn.Text += variant.Text
		case anthropic.ToolUseBlock:
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{
				ID:    variant.ID,
				Name:  variant.Name,
				Input: json.RawMessage(variant.Input),
			})
		}
	}
	return turn, nil
}

// Complete runs a single-shot, tool-free completion, used by the weekly
// digest's narrative generation.
func (c *LLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("llm: complete: %w", err)
	}

	var out string
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			out += text.Text
		}
	}
	return out, nil
}

func toMessageParams(history []conversationMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch {
		case len(m.toolResults) > 0:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.toolResults))
			for _, r := range m.toolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(r.ToolCallID, r.Content, r.IsError))
			}
			out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleUser, Content: blocks})
		case len(m.toolUse) > 0:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.toolUse))
			for _, t := range m.toolUse {
				blocks = append(blocks, anthropic.NewToolUseBlock(t.ID, json.RawMessage(t.Input), t.Name))
			}
			out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant, Content: blocks})
		case m.role == "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.text)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.text)))
		}
	}
	return out
}

func toToolParams(tools []AgentTool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: t.InputSchema,
				},
			},
		})
	}
	return out
}
