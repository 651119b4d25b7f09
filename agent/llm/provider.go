// Package llm adapts a tool-calling chat model to the conversation
// orchestrator's ModelProvider contract.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
	toolx "github.com/tanpawarit/crm-copilot/agent/tool"
	openrouterx "github.com/tanpawarit/crm-copilot/pkg/openrouter"
)

type Provider struct {
	chatModel    einomodel.ToolCallingChatModel
	systemPrompt string
}

var _ contractx.ModelProvider = (*Provider)(nil)

// New builds the provider and binds the registry's tool schemas to the chat
// model once; the registry is immutable after startup so the binding never
// changes.
func New(ctx context.Context, builder openrouterx.LLMBuilder, registry *toolx.Registry, systemPrompt string) (*Provider, error) {
	if builder == nil {
		return nil, fmt.Errorf("%w: llm builder is required", contractx.ErrValidation)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: tool registry is required", contractx.ErrValidation)
	}

	chatModel, err := builder.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrModel, err)
	}

	bound, err := chatModel.WithTools(registry.ToolInfos())
	if err != nil {
		return nil, fmt.Errorf("%w: bind tools: %v", contractx.ErrModel, err)
	}

	return NewWithModel(bound, systemPrompt), nil
}

// NewWithModel wraps an already configured chat model. Used by tests.
func NewWithModel(chatModel einomodel.ToolCallingChatModel, systemPrompt string) *Provider {
	return &Provider{
		chatModel:    chatModel,
		systemPrompt: strings.TrimSpace(systemPrompt),
	}
}

// NextTurn asks the model for the next step given the full ordered history.
// The result is either plain assistant text or a single tool-call request.
// Failures are surfaced once and never retried here.
func (p *Provider) NextTurn(ctx context.Context, history []contractx.Turn) (contractx.ModelStep, error) {
	msgs, err := p.toMessages(history)
	if err != nil {
		return contractx.ModelStep{}, err
	}

	out, err := p.chatModel.Generate(ctx, msgs)
	if err != nil {
		return contractx.ModelStep{}, fmt.Errorf("%w: generate: %v", contractx.ErrModel, err)
	}
	if out == nil {
		return contractx.ModelStep{}, fmt.Errorf("%w: empty model response", contractx.ErrModel)
	}

	if len(out.ToolCalls) > 0 {
		call, err := toToolCall(out.ToolCalls[0])
		if err != nil {
			return contractx.ModelStep{}, err
		}
		return contractx.ModelStep{ToolCall: call}, nil
	}

	text := strings.TrimSpace(out.Content)
	if text == "" {
		return contractx.ModelStep{}, fmt.Errorf("%w: model returned neither text nor a tool call", contractx.ErrModel)
	}
	return contractx.ModelStep{Text: text}, nil
}

func (p *Provider) toMessages(history []contractx.Turn) ([]*schema.Message, error) {
	msgs := make([]*schema.Message, 0, len(history)+1)
	if p.systemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(p.systemPrompt))
	}

	for _, turn := range history {
		switch {
		case turn.Invocation != nil:
			payload, err := json.Marshal(turn.Invocation)
			if err != nil {
				return nil, fmt.Errorf("%w: marshal tool result: %v", contractx.ErrValidation, err)
			}
			msgs = append(msgs, schema.ToolMessage(string(payload), turn.Invocation.CallID,
				schema.WithToolName(turn.Invocation.Tool)))
		case turn.ToolCall != nil:
			args, err := json.Marshal(turn.ToolCall.Args)
			if err != nil {
				return nil, fmt.Errorf("%w: marshal tool args: %v", contractx.ErrValidation, err)
			}
			msgs = append(msgs, schema.AssistantMessage(turn.Content, []schema.ToolCall{{
				ID: turn.ToolCall.ID,
				Function: schema.FunctionCall{
					Name:      turn.ToolCall.Name,
					Arguments: string(args),
				},
			}}))
		case turn.Role == contractx.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(turn.Content, nil))
		case turn.Role == contractx.RoleSystem:
			msgs = append(msgs, schema.SystemMessage(turn.Content))
		default:
			msgs = append(msgs, schema.UserMessage(turn.Content))
		}
	}
	return msgs, nil
}

func toToolCall(call schema.ToolCall) (*contractx.ToolCall, error) {
	name := strings.TrimSpace(call.Function.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrModel)
	}

	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrModel, name, err)
		}
	}

	return &contractx.ToolCall{
		ID:   call.ID,
		Name: name,
		Args: args,
	}, nil
}
