package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
	sessionx "github.com/tanpawarit/crm-copilot/agent/session"
)

var ErrInvalidMessage = errors.New("message must not be empty")

type GraphInput struct {
	Session *sessionx.Session
	Text    string
}

type GraphOutput struct {
	Reply string
}

type graphState struct {
	session *sessionx.Session
	text    string
	reply   string
}

func (o *Orchestrator) compileHandleMessageGraph(
	ctx context.Context,
) (compose.Runnable[GraphInput, GraphOutput], error) {
	graph := compose.NewGraph[GraphInput, GraphOutput]()

	if err := graph.AddLambdaNode("validate_request",
		compose.InvokableLambda(func(ctx context.Context, in GraphInput) (*graphState, error) {
			return validateRequest(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node validate_request: %w", err)
	}

	if err := graph.AddLambdaNode("append_user_turn",
		compose.InvokableLambda(func(ctx context.Context, in *graphState) (*graphState, error) {
			return o.appendUserTurn(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node append_user_turn: %w", err)
	}

	if err := graph.AddLambdaNode("model_loop",
		compose.InvokableLambda(func(ctx context.Context, in *graphState) (*graphState, error) {
			return o.runModelLoop(ctx, in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node model_loop: %w", err)
	}

	if err := graph.AddLambdaNode("finalize_reply",
		compose.InvokableLambda(func(ctx context.Context, in *graphState) (GraphOutput, error) {
			return o.finalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node finalize_reply: %w", err)
	}

	edges := [][2]string{
		{compose.START, "validate_request"},
		{"validate_request", "append_user_turn"},
		{"append_user_turn", "model_loop"},
		{"model_loop", "finalize_reply"},
		{"finalize_reply", compose.END},
	}

	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.handle_message"))
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}

func validateRequest(in GraphInput) (*graphState, error) {
	if in.Session == nil {
		return nil, fmt.Errorf("%w: session is nil", contractx.ErrValidation)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: %s", contractx.ErrValidation, ErrInvalidMessage)
	}
	return &graphState{session: in.Session, text: text}, nil
}

func (o *Orchestrator) appendUserTurn(state *graphState) (*graphState, error) {
	err := o.sessions.Append(state.session, contractx.Turn{
		Role:    contractx.RoleUser,
		Content: state.text,
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// runModelLoop re-asks the model with the augmented history after every tool
// result until it produces plain text, bounded by the configured depth.
// Registry rejections come back to the model as structured results so it can
// correct itself; model and backend faults abort the cycle.
func (o *Orchestrator) runModelLoop(ctx context.Context, state *graphState) (*graphState, error) {
	for depth := 0; depth <= o.maxToolDepth; depth++ {
		step, err := o.model.NextTurn(ctx, o.sessions.History(state.session))
		if err != nil {
			return nil, err
		}

		if step.ToolCall == nil {
			state.reply = step.Text
			return state, nil
		}

		call := *step.ToolCall
		if call.ID == "" {
			call.ID = uuid.NewString()
		}

		if err := o.sessions.Append(state.session, contractx.Turn{
			Role:     contractx.RoleAssistant,
			ToolCall: &call,
		}); err != nil {
			return nil, err
		}

		result, err := o.dispatchCall(ctx, state.session, call)
		if err != nil {
			return nil, err
		}

		if err := o.sessions.Append(state.session, contractx.Turn{
			Role:       contractx.RoleAssistant,
			Invocation: &result,
		}); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("%w: tool-call depth %d exceeded", contractx.ErrModel, o.maxToolDepth)
}

func (o *Orchestrator) dispatchCall(
	ctx context.Context,
	sess *sessionx.Session,
	call contractx.ToolCall,
) (contractx.InvocationResult, error) {
	result, err := o.dispatcher.Dispatch(ctx, contractx.InvocationRequest{
		SessionID: sess.ID,
		CallID:    call.ID,
		Tool:      call.Name,
		Args:      call.Args,
	})
	if err == nil {
		return result, nil
	}

	// Rejections the model can react to stay inside the loop; anything else
	// terminates the cycle.
	switch kind := contractx.KindOf(err); kind {
	case contractx.ErrorKindUnknownTool,
		contractx.ErrorKindInvalidArguments,
		contractx.ErrorKindConfirmationInProgress:
		log.Debug().
			Str("session_id", sess.ID).
			Str("tool", call.Name).
			Str("kind", string(kind)).
			Msg("tool call rejected before execution")
		return contractx.InvocationResult{
			Tool:      call.Name,
			CallID:    call.ID,
			ErrorKind: kind,
			Error:     err.Error(),
		}, nil
	default:
		return contractx.InvocationResult{}, err
	}
}

func (o *Orchestrator) finalizeReply(state *graphState) (GraphOutput, error) {
	reply := strings.TrimSpace(state.reply)
	if reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: model produced an empty reply", contractx.ErrModel)
	}

	err := o.sessions.Append(state.session, contractx.Turn{
		Role:    contractx.RoleAssistant,
		Content: reply,
	})
	if err != nil {
		return GraphOutput{}, err
	}
	return GraphOutput{Reply: reply}, nil
}
