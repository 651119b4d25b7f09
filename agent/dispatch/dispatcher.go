// Package dispatch validates and routes model-issued tool calls, applying the
// confirmation gate in front of every mutating handler.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	confirmx "github.com/tanpawarit/crm-copilot/agent/confirm"
	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
	toolx "github.com/tanpawarit/crm-copilot/agent/tool"
)

type Dispatcher struct {
	registry *toolx.Registry
	gate     *confirmx.Gate
}

func New(registry *toolx.Registry, gate *confirmx.Gate) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: tool registry is required", contractx.ErrValidation)
	}
	if gate == nil {
		return nil, fmt.Errorf("%w: confirmation gate is required", contractx.ErrValidation)
	}
	return &Dispatcher{registry: registry, gate: gate}, nil
}

// Dispatch runs one invocation request to completion. Lookup, validation, and
// an outstanding confirmation propagate as errors before any side effect; for
// a mutating tool the call blocks at the gate and the handler runs strictly
// after approval. Denial and expiry come back as a not_approved result, which
// is an expected outcome rather than a fault.
func (d *Dispatcher) Dispatch(ctx context.Context, req contractx.InvocationRequest) (contractx.InvocationResult, error) {
	desc, err := d.registry.Lookup(req.Tool)
	if err != nil {
		return contractx.InvocationResult{}, err
	}
	if err := d.registry.Validate(req.Tool, req.Args); err != nil {
		return contractx.InvocationResult{}, err
	}

	if !desc.Mutating {
		return d.invoke(ctx, desc, req), nil
	}

	action, err := d.gate.Propose(req, describe(desc, req.Args))
	if err != nil {
		return contractx.InvocationResult{}, err
	}

	switch state := d.gate.Await(ctx, action); state {
	case confirmx.StateApproved:
		return d.invoke(ctx, desc, req), nil
	default:
		log.Info().
			Str("session_id", req.SessionID).
			Str("tool", req.Tool).
			Str("state", string(state)).
			Msg("mutating call not approved")
		return contractx.InvocationResult{
			Tool:      req.Tool,
			CallID:    req.CallID,
			ErrorKind: contractx.ErrorKindNotApproved,
			Error:     fmt.Sprintf("action was %s by the user", state),
		}, nil
	}
}

// invoke runs the handler and converts any failure, panics included, into a
// backend_error result so a handler fault never escapes the dispatcher.
func (d *Dispatcher) invoke(ctx context.Context, desc contractx.ToolDescriptor, req contractx.InvocationRequest) (res contractx.InvocationResult) {
	res = contractx.InvocationResult{Tool: req.Tool, CallID: req.CallID}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("tool", req.Tool).Any("panic", r).Msg("tool handler panicked")
			res = contractx.InvocationResult{
				Tool:      req.Tool,
				CallID:    req.CallID,
				ErrorKind: contractx.ErrorKindBackend,
				Error:     fmt.Sprintf("handler panic: %v", r),
			}
		}
	}()

	value, err := desc.Handler(ctx, req.Args)
	if err != nil {
		res.ErrorKind = contractx.ErrorKindBackend
		res.Error = err.Error()
		return res
	}

	res.OK = true
	res.Value = value
	return res
}

func describe(desc contractx.ToolDescriptor, args map[string]any) string {
	if desc.Describe != nil {
		if s := strings.TrimSpace(desc.Describe(args)); s != "" {
			return s
		}
	}
	return fmt.Sprintf("Run %s with %v?", desc.Name, args)
}
