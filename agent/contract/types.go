package contract

import (
	"context"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one immutable message unit in a conversation. Exactly one of
// ToolCall/Invocation may be set: ToolCall on an assistant turn that requests a
// tool, Invocation on the turn that reports the tool result back to the model.
type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content,omitempty"`
	At      time.Time `json:"at"`

	ToolCall   *ToolCall         `json:"tool_call,omitempty"`
	Invocation *InvocationResult `json:"invocation,omitempty"`
}

// ToolCall is a model-issued request to run a named tool.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// InvocationRequest is one validated call attempt against the registry,
// constructed per dispatch and discarded after resolution.
type InvocationRequest struct {
	SessionID string         `json:"session_id"`
	CallID    string         `json:"call_id"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
}

type ErrorKind string

const (
	ErrorKindNone                   ErrorKind = ""
	ErrorKindNotApproved            ErrorKind = "not_approved"
	ErrorKindUnknownTool            ErrorKind = "unknown_tool"
	ErrorKindInvalidArguments       ErrorKind = "invalid_arguments"
	ErrorKindConfirmationInProgress ErrorKind = "confirmation_in_progress"
	ErrorKindBackend                ErrorKind = "backend_error"
	ErrorKindModel                  ErrorKind = "model_error"
)

// InvocationResult is the structured outcome of one tool call. NotApproved is
// an expected variant, not a fault: the model is free to react to it.
type InvocationResult struct {
	Tool      string    `json:"tool"`
	CallID    string    `json:"call_id,omitempty"`
	OK        bool      `json:"ok"`
	Value     any       `json:"value,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ParamType is the closed set of primitive argument types a tool may declare.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
)

type Param struct {
	Name     string
	Type     ParamType
	Desc     string
	Required bool
}

// ToolHandler executes a tool's effect against the backend. Arguments have
// already passed registry validation when a handler runs.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ToolDescriptor declares one invocable tool. Registered once at startup and
// immutable thereafter. Mutating tools never execute without an approved
// pending action.
type ToolDescriptor struct {
	Name     string
	Desc     string
	Params   []Param
	Mutating bool
	Handler  ToolHandler

	// Describe renders the human-readable confirmation prompt for a mutating
	// call. Optional; a generic rendering is used when nil.
	Describe func(args map[string]any) string
}

// ModelStep is one model turn: either plain assistant text or a tool-call
// request, never both.
type ModelStep struct {
	Text     string
	ToolCall *ToolCall
}

// ProposedAction is the externally visible projection of a pending action.
type ProposedAction struct {
	RequestID   string    `json:"request_id"`
	SessionID   string    `json:"session_id"`
	Tool        string    `json:"tool"`
	Description string    `json:"description"`
	Deadline    time.Time `json:"deadline"`
}

// Decision is an external approve/deny signal correlated by request id.
type Decision struct {
	RequestID string `json:"request_id"`
	Approve   bool   `json:"approve"`
}
