package contract

import "errors"

var (
	// Registry.
	ErrUnknownTool      = errors.New("unknown tool")
	ErrDuplicateTool    = errors.New("tool already registered")
	ErrInvalidArguments = errors.New("invalid tool arguments")

	// Confirmation gate.
	ErrConfirmationInProgress = errors.New("confirmation already in progress")

	// External collaborators.
	ErrBackend = errors.New("backend call failed")
	ErrModel   = errors.New("model call failed")

	// Session lifecycle.
	ErrSessionClosed  = errors.New("session is closed")
	ErrUnknownSession = errors.New("unknown session")
	ErrSessionBusy    = errors.New("session busy")

	ErrValidation = errors.New("validation failed")
)

// KindOf maps a dispatch or cycle error onto the result error kind the model
// sees. Unrecognized errors are reported as backend faults.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ErrorKindNone
	case errors.Is(err, ErrUnknownTool):
		return ErrorKindUnknownTool
	case errors.Is(err, ErrInvalidArguments):
		return ErrorKindInvalidArguments
	case errors.Is(err, ErrConfirmationInProgress):
		return ErrorKindConfirmationInProgress
	case errors.Is(err, ErrModel):
		return ErrorKindModel
	default:
		return ErrorKindBackend
	}
}
