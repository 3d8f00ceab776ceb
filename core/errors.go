package core

import "fmt"

// ErrorKind categorizes every expected failure mode in the orchestration
// substrate. Components convert internal failures into one of these kinds at
// their boundary; raw panics and stack traces never cross the Orchestrator.
type ErrorKind string

const (
	// KindNotFound indicates an unknown tool or agent name.
	KindNotFound ErrorKind = "not_found"
	// KindValidation indicates bad parameters or a malformed request shape.
	KindValidation ErrorKind = "validation"
	// KindAuthRequired indicates a tool requiring authentication was called
	// without a user identity.
	KindAuthRequired ErrorKind = "auth_required"
	// KindTimeout indicates a tool call lost the race against its timer.
	KindTimeout ErrorKind = "timeout"
	// KindNotReady indicates an agent or tool exists but is not initialized.
	KindNotReady ErrorKind = "not_ready"
	// KindRuleMismatch indicates no handoff rule permits the transition.
	KindRuleMismatch ErrorKind = "rule_mismatch"
	// KindEscalationLimit indicates the maximum escalation level was reached.
	KindEscalationLimit ErrorKind = "escalation_limit_reached"
	// KindCircularHandoff indicates a handoff would immediately reverse the
	// previous one for the same user.
	KindCircularHandoff ErrorKind = "circular_handoff"
	// KindTransitionFailure indicates the downstream agent invocation failed.
	// Unexpected internal errors are also surfaced under this kind with the
	// original message attached for diagnostics.
	KindTransitionFailure ErrorKind = "transition_failure"
)

// Error is the typed error exchanged between components. Exactly one kind is
// set; Cause carries the underlying error when one exists.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs a typed error of the given kind.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a cause to a typed error of the given kind.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the ErrorKind of err if it is (or wraps) a *Error, otherwise
// KindTransitionFailure, the catch-all for unexpected failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if te, ok := err.(*Error); ok {
		return te.Kind
	}
	return KindTransitionFailure
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool { return KindOf(err) == kind }
