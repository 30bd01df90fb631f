package faults

import (
	"errors"
	"fmt"
)

// Kind is a stable code for each failure mode surfaced by the pipeline.
type Kind string

const (
	// Configuration indicates an unrecognized SDK or an inconsistent option set.
	Configuration Kind = "CONFIGURATION"
	// ValidationRejected indicates the test gate did not return the exact sentinel.
	ValidationRejected Kind = "VALIDATION_REJECTED"
	// MissingVariable indicates a template references an unbound variable.
	MissingVariable Kind = "MISSING_VARIABLE"
	// UpstreamFailure indicates a collaborator call failed.
	UpstreamFailure Kind = "UPSTREAM_FAILURE"
)

// Sentinels for errors.Is; matching is by Kind only.
var (
	ErrConfiguration      = &Error{Kind: Configuration}
	ErrValidationRejected = &Error{Kind: ValidationRejected}
	ErrMissingVariable    = &Error{Kind: MissingVariable}
	ErrUpstreamFailure    = &Error{Kind: UpstreamFailure}
)

// Error carries the failure kind, the pipeline stage that produced it and
// the underlying cause.
type Error struct {
	Kind    Kind   `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// New creates an Error without a cause.
func New(kind Kind, stage, message string) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message}
}

// Wrap creates an Error around cause.
func Wrap(kind Kind, stage, message string, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, Message: message, cause: cause}
}

// Upstream wraps a failing collaborator call. An error that already carries a
// Kind is returned with only the stage filled in when it is empty.
func Upstream(stage string, cause error) error {
	if cause == nil {
		return nil
	}
	var fe *Error
	if errors.As(cause, &fe) {
		if fe.Stage == "" {
			cp := *fe
			cp.Stage = stage
			return &cp
		}
		return cause
	}
	return Wrap(UpstreamFailure, stage, "collaborator call failed", cause)
}

// WithStage returns err with its stage replaced by stage. Errors without a
// Kind are wrapped as UpstreamFailure.
func WithStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		cp := *fe
		cp.Stage = stage
		return &cp
	}
	return Wrap(UpstreamFailure, stage, "collaborator call failed", err)
}

func (e *Error) Error() string {
	head := "[" + string(e.Kind) + "]"
	if e.Stage != "" {
		head += " " + e.Stage + ":"
	}
	if e.cause != nil {
		return fmt.Sprintf("%s %s: %v", head, e.Message, e.cause)
	}
	return fmt.Sprintf("%s %s", head, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetails attaches structured details, e.g. the gate output.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// KindOf returns the Kind of err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// StageOf returns the stage recorded on err, or "".
func StageOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Stage
	}
	return ""
}
