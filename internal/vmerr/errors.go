// Package vmerr defines the runtime's error vocabulary: one wrapping type,
// Error, tagged by Code, so callers can branch with errors.Is/As while
// engine internals still get a human-readable message and an Unwrap chain
// back to the underlying cause.
package vmerr

import (
	"fmt"

	"github.com/google/uuid"
)

// Code classifies the kind of failure an Error carries.
type Code string

const (
	// CodeValidation marks a VALIDATE-phase failure: the graph or a patch
	// did not satisfy a structural invariant before execution began.
	CodeValidation Code = "VALIDATION_FAILED"
	// CodeUnresolvable marks a Requirement that negotiation could not bind
	// to any provider under its policy.
	CodeUnresolvable Code = "UNRESOLVABLE_REQUIREMENT"
	// CodeHandlerFault marks a panic or error surfaced by a capability
	// handler during dispatch.
	CodeHandlerFault Code = "HANDLER_FAULT"
	// CodeAutoTraversal marks an automatic CHOICE-following chain that
	// exceeded the configured bound without reaching a quiescent node.
	CodeAutoTraversal Code = "AUTO_TRAVERSAL_EXCEEDED"
	// CodeInvariant marks an internal invariant violation: a condition the
	// engine assumes can never happen at runtime did.
	CodeInvariant Code = "INVARIANT_VIOLATION"
	// CodePatchApply marks a failure applying one effect of a patch during
	// replay or live execution.
	CodePatchApply Code = "PATCH_APPLY_FAILED"
)

// Error is the single error type produced by the engine, registry,
// provisioner, and effect pipeline. It always carries a Code and a
// human-readable Message, and optionally wraps an underlying Err.
type Error struct {
	Code    Code
	Message string
	Err     error

	// Context fields, populated depending on Code. Zero values are omitted
	// from Error() when not meaningful for the code in question.
	Phase         string
	HandlerID     string
	RequirementID *uuid.UUID
	EffectIndex   int
	ChainLength   int
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch e.Code {
	case CodeUnresolvable:
		return fmt.Sprintf("%s: requirement %s: %s", e.Code, idOrNil(e.RequirementID), e.Message)
	case CodeHandlerFault:
		return fmt.Sprintf("%s: phase %s handler %s: %s", e.Code, e.Phase, e.HandlerID, e.Message)
	case CodeAutoTraversal:
		return fmt.Sprintf("%s: chain length %d: %s", e.Code, e.ChainLength, e.Message)
	case CodePatchApply:
		return fmt.Sprintf("%s: effect %d: %s", e.Code, e.EffectIndex, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

func idOrNil(id *uuid.UUID) string {
	if id == nil {
		return "<nil>"
	}
	return id.String()
}

// ValidationFailed reports one or more structural invariant violations
// found before a tick or patch was allowed to execute.
func ValidationFailed(reasons []string) *Error {
	return &Error{Code: CodeValidation, Message: joinReasons(reasons)}
}

// UnresolvableRequirement reports a Requirement that exhausted negotiation.
func UnresolvableRequirement(requirementID uuid.UUID, reason string) *Error {
	return &Error{Code: CodeUnresolvable, Message: reason, RequirementID: &requirementID}
}

// HandlerFault wraps a panic or returned error from a capability handler.
func HandlerFault(phase, handlerID string, cause error) *Error {
	return &Error{Code: CodeHandlerFault, Message: cause.Error(), Err: cause, Phase: phase, HandlerID: handlerID}
}

// AutoTraversalExceeded reports an automatic CHOICE-following chain that
// ran past the configured bound.
func AutoTraversalExceeded(chainLength int) *Error {
	return &Error{Code: CodeAutoTraversal, Message: "automatic traversal bound exceeded", ChainLength: chainLength}
}

// InvariantViolation reports an internal condition that should be
// impossible at runtime. The engine surfaces it as an error rather than
// exiting the process; callers decide their own abort policy.
func InvariantViolation(what string) *Error {
	return &Error{Code: CodeInvariant, Message: what}
}

// PatchApplyFailed reports a failure applying one effect during replay or
// live execution.
func PatchApplyFailed(effectIndex int, reason string, cause error) *Error {
	return &Error{Code: CodePatchApply, Message: reason, Err: cause, EffectIndex: effectIndex}
}

func joinReasons(reasons []string) string {
	if len(reasons) == 0 {
		return "validation failed"
	}
	if len(reasons) == 1 {
		return reasons[0]
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}
