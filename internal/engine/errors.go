package engine

import (
	"errors"
	"fmt"

	"caseflow/internal/repo"
	"caseflow/internal/stages"
)

var (
	// ErrNotFound covers unknown cases and unknown stage codes.
	ErrNotFound = repo.ErrNotFound
	// ErrAssignmentConflict means another agent won the race. Callers re-list and pick another case.
	ErrAssignmentConflict = errors.New("assignment conflict")
	// ErrPermissionDenied is fatal for the request and logged as a security event.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidTransition means the action is not allowed from the case's current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStoreUnavailable means the store kept failing after internal retries.
	ErrStoreUnavailable = repo.ErrUnavailable
	// ErrInvalidInput rejects malformed requests before touching the store.
	ErrInvalidInput = errors.New("invalid input")
)

// Error kinds used in logs, metrics and API error codes.
const (
	KindNone               = "ok"
	KindNotFound           = "not_found"
	KindAssignmentConflict = "assignment_conflict"
	KindPermissionDenied   = "permission_denied"
	KindInvalidTransition  = "invalid_transition"
	KindStoreUnavailable   = "store_unavailable"
	KindInvalidInput       = "invalid_input"
	KindInternal           = "internal"
)

// ConflictError reports the case that could not be taken and who holds it, when known.
type ConflictError struct {
	CaseID string
	HeldBy string
	Reason string
}

func (e *ConflictError) Error() string {
	switch {
	case e.HeldBy != "":
		return fmt.Sprintf("case %s already assigned to %s", e.CaseID, e.HeldBy)
	case e.Reason != "":
		return fmt.Sprintf("case %s: %s", e.CaseID, e.Reason)
	default:
		return fmt.Sprintf("case %s was modified concurrently", e.CaseID)
	}
}

func (e *ConflictError) Unwrap() error { return ErrAssignmentConflict }

// PermissionError names the agent, role and reason of a refusal.
type PermissionError struct {
	CaseID  string
	AgentID string
	Role    string
	Reason  string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("agent %s (%s) may not act on case %s: %s", e.AgentID, e.Role, e.CaseID, e.Reason)
}

func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// TransitionError names the refused action and the state it was attempted from.
type TransitionError struct {
	CaseID string
	Action string
	Stage  string
	Status string
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s case %s at %s/%s", e.Action, e.CaseID, e.Stage, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Kind classifies err into one of the Kind constants.
func Kind(err error) string {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound), errors.Is(err, stages.ErrStageNotFound):
		return KindNotFound
	case errors.Is(err, ErrAssignmentConflict):
		return KindAssignmentConflict
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	default:
		return KindInternal
	}
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	k := Kind(err)
	return k == KindAssignmentConflict || k == KindStoreUnavailable
}
