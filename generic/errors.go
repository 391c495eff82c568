/*
errors.go - Centralized error taxonomy for the indemnity engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Every kind is recoverable: it is surfaced to the caller with enough
  context (entity id, current state, offending field) to render a
  user-facing message, and a failed operation leaves the entity untouched.

ERROR CATEGORIES:
  1. Input errors - Malformed or out-of-range request values
  2. Configuration errors - Unknown partner or schedule
  3. State machine errors - Guard failures, role refusals, lost races
  4. Store errors - Missing records

NOT ERRORS:
  Tarification limit violations (AmountExceeded, DurationExceeded) are valid
  quote outcomes reported through PremiumQuote.WithinLimits.

USAGE:
  Callers match kinds with errors.Is and read context with errors.As:

    if errors.Is(err, generic.ErrAlreadyTransitioned) {
        // reload and show the current state
    }
    var ie *generic.IncompleteEvidenceError
    if errors.As(err, &ie) {
        fmt.Println(ie.Missing)
    }

SEE ALSO:
  - api/handlers.go: Maps kinds to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for malformed or out-of-range request values.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownPartner is returned when no rate schedule exists for a partner.
	ErrUnknownPartner = errors.New("unknown partner")

	// ErrUnknownSchedule is returned when a partner exists but the requested
	// category has no table.
	ErrUnknownSchedule = errors.New("unknown schedule")

	// ErrInvalidTransition is returned when a state-machine guard fails.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrForbidden is returned when the caller's role may not perform an action.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyTransitioned is returned to the loser of a concurrent transition.
	ErrAlreadyTransitioned = errors.New("already transitioned")

	// ErrIncompleteEvidence is returned when required documents are missing.
	ErrIncompleteEvidence = errors.New("incomplete evidence")

	// ErrNotFound is returned when a referenced claim or quittance doesn't exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// InvalidField is shorthand for building an InvalidInputError.
func InvalidField(field, format string, args ...any) error {
	return &InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type UnknownPartnerError struct {
	PartnerID string
}

func (e *UnknownPartnerError) Error() string {
	return fmt.Sprintf("unknown partner: %q", e.PartnerID)
}

func (e *UnknownPartnerError) Unwrap() error { return ErrUnknownPartner }

type UnknownScheduleError struct {
	PartnerID string
	Category  string
}

func (e *UnknownScheduleError) Error() string {
	return fmt.Sprintf("unknown schedule: partner %q has no %q table", e.PartnerID, e.Category)
}

func (e *UnknownScheduleError) Unwrap() error { return ErrUnknownSchedule }

// InvalidTransitionError reports the current and attempted state.
type InvalidTransitionError struct {
	Entity    string // "claim" or "quittance"
	ID        string
	From      string
	Attempted string
	Reason    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s %s cannot go from %s to %s: %s",
		e.Entity, e.ID, e.From, e.Attempted, e.Reason)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type ForbiddenError struct {
	Role   string
	Entity string
	Action string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: role %q may not %s a %s", e.Role, e.Action, e.Entity)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// AlreadyTransitionedError is returned when the entity changed between the
// caller's read and its write.
type AlreadyTransitionedError struct {
	Entity          string
	ID              string
	ExpectedVersion int
	ActualVersion   int
}

func (e *AlreadyTransitionedError) Error() string {
	return fmt.Sprintf("already transitioned: %s %s is at version %d, caller expected %d",
		e.Entity, e.ID, e.ActualVersion, e.ExpectedVersion)
}

func (e *AlreadyTransitionedError) Unwrap() error { return ErrAlreadyTransitioned }

// IncompleteEvidenceError lists the document kinds still missing.
type IncompleteEvidenceError struct {
	ClaimID string
	Missing []string
}

func (e *IncompleteEvidenceError) Error() string {
	return fmt.Sprintf("incomplete evidence: claim %s is missing %s",
		e.ClaimID, strings.Join(e.Missing, ", "))
}

func (e *IncompleteEvidenceError) Unwrap() error { return ErrIncompleteEvidence }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnknownPartner) ||
		errors.Is(err, ErrUnknownSchedule)
}

// IsConflict returns true if the request clashes with the entity's state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyTransitioned)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
