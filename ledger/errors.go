/*
errors.go - Error taxonomy for ledger and planner operations

ERROR CATEGORIES:
  1. ErrNotFound          - entity missing or not owned by the caller
  2. ErrInvalidArgument   - malformed input, rejected before any write
  3. ErrInvalidState      - operation not valid for the entity's state
  4. ErrTransactionFailed - storage could not commit; nothing was written

  Categories 1-3 mean "nothing happened, fix your input".
  Category 4 means "nothing happened, try again".

USAGE:
  Structured errors unwrap to the sentinels:

    var nf *ledger.NotFoundError
    if errors.As(err, &nf) { ... nf.Resource ... }
    if errors.Is(err, ledger.ErrNotFound) { ... }

  Storage backends wrap driver failures so both the class and the cause
  match:

    fmt.Errorf("%w: commit: %w", ledger.ErrTransactionFailed, err)
*/
package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("ledger: not found")
	ErrInvalidArgument   = errors.New("ledger: invalid argument")
	ErrInvalidState      = errors.New("ledger: invalid state")
	ErrTransactionFailed = errors.New("ledger: transaction failed")
)

// Resource names used in structured errors.
const (
	ResourceLiability = "liability"
	ResourceCharge    = "charge"
	ResourcePayment   = "payment"
	ResourceEntry     = "entry"
	ResourcePlan      = "plan"
)

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ledger: %s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound is a convenience for stores.
func NewNotFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StateError reports an operation that the entity's current state forbids.
type StateError struct {
	Resource string
	ID       string
	State    string
	Reason   string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("ledger: %s %s is %s: %s", e.Resource, e.ID, e.State, e.Reason)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError reports errors caused by the caller's input or the entity state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidState)
}

// IsRetryable reports errors where the whole operation may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}
