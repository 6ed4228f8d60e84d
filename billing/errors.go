/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these onto HTTP status codes:
    ValidationError   -> 400
    NotFoundError     -> 404
    BusinessRuleError -> 409

ERROR CATEGORIES:
  1. Validation errors - malformed input (bad amounts, bad conditions)
  2. Not-found errors  - missing payment/tab/group/rule
  3. Business-rule errors - valid input violating a domain invariant
     (credit limit exceeded, payment already allocated, nothing to reverse)

USAGE:
  if billing.IsBusinessRule(err) { ... }
  var nf *billing.NotFoundError
  if errors.As(err, &nf) { ... }
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all malformed-input errors.
	ErrValidation = errors.New("validation error")

	// ErrNotFound is the root of all missing-entity errors.
	ErrNotFound = errors.New("not found")

	// ErrBusinessRule is the root of all domain-invariant violations.
	ErrBusinessRule = errors.New("business rule violation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed input on a named field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NotFoundError reports a missing entity by kind and ID.
type NotFoundError struct {
	Kind string // "payment", "tab", "billing group", "rule", "line item"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// BusinessRuleError reports a domain invariant violation. The message is
// user-visible; callers map it to a 409/400 as appropriate.
type BusinessRuleError struct {
	Message string
}

func (e *BusinessRuleError) Error() string { return e.Message }

func (e *BusinessRuleError) Unwrap() error { return ErrBusinessRule }

func NewBusinessRuleError(message string) *BusinessRuleError {
	return &BusinessRuleError{Message: message}
}

// CreditLimitError is a BusinessRuleError variant with shortfall details.
type CreditLimitError struct {
	GroupID   GroupID
	Limit     Money
	Balance   Money
	Requested Money
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("credit limit exceeded for group %s: limit %s, balance %s, requested %s",
		e.GroupID, e.Limit, e.Balance, e.Requested)
}

func (e *CreditLimitError) Unwrap() error { return ErrBusinessRule }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation returns true for malformed-input errors.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound returns true for missing-entity errors.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsBusinessRule returns true for domain-invariant violations.
func IsBusinessRule(err error) bool { return errors.Is(err, ErrBusinessRule) }
