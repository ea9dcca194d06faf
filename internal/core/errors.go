package core

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSelfTransfer      = errors.New("cannot transfer to yourself")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")

	ErrInvalidAmount    = NewValidationError("amount", "must be a positive decimal")
	ErrAmountTooLarge   = NewValidationError("amount", "must not exceed 1000000000.00")
	ErrBalanceOverflow  = NewValidationError("amount", "would overflow the balance")
	ErrEmptyDescription = NewValidationError("description", "must not be empty")
)

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NotificationDeliveryError is logged when an alert notification could not be
// delivered. It never reaches the caller of the triggering operation.
type NotificationDeliveryError struct {
	Channel   string
	Recipient string
	AlertID   string
	Err       error
}

func (e *NotificationDeliveryError) Error() string {
	return fmt.Sprintf("deliver alert %s via %s to %s: %v", e.AlertID, e.Channel, e.Recipient, e.Err)
}

func (e *NotificationDeliveryError) Unwrap() error {
	return e.Err
}
