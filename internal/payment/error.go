package payment

import (
	"errors"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrOrderInProgress      = errors.New("a payment for this order is already in progress")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrInvalidCallbackToken = errors.New("invalid callback token")
)

// ValidationError carries the field-level reason for a 400.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}

// InProgressError is returned when the order already has an open STK push.
// CheckoutRequestID is empty while that push is still being sent.
type InProgressError struct {
	CheckoutRequestID string
}

func (e *InProgressError) Error() string {
	return ErrOrderInProgress.Error()
}

func (e *InProgressError) Unwrap() error {
	return ErrOrderInProgress
}
