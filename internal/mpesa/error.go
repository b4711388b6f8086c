package mpesa

import (
	"errors"
	"fmt"
)

var (
	// -- Validation & Input --
	ErrInvalidPhone          = errors.New("invalid phone number")
	ErrInvalidAmount         = errors.New("amount must be greater than zero")
	ErrMissingOrderReference = errors.New("order reference is required")
	ErrMissingCorrelationID  = errors.New("checkout request id is required")

	// -- Gateway --
	ErrGatewayUnavailable = errors.New("payment service unavailable")
	ErrNetwork            = errors.New("could not reach payment service")
	ErrGatewayRejected    = errors.New("payment request rejected")
	ErrUnauthenticated    = errors.New("could not obtain access token")
	ErrMpesaDisabled      = errors.New("m-pesa payments are disabled")

	// -- Outcomes --
	ErrPaymentFailed    = errors.New("payment failed")
	ErrPaymentCancelled = errors.New("payment cancelled by user")
	ErrPollTimeout      = errors.New("payment might still be processing")
)

// GatewayError is returned by every Gateway call that did not succeed.
// Kind is one of ErrGatewayUnavailable, ErrNetwork, ErrGatewayRejected or
// ErrUnauthenticated.
type GatewayError struct {
	Kind       error
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (http %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// UserMessage returns the text shown to the buyer. Gateway business
// messages are passed through when the gateway sent one.
func (e *GatewayError) UserMessage() string {
	switch {
	case errors.Is(e.Kind, ErrGatewayUnavailable):
		return "Payment service unavailable. Please try again later."
	case errors.Is(e.Kind, ErrUnauthenticated):
		return "Your session has expired. Please sign in again to complete your payment."
	case errors.Is(e.Kind, ErrNetwork):
		return "Could not connect to the payment service. Check your connection and try again."
	case e.Message != "":
		return e.Message
	default:
		return "Payment request was rejected. Please try again."
	}
}

func newGatewayError(kind error, status int, message string, err error) *GatewayError {
	return &GatewayError{Kind: kind, StatusCode: status, Message: message, Err: err}
}
