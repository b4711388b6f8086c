package daraja

import (
	"errors"
	"fmt"
)

var (
	ErrUpstreamUnavailable = errors.New("m-pesa is unavailable")
	ErrUpstreamRejected    = errors.New("m-pesa rejected the request")
	ErrInvalidCallback     = errors.New("invalid stk callback payload")
)

// APIError is a failed Daraja call.
type APIError struct {
	Kind       error
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Kind.Error()
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// errorBody is Daraja's error envelope.
type errorBody struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func statusKind(status int) error {
	if status >= 500 || status == 429 {
		return ErrUpstreamUnavailable
	}
	return ErrUpstreamRejected
}
