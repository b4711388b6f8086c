package mpesa

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusWaiting    Status = "waiting"
	StatusSuccess    Status = "success"
	StatusCancelled  Status = "cancelled"
	StatusError      Status = "error"
	StatusTimeout    Status = "timeout"
)

// Result codes reported by the gateway for an STK push.
const (
	ResultCodeSuccess       = 0
	ResultCodeUserCancelled = 1032
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusCancelled, StatusError, StatusTimeout:
		return true
	}
	return false
}

// rank orders statuses along the state machine; terminal states share a rank.
func (s Status) rank() int {
	switch s {
	case StatusProcessing:
		return 0
	case StatusWaiting:
		return 1
	default:
		return 2
	}
}

type PaymentRequest struct {
	PhoneNumber    string
	Amount         float64
	OrderReference string
	Description    string
}

// Validate checks the request and returns a copy with the phone number
// in canonical form.
func (r PaymentRequest) Validate() (PaymentRequest, error) {
	if strings.TrimSpace(r.PhoneNumber) == "" {
		return r, ErrInvalidPhone
	}
	if r.Amount <= 0 {
		return r, ErrInvalidAmount
	}
	if strings.TrimSpace(r.OrderReference) == "" {
		return r, ErrMissingOrderReference
	}

	phone, err := NormalizePhone(r.PhoneNumber)
	if err != nil {
		return r, err
	}
	r.PhoneNumber = phone
	return r, nil
}

type InitiateResult struct {
	CorrelationID       string
	MerchantRequestID   string
	ResponseCode        string
	ResponseDescription string
	Raw                 json.RawMessage
}

// QueryResult is one status answer for a correlation id. A nil ResultCode
// means the payment is still pending.
type QueryResult struct {
	Success       bool
	ResultCode    *int
	ResultDesc    string
	CorrelationID string
}

// StatusRecord is handed to OnStatusChange on every transition.
type StatusRecord struct {
	CorrelationID  string
	OrderReference string
	Status         Status
	Message        string
	Attempt        int
	At             time.Time
}

// ResultCode accepts both `0` and `"0"` on the wire.
type ResultCode struct {
	Value *int
}

func (c *ResultCode) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		c.Value = nil
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid result code %q: %w", s, err)
	}
	c.Value = &n
	return nil
}

func (c ResultCode) MarshalJSON() ([]byte, error) {
	if c.Value == nil {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(*c.Value)), nil
}

func intPtr(i int) *int {
	return &i
}
