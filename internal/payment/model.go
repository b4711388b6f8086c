package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

const (
	ProviderMpesa      = "MPESA"
	EventSTKCallback   = "stk_callback"
	resultCodeCanceled = 1032
)

func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// StatusForResult maps a Daraja result code onto a payment status.
func StatusForResult(code int) Status {
	switch code {
	case 0:
		return StatusPaid
	case resultCodeCanceled:
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Payment is one STK push and its outcome.
type Payment struct {
	ID                int64
	OrderID           string
	UserID            *string
	CheckoutRequestID string
	MerchantRequestID string
	PhoneNumber       string
	Amount            decimal.Decimal
	Status            Status
	ResultCode        *int
	ResultDesc        string
	ReceiptNumber     string
	Environment       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Result is the settled outcome of a payment.
type Result struct {
	CheckoutRequestID string
	Status            Status
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
}

// STKPushRequest is the body of POST /mpesa/stkpush.
type STKPushRequest struct {
	PhoneNumber string          `json:"phoneNumber"`
	Amount      decimal.Decimal `json:"amount"`
	OrderID     string          `json:"orderId"`
	Description string          `json:"description"`
	Environment string          `json:"environment"`
	Timestamp   string          `json:"timestamp"`
}

type STKPushResponse struct {
	Success             bool   `json:"success"`
	CheckoutRequestID   string `json:"checkoutRequestId"`
	MerchantRequestID   string `json:"merchantRequestId"`
	ResponseDescription string `json:"responseDescription"`
	ResponseCode        string `json:"responseCode"`
	CustomerMessage     string `json:"customerMessage"`
}

// QueryRequest is the body of POST /mpesa/query.
type QueryRequest struct {
	CheckoutRequestID string `json:"checkoutRequestId"`
	Environment       string `json:"environment"`
	Timestamp         string `json:"timestamp"`
}

// QueryResponse leaves ResultCode out while the payment is pending.
type QueryResponse struct {
	Success           bool   `json:"success"`
	ResultCode        *int   `json:"ResultCode,omitempty"`
	ResultDesc        string `json:"ResultDesc,omitempty"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	ResponseCode      string `json:"responseCode"`
}

// CallbackAck is what Daraja expects back from the callback URL.
type CallbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}
