package daraja

import (
	"context"
	"encoding/json"
	"net/http"

	"urembo-be/internal/logger"
	"urembo-be/internal/mpesa"
	"urembo-be/internal/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxAccountReference = 12
	maxTransactionDesc  = 13
)

type STKPushRequest struct {
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkQueryBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type STKQueryResponse struct {
	ResponseCode        string           `json:"ResponseCode"`
	ResponseDescription string           `json:"ResponseDescription"`
	MerchantRequestID   string           `json:"MerchantRequestID"`
	CheckoutRequestID   string           `json:"CheckoutRequestID"`
	ResultCode          mpesa.ResultCode `json:"ResultCode"`
	ResultDesc          string           `json:"ResultDesc"`

	// Pending is set when Daraja reports the transaction is still being
	// processed.
	Pending bool `json:"-"`
}

// ChargeableAmount rounds up to whole shillings; Daraja rejects decimals.
func ChargeableAmount(amount decimal.Decimal) int64 {
	return amount.Ceil().IntPart()
}

// STKPush sends the payment prompt to the buyer's phone.
func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	ts := c.Timestamp()
	body := stkPushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.Password(ts),
		Timestamp:         ts,
		TransactionType:   TransactionType,
		Amount:            ChargeableAmount(req.Amount),
		PartyA:            req.PhoneNumber,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  utils.Truncate(req.AccountReference, maxAccountReference),
		TransactionDesc:   utils.Truncate(req.Description, maxTransactionDesc),
	}

	log := logger.FromCtx(ctx).With(
		zap.String("account_reference", body.AccountReference),
		zap.Int64("amount", body.Amount),
	)

	var out STKPushResponse
	err := c.call(ctx, stkPushPath, body, func(status int, raw []byte) error {
		if status != http.StatusOK {
			return apiError(status, raw, "stk push failed")
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return &APIError{Kind: ErrUpstreamRejected, StatusCode: status, Message: "invalid stk push response", Err: err}
		}
		if out.ResponseCode != "0" || out.CheckoutRequestID == "" {
			return &APIError{Kind: ErrUpstreamRejected, StatusCode: status, Code: out.ResponseCode, Message: out.ResponseDescription}
		}
		return nil
	})
	if err != nil {
		log.Warn("Daraja STK push failed", zap.Error(err))
		return nil, err
	}

	log.Info("Daraja STK push accepted", zap.String("checkout_request_id", out.CheckoutRequestID))
	return &out, nil
}

// STKQuery asks Daraja for the result of an STK push.
func (c *Client) STKQuery(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error) {
	ts := c.Timestamp()
	body := stkQueryBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.Password(ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}

	var out STKQueryResponse
	err := c.call(ctx, stkQueryPath, body, func(status int, raw []byte) error {
		if status != http.StatusOK {
			var eb errorBody
			if json.Unmarshal(raw, &eb) == nil && eb.ErrorCode == PendingErrorCode {
				out = STKQueryResponse{CheckoutRequestID: checkoutRequestID, Pending: true, ResultDesc: eb.ErrorMessage}
				return nil
			}
			return apiError(status, raw, "stk query failed")
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return &APIError{Kind: ErrUpstreamRejected, StatusCode: status, Message: "invalid stk query response", Err: err}
		}
		out.Pending = out.ResultCode.Value == nil
		return nil
	})
	if err != nil {
		logger.FromCtx(ctx).Warn("Daraja STK query failed",
			zap.String("checkout_request_id", checkoutRequestID),
			zap.Error(err),
		)
		return nil, err
	}
	if out.CheckoutRequestID == "" {
		out.CheckoutRequestID = checkoutRequestID
	}
	return &out, nil
}
