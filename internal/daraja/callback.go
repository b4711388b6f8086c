package daraja

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Callback is the result Daraja posts to CallBackURL.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string

	Amount          decimal.Decimal
	ReceiptNumber   string
	TransactionDate time.Time
	PhoneNumber     string
}

func (c *Callback) Succeeded() bool {
	return c.ResultCode == 0
}

type callbackEnvelope struct {
	Body struct {
		STKCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        *int   `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []metadataItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type metadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// ParseCallback decodes an STK callback body.
func ParseCallback(body []byte) (*Callback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCallback, err)
	}

	stk := env.Body.STKCallback
	if stk == nil || stk.CheckoutRequestID == "" || stk.ResultCode == nil {
		return nil, fmt.Errorf("%w: missing stkCallback fields", ErrInvalidCallback)
	}

	cb := &Callback{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        *stk.ResultCode,
		ResultDesc:        stk.ResultDesc,
	}
	if stk.CallbackMetadata == nil {
		return cb, nil
	}

	for _, item := range stk.CallbackMetadata.Item {
		raw := strings.Trim(string(item.Value), `"`)
		if raw == "" || raw == "null" {
			continue
		}
		switch item.Name {
		case "Amount":
			if d, err := decimal.NewFromString(raw); err == nil {
				cb.Amount = d
			}
		case "MpesaReceiptNumber":
			cb.ReceiptNumber = raw
		case "TransactionDate":
			if t, err := time.ParseInLocation(timestampLayout, raw, time.FixedZone("EAT", 3*60*60)); err == nil {
				cb.TransactionDate = t
			}
		case "PhoneNumber":
			cb.PhoneNumber = raw
		}
	}
	return cb, nil
}
