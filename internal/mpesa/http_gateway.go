package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"urembo-be/internal/auth"
	"urembo-be/internal/logger"

	"go.uber.org/zap"
)

const (
	initiateTimeout = 10 * time.Second
	stkPushPath     = "/mpesa/stkpush"
	queryPath       = "/mpesa/query"
)

type httpGateway struct {
	baseURL     string
	environment string
	tokens      auth.TokenProvider
	httpClient  *http.Client
	now         func() time.Time
}

type stkPushBody struct {
	PhoneNumber string  `json:"phoneNumber"`
	Amount      float64 `json:"amount"`
	OrderID     string  `json:"orderId"`
	Description string  `json:"description"`
	Environment string  `json:"environment"`
	Timestamp   string  `json:"timestamp"`
}

type stkPushResponse struct {
	Success             bool   `json:"success"`
	CheckoutRequestID   string `json:"checkoutRequestId"`
	MerchantRequestID   string `json:"merchantRequestId,omitempty"`
	ResponseDescription string `json:"responseDescription,omitempty"`
	ResponseCode        string `json:"responseCode"`
	Message             string `json:"message,omitempty"`
}

type queryBody struct {
	CheckoutRequestID string `json:"checkoutRequestId"`
	Environment       string `json:"environment"`
	Timestamp         string `json:"timestamp"`
}

type queryResponse struct {
	Success           bool       `json:"success"`
	ResultCode        ResultCode `json:"ResultCode"`
	ResultDesc        string     `json:"ResultDesc"`
	CheckoutRequestID string     `json:"checkoutRequestId"`
	ResponseCode      string     `json:"responseCode"`
}

// NewHTTPGateway talks to the storefront backend's /mpesa routes.
// tokens may be nil for anonymous checkout.
func NewHTTPGateway(baseURL, environment string, tokens auth.TokenProvider) Gateway {
	if baseURL == "" {
		logger.L().Warn("m-pesa gateway base URL is empty")
	}
	return &httpGateway{
		baseURL:     strings.TrimRight(baseURL, "/"),
		environment: environment,
		tokens:      tokens,
		httpClient: &http.Client{
			Timeout: initiateTimeout,
		},
		now: time.Now,
	}
}

func (g *httpGateway) Initiate(ctx context.Context, req PaymentRequest) (*InitiateResult, error) {
	req, err := req.Validate()
	if err != nil {
		return nil, err
	}

	log := logger.FromCtx(ctx).With(
		zap.String("order_ref", req.OrderReference),
		zap.Float64("amount", req.Amount),
		zap.String("phone", req.PhoneNumber),
	)

	ctx, cancel := context.WithTimeout(ctx, initiateTimeout)
	defer cancel()

	status, body, err := g.post(ctx, stkPushPath, stkPushBody{
		PhoneNumber: req.PhoneNumber,
		Amount:      req.Amount,
		OrderID:     req.OrderReference,
		Description: req.Description,
		Environment: g.environment,
		Timestamp:   g.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Error("STK push request failed", zap.Error(err))
		return nil, err
	}

	if gwErr := classifyStatus(status, body); gwErr != nil {
		log.Warn("STK push returned non-success status",
			zap.Int("status", status),
			zap.ByteString("response", body),
		)
		return nil, gwErr
	}

	var res stkPushResponse
	if err := json.Unmarshal(body, &res); err != nil {
		log.Error("Failed decoding STK push response", zap.Error(err))
		return nil, newGatewayError(ErrGatewayRejected, status, "invalid response from payment service", err)
	}
	if !res.Success || res.CheckoutRequestID == "" {
		msg := firstNonEmpty(res.Message, res.ResponseDescription)
		log.Warn("STK push not accepted", zap.String("message", msg))
		return nil, newGatewayError(ErrGatewayRejected, status, msg, nil)
	}

	log.Info("STK push accepted", zap.String("checkout_request_id", res.CheckoutRequestID))

	return &InitiateResult{
		CorrelationID:       res.CheckoutRequestID,
		MerchantRequestID:   res.MerchantRequestID,
		ResponseCode:        res.ResponseCode,
		ResponseDescription: res.ResponseDescription,
		Raw:                 json.RawMessage(body),
	}, nil
}

func (g *httpGateway) QueryStatus(ctx context.Context, correlationID string) (*QueryResult, error) {
	if correlationID == "" {
		return nil, ErrMissingCorrelationID
	}

	status, body, err := g.post(ctx, queryPath, queryBody{
		CheckoutRequestID: correlationID,
		Environment:       g.environment,
		Timestamp:         g.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	if gwErr := classifyStatus(status, body); gwErr != nil {
		return nil, gwErr
	}

	var res queryResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, newGatewayError(ErrGatewayRejected, status, "invalid response from payment service", err)
	}

	id := res.CheckoutRequestID
	if id == "" {
		id = correlationID
	}
	return &QueryResult{
		Success:       res.Success,
		ResultCode:    res.ResultCode.Value,
		ResultDesc:    res.ResultDesc,
		CorrelationID: id,
	}, nil
}

func (g *httpGateway) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if g.tokens != nil {
		token, err := g.tokens.AccessToken(ctx)
		if err != nil {
			return 0, nil, newGatewayError(ErrUnauthenticated, 0, "", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, newGatewayError(ErrNetwork, 0, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, newGatewayError(ErrNetwork, resp.StatusCode, "failed to read response", err)
	}
	return resp.StatusCode, body, nil
}

// classifyStatus maps a non-2xx answer onto the error taxonomy.
func classifyStatus(status int, body []byte) *GatewayError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		return newGatewayError(ErrGatewayUnavailable, status, "", nil)
	default:
		return newGatewayError(ErrGatewayRejected, status, extractMessage(body), nil)
	}
}

func extractMessage(body []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"message", "error", "errorMessage", "responseDescription"} {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
