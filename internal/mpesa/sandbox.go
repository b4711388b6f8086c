package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"urembo-be/internal/logger"
	"urembo-be/internal/utils"

	"go.uber.org/zap"
)

const SandboxPrefix = "ws_CO_SANDBOX_"

// IsSandboxID reports whether id was minted by the sandbox decorator.
func IsSandboxID(id string) bool {
	return strings.HasPrefix(id, SandboxPrefix)
}

type sandboxGateway struct {
	inner Gateway
}

// NewSandboxGateway lets checkout proceed when the payment backend is not
// deployed. Never install it in production.
func NewSandboxGateway(inner Gateway) Gateway {
	return &sandboxGateway{inner: inner}
}

func (s *sandboxGateway) Initiate(ctx context.Context, req PaymentRequest) (*InitiateResult, error) {
	res, err := s.inner.Initiate(ctx, req)
	if err == nil || !errors.Is(err, ErrGatewayUnavailable) {
		return res, err
	}

	id := utils.GenerateReference(SandboxPrefix)
	logger.FromCtx(ctx).Warn("payment gateway unavailable, using sandbox checkout id",
		zap.String("order_ref", req.OrderReference),
		zap.String("checkout_request_id", id),
	)

	raw, _ := json.Marshal(map[string]any{
		"success":           true,
		"checkoutRequestId": id,
		"responseCode":      "0",
		"sandbox":           true,
	})
	return &InitiateResult{
		CorrelationID:       id,
		MerchantRequestID:   id,
		ResponseCode:        "0",
		ResponseDescription: "Sandbox payment request accepted",
		Raw:                 raw,
	}, nil
}

func (s *sandboxGateway) QueryStatus(ctx context.Context, correlationID string) (*QueryResult, error) {
	if !IsSandboxID(correlationID) {
		return s.inner.QueryStatus(ctx, correlationID)
	}
	return &QueryResult{
		Success:       true,
		ResultCode:    intPtr(ResultCodeSuccess),
		ResultDesc:    "Sandbox payment completed",
		CorrelationID: correlationID,
	}, nil
}
