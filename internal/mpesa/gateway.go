package mpesa

import (
	"context"

	"urembo-be/internal/auth"
	"urembo-be/internal/config"
	"urembo-be/internal/logger"

	"go.uber.org/zap"
)

// StatusQuerier is the part of a Gateway the poller needs.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, correlationID string) (*QueryResult, error)
}

// Gateway is the payment backend that relays STK pushes to M-Pesa.
type Gateway interface {
	StatusQuerier
	Initiate(ctx context.Context, req PaymentRequest) (*InitiateResult, error)
}

// NewGateway selects the gateway implementation once, from configuration.
// Outside production the HTTP gateway is wrapped by the sandbox decorator.
func NewGateway(cfg *config.ClientConfig, tokens auth.TokenProvider) (Gateway, error) {
	if !cfg.MpesaEnabled {
		return nil, ErrMpesaDisabled
	}

	gw := NewHTTPGateway(cfg.APIURL, cfg.Environment(), tokens)
	if cfg.IsProduction() {
		return gw, nil
	}

	logger.L().Info("m-pesa sandbox fallback enabled", zap.String("app_env", cfg.AppEnv))
	return NewSandboxGateway(gw), nil
}
