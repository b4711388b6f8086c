package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"urembo-be/internal/cache"
	"urembo-be/internal/daraja"
	"urembo-be/internal/events"
	"urembo-be/internal/logger"
	"urembo-be/internal/metrics"
	"urembo-be/internal/mpesa"
	"urembo-be/internal/utils"

	"go.uber.org/zap"
)

// Daraja is the part of the Daraja client the service uses.
type Daraja interface {
	STKPush(ctx context.Context, req daraja.STKPushRequest) (*daraja.STKPushResponse, error)
	STKQuery(ctx context.Context, checkoutRequestID string) (*daraja.STKQueryResponse, error)
}

// Service defines the M-Pesa payment use cases.
type Service interface {
	InitiateSTKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error)
	QueryStatus(ctx context.Context, req QueryRequest) (*QueryResponse, error)
	HandleCallback(ctx context.Context, body []byte) error
}

type service struct {
	repo        Repository
	daraja      Daraja
	inProgress  cache.InProgressStore
	events      events.Publisher
	metrics     *metrics.Registry
	environment string
	now         func() time.Time
}

func NewService(
	repo Repository,
	dj Daraja,
	inProgress cache.InProgressStore,
	pub events.Publisher,
	reg *metrics.Registry,
	environment string,
) Service {
	if pub == nil {
		pub = events.Noop{}
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &service{
		repo:        repo,
		daraja:      dj,
		inProgress:  inProgress,
		events:      pub,
		metrics:     reg,
		environment: environment,
		now:         time.Now,
	}
}

// InitiateSTKPush sends the payment prompt for an order.
func (s *service) InitiateSTKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	s.metrics.Counter("stk_push_requests_total").Inc()

	// 1️⃣ Validate input
	if req.OrderID == "" {
		return nil, invalid("orderId is required")
	}
	if !req.Amount.IsPositive() {
		return nil, invalid("amount must be greater than zero")
	}
	phone, err := mpesa.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, invalid("phoneNumber must be a valid Kenyan mobile number")
	}

	ctx = logger.WithOrderRef(ctx, req.OrderID)
	log := logger.FromCtx(ctx).With(zap.String("phone", phone), zap.String("amount", req.Amount.String()))

	// 2️⃣ One open prompt per order
	claimed, err := s.inProgress.Claim(ctx, req.OrderID)
	if err != nil {
		log.Warn("in-progress guard unavailable, continuing without it", zap.Error(err))
		claimed = true
	}
	if !claimed {
		s.metrics.Counter("stk_push_conflicts_total").Inc()
		open, err := s.inProgress.Lookup(ctx, req.OrderID)
		if err != nil {
			log.Warn("failed to look up open checkout", zap.Error(err))
		}
		return nil, &InProgressError{CheckoutRequestID: open}
	}

	// 3️⃣ Ask Daraja to prompt the phone
	timer := metrics.StartTimer()
	res, err := s.daraja.STKPush(ctx, daraja.STKPushRequest{
		PhoneNumber:      phone,
		Amount:           req.Amount,
		AccountReference: req.OrderID,
		Description:      firstNonEmpty(req.Description, "Order "+req.OrderID),
	})
	s.metrics.Latency("daraja_stk_push").Observe(timer.Duration())
	if err != nil {
		s.metrics.Counter("stk_push_failures_total").Inc()
		s.release(ctx, req.OrderID)
		return nil, err
	}

	if err := s.inProgress.Attach(ctx, req.OrderID, res.CheckoutRequestID); err != nil {
		log.Warn("failed to attach checkout id to in-progress claim", zap.Error(err))
	}

	// 4️⃣ Persist; the prompt is already on the phone, so a failed insert
	// is logged and the callback records the outcome in the webhook log.
	p := &Payment{
		OrderID:           req.OrderID,
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		PhoneNumber:       phone,
		Amount:            req.Amount,
		Status:            StatusPending,
		Environment:       firstNonEmpty(req.Environment, s.environment),
	}
	if uid, ok := utils.GetUserIDFromContext(ctx); ok {
		p.UserID = utils.StrPtr(uid)
	}
	if err := s.repo.SavePayment(ctx, p); err != nil {
		log.Error("failed to save payment", zap.String("checkout_request_id", res.CheckoutRequestID), zap.Error(err))
	}

	s.metrics.Counter("stk_push_accepted_total").Inc()
	log.Info("STK push sent", zap.String("checkout_request_id", res.CheckoutRequestID))

	return &STKPushResponse{
		Success:             true,
		CheckoutRequestID:   res.CheckoutRequestID,
		MerchantRequestID:   res.MerchantRequestID,
		ResponseDescription: res.ResponseDescription,
		ResponseCode:        res.ResponseCode,
		CustomerMessage:     res.CustomerMessage,
	}, nil
}

// QueryStatus answers from the database once the payment is settled,
// otherwise asks Daraja.
func (s *service) QueryStatus(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	s.metrics.Counter("stk_query_requests_total").Inc()

	if req.CheckoutRequestID == "" {
		return nil, invalid("checkoutRequestId is required")
	}
	log := logger.FromCtx(ctx).With(zap.String("checkout_request_id", req.CheckoutRequestID))

	p, err := s.repo.GetPaymentByCheckoutID(ctx, req.CheckoutRequestID)
	switch {
	case errors.Is(err, ErrPaymentNotFound):
		p = nil
	case err != nil:
		log.Warn("failed to load payment, falling back to Daraja", zap.Error(err))
		p = nil
	case p.Status.Terminal() && p.ResultCode != nil:
		return &QueryResponse{
			Success:           true,
			ResultCode:        p.ResultCode,
			ResultDesc:        p.ResultDesc,
			CheckoutRequestID: p.CheckoutRequestID,
			ResponseCode:      "0",
		}, nil
	}

	timer := metrics.StartTimer()
	res, err := s.daraja.STKQuery(ctx, req.CheckoutRequestID)
	s.metrics.Latency("daraja_stk_query").Observe(timer.Duration())
	if err != nil {
		return nil, err
	}

	out := &QueryResponse{
		Success:           true,
		CheckoutRequestID: req.CheckoutRequestID,
		ResponseCode:      firstNonEmpty(res.ResponseCode, "0"),
		ResultDesc:        res.ResultDesc,
	}
	if res.Pending {
		return out, nil
	}
	out.ResultCode = res.ResultCode.Value

	if p != nil {
		code := *res.ResultCode.Value
		if err := s.settle(ctx, p, Result{
			CheckoutRequestID: p.CheckoutRequestID,
			Status:            StatusForResult(code),
			ResultCode:        code,
			ResultDesc:        res.ResultDesc,
		}, nil); err != nil {
			log.Error("failed to record query result", zap.Error(err))
		}
	}
	return out, nil
}

// HandleCallback records a Daraja STK callback. Redeliveries are ignored.
func (s *service) HandleCallback(ctx context.Context, body []byte) error {
	s.metrics.Counter("callbacks_total").Inc()

	cb, err := daraja.ParseCallback(body)
	if err != nil {
		s.metrics.Counter("callbacks_invalid_total").Inc()
		return invalid(err.Error())
	}

	log := logger.FromCtx(ctx).With(
		zap.String("checkout_request_id", cb.CheckoutRequestID),
		zap.Int("result_code", cb.ResultCode),
	)

	webhookID, duplicate, err := s.repo.SavePaymentWebhook(ctx,
		ProviderMpesa,
		cb.CheckoutRequestID,
		EventSTKCallback,
		cb.CheckoutRequestID,
		body,
		true,
	)
	if err != nil {
		return fmt.Errorf("save webhook: %w", err)
	}
	if duplicate {
		s.metrics.Counter("callbacks_duplicate_total").Inc()
		log.Info("duplicate STK callback ignored")
		return nil
	}

	if err := s.applyCallback(ctx, cb); err != nil {
		if markErr := s.repo.MarkWebhookFailed(ctx, webhookID, err.Error()); markErr != nil {
			log.Error("failed to mark webhook failed", zap.Error(markErr))
		}
		return err
	}

	if err := s.repo.MarkWebhookProcessed(ctx, webhookID); err != nil {
		log.Error("failed to mark webhook processed", zap.Error(err))
	}
	log.Info("STK callback processed")
	return nil
}

func (s *service) applyCallback(ctx context.Context, cb *daraja.Callback) error {
	p, err := s.repo.GetPaymentByCheckoutID(ctx, cb.CheckoutRequestID)
	if err != nil {
		return err
	}
	return s.settle(ctx, p, Result{
		CheckoutRequestID: cb.CheckoutRequestID,
		Status:            StatusForResult(cb.ResultCode),
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		ReceiptNumber:     cb.ReceiptNumber,
	}, cb)
}

// settle stores the outcome once; only the first writer releases the
// order and publishes the event.
func (s *service) settle(ctx context.Context, p *Payment, r Result, cb *daraja.Callback) error {
	updated, err := s.repo.UpdatePaymentResult(ctx, r)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if !updated {
		return nil
	}

	logger.FromCtx(ctx).Info("payment settled",
		zap.String("checkout_request_id", r.CheckoutRequestID),
		zap.String("order_ref", p.OrderID),
		zap.String("user_id", utils.PtrString(p.UserID)),
		zap.String("status", string(r.Status)),
	)
	s.metrics.Counter("payments_" + strings.ToLower(string(r.Status)) + "_total").Inc()
	s.release(ctx, p.OrderID)

	ev := events.PaymentEvent{
		Type:              events.TypeForResult(r.ResultCode),
		OrderID:           p.OrderID,
		CheckoutRequestID: r.CheckoutRequestID,
		ResultCode:        r.ResultCode,
		ResultDesc:        r.ResultDesc,
		ReceiptNumber:     r.ReceiptNumber,
		Amount:            p.Amount.String(),
		PhoneNumber:       p.PhoneNumber,
		OccurredAt:        s.now().UTC(),
	}
	if cb != nil {
		if !cb.Amount.IsZero() {
			ev.Amount = cb.Amount.String()
		}
		if !cb.TransactionDate.IsZero() {
			ev.OccurredAt = cb.TransactionDate.UTC()
		}
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		logger.FromCtx(ctx).Error("failed to publish payment event",
			zap.String("checkout_request_id", r.CheckoutRequestID),
			zap.Error(err),
		)
	}
	return nil
}

func (s *service) release(ctx context.Context, orderID string) {
	if err := s.inProgress.Release(ctx, orderID); err != nil {
		logger.FromCtx(ctx).Warn("failed to release in-progress claim",
			zap.String("order_ref", orderID),
			zap.Error(err),
		)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
