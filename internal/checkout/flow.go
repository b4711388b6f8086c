package checkout

import (
	"context"
	"sync"
	"time"

	"urembo-be/internal/logger"
	"urembo-be/internal/mpesa"

	"go.uber.org/zap"
)

const handoffTimeout = 10 * time.Second

// CartClearer empties the buyer's cart once payment is confirmed.
type CartClearer interface {
	ClearCart(ctx context.Context) error
}

// OrderConfirmer takes over after a successful payment.
type OrderConfirmer interface {
	Confirm(ctx context.Context, c Confirmation) error
}

type Confirmation struct {
	OrderReference string
	CorrelationID  string
	Amount         float64
	Phone          string
	PaidAt         time.Time
}

// Flow drives one buyer's checkout: initiate, poll, hand off.
type Flow struct {
	gateway   mpesa.Gateway
	poller    *mpesa.Poller
	cart      CartClearer
	confirmer OrderConfirmer
	now       func() time.Time

	mu     sync.Mutex
	active map[string]*mpesa.PollHandle
}

// NewFlow wires a checkout flow. cart and confirmer may be nil.
func NewFlow(gw mpesa.Gateway, cart CartClearer, confirmer OrderConfirmer, opts ...mpesa.PollerOption) *Flow {
	return &Flow{
		gateway:   gw,
		poller:    mpesa.NewPoller(gw, opts...),
		cart:      cart,
		confirmer: confirmer,
		now:       time.Now,
		active:    make(map[string]*mpesa.PollHandle),
	}
}

// Pay sends the STK push and starts polling. Initiation errors are
// returned and no callback fires for them.
func (f *Flow) Pay(ctx context.Context, req mpesa.PaymentRequest, cb mpesa.Callbacks) (*mpesa.PollHandle, error) {
	req, err := req.Validate()
	if err != nil {
		return nil, err
	}

	// A retry for the same order replaces the previous session.
	f.Cancel(req.OrderReference)

	log := logger.FromCtx(logger.WithOrderRef(ctx, req.OrderReference))

	res, err := f.gateway.Initiate(ctx, req)
	if err != nil {
		log.Warn("payment initiation failed", zap.Error(err))
		return nil, err
	}

	session := mpesa.NewSession(req, res)
	if cb.OnStatusChange != nil {
		snap := session.Snapshot()
		cb.OnStatusChange(mpesa.StatusRecord{
			CorrelationID:  snap.CorrelationID,
			OrderReference: snap.OrderReference,
			Status:         snap.Status,
			Message:        snap.LastMessage,
			At:             snap.UpdatedAt,
		})
	}

	log.Info("payment initiated, polling for result",
		zap.String("checkout_request_id", res.CorrelationID),
		zap.Bool("sandbox", mpesa.IsSandboxID(res.CorrelationID)),
	)

	h := f.poller.Poll(ctx, session, f.wrap(ctx, cb))
	f.track(req.OrderReference, h)
	return h, nil
}

// CheckAgain runs one manual status query, offered after a timeout.
func (f *Flow) CheckAgain(ctx context.Context, correlationID string) (mpesa.Outcome, error) {
	if correlationID == "" {
		return mpesa.Outcome{}, mpesa.ErrMissingCorrelationID
	}

	ctx, cancel := context.WithTimeout(ctx, mpesa.DefaultPollInterval)
	defer cancel()

	res, err := f.gateway.QueryStatus(ctx, correlationID)
	if err != nil {
		return mpesa.Outcome{}, err
	}
	return mpesa.Classify(res), nil
}

// Complete hands a session settled by CheckAgain to the cart and the
// confirmer, as a polled success would.
func (f *Flow) Complete(ctx context.Context, snap mpesa.SessionSnapshot) {
	f.handoff(ctx, snap)
}

// Cancel stops polling for orderReference, if any.
func (f *Flow) Cancel(orderReference string) {
	f.mu.Lock()
	h, ok := f.active[orderReference]
	delete(f.active, orderReference)
	f.mu.Unlock()

	if ok {
		h.Cancel()
	}
}

// Close stops every active session.
func (f *Flow) Close() {
	f.mu.Lock()
	handles := f.active
	f.active = make(map[string]*mpesa.PollHandle)
	f.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// polling reports whether orderReference has a tracked poll loop.
func (f *Flow) polling(orderReference string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.active[orderReference]
	return ok
}

// track makes h the only handle for orderReference. A handle stored by an
// overlapping Pay for the same order is cancelled here.
func (f *Flow) track(orderReference string, h *mpesa.PollHandle) {
	f.mu.Lock()
	prev, ok := f.active[orderReference]
	f.active[orderReference] = h
	f.mu.Unlock()

	if ok && prev != h {
		prev.Cancel()
	}

	go func() {
		<-h.Done()
		f.mu.Lock()
		if f.active[orderReference] == h {
			delete(f.active, orderReference)
		}
		f.mu.Unlock()
	}()
}

func (f *Flow) wrap(ctx context.Context, cb mpesa.Callbacks) mpesa.Callbacks {
	wrapped := cb
	wrapped.OnSuccess = func(snap mpesa.SessionSnapshot) {
		f.handoff(ctx, snap)
		if cb.OnSuccess != nil {
			cb.OnSuccess(snap)
		}
	}
	return wrapped
}

// handoff clears the cart and confirms the order. Neither failure undoes
// the payment.
func (f *Flow) handoff(ctx context.Context, snap mpesa.SessionSnapshot) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handoffTimeout)
	defer cancel()

	log := logger.FromCtx(logger.WithOrderRef(ctx, snap.OrderReference)).
		With(zap.String("checkout_request_id", snap.CorrelationID))

	if f.cart != nil {
		if err := f.cart.ClearCart(ctx); err != nil {
			log.Warn("failed to clear cart after payment", zap.Error(err))
		}
	}

	if f.confirmer == nil {
		return
	}
	err := f.confirmer.Confirm(ctx, Confirmation{
		OrderReference: snap.OrderReference,
		CorrelationID:  snap.CorrelationID,
		Amount:         snap.Amount,
		Phone:          snap.PhoneNumber,
		PaidAt:         f.now(),
	})
	if err != nil {
		log.Error("order confirmation failed", zap.Error(err))
	}
}
