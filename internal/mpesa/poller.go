package mpesa

import (
	"context"
	"time"

	"urembo-be/internal/logger"

	"go.uber.org/zap"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 12
)

// Poller repeatedly asks the gateway for the outcome of an STK push.
type Poller struct {
	querier      StatusQuerier
	interval     time.Duration
	maxAttempts  int
	queryTimeout time.Duration
}

type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithMaxAttempts(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithQueryTimeout caps a single status query. It is clamped below the
// poll interval.
func WithQueryTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.queryTimeout = d
		}
	}
}

func NewPoller(q StatusQuerier, opts ...PollerOption) *Poller {
	p := &Poller{
		querier:     q,
		interval:    DefaultPollInterval,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.queryTimeout <= 0 || p.queryTimeout >= p.interval {
		p.queryTimeout = p.interval * 4 / 5
	}
	return p
}

// PollHandle owns the poll loop of one session.
type PollHandle struct {
	session *Session
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// Cancel stops polling. Safe to call more than once, after the session
// finished, and from inside a callback. Once Cancel returns no further
// callback starts; one already running is not interrupted.
func (h *PollHandle) Cancel() {
	h.cancel()
}

// Done is closed once the poll loop has exited.
func (h *PollHandle) Done() <-chan struct{} {
	return h.done
}

func (h *PollHandle) Session() SessionSnapshot {
	return h.session.Snapshot()
}

func (h *PollHandle) active() bool {
	return h.ctx.Err() == nil
}

// Poll starts polling for session and returns immediately. The session
// moves to waiting before Poll returns; the first query goes out one
// interval later.
func (p *Poller) Poll(ctx context.Context, session *Session, cb Callbacks) *PollHandle {
	ctx, cancel := context.WithCancel(ctx)
	h := &PollHandle{
		session: session,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	session.setBudget(p.maxAttempts)
	d := newDispatcher(session, cb, h.active)
	d.apply(Outcome{Status: StatusWaiting, Message: UserMessage(StatusWaiting)})

	go p.run(h, d)
	return h
}

func (p *Poller) run(h *PollHandle, d *dispatcher) {
	defer close(h.done)
	defer h.cancel()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
		}
		if d.finished() || p.tick(h, d) {
			return
		}
	}
}

// tick runs one attempt: increment, query and classify happen as one step
// on the loop goroutine, so attempts never overlap.
func (p *Poller) tick(h *PollHandle, d *dispatcher) bool {
	session := h.session
	log := logger.FromCtx(h.ctx).With(zap.String("checkout_request_id", session.CorrelationID()))

	attempt, ok := session.nextAttempt()
	if !ok {
		return d.apply(timeoutOutcome())
	}

	qctx, cancel := context.WithTimeout(h.ctx, p.queryTimeout)
	res, err := p.querier.QueryStatus(qctx, session.CorrelationID())
	cancel()

	if !h.active() {
		return true
	}

	if err != nil {
		log.Warn("payment status query failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.maxAttempts),
			zap.Error(err),
		)
		session.setMessage(UserMessage(StatusWaiting))
	} else if d.apply(Classify(res)) {
		log.Info("payment reached terminal state",
			zap.Int("attempt", attempt),
			zap.String("status", string(session.Snapshot().Status)),
		)
		return true
	}

	if attempt >= p.maxAttempts {
		log.Warn("payment status polling exhausted", zap.Int("attempts", attempt))
		return d.apply(timeoutOutcome())
	}
	return false
}

func timeoutOutcome() Outcome {
	return Outcome{Status: StatusTimeout, Message: UserMessage(StatusTimeout)}
}
