package mpesa

import (
	"fmt"
	"sync"
)

// Outcome is the classification of one status answer.
type Outcome struct {
	Status     Status
	Message    string
	ResultCode *int
}

func (o Outcome) Terminal() bool {
	return o.Status.Terminal()
}

// Err returns the error matching a failed terminal outcome, or nil.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusCancelled:
		return ErrPaymentCancelled
	case StatusError:
		if o.Message != "" && o.Message != ErrPaymentFailed.Error() {
			return fmt.Errorf("%w: %s", ErrPaymentFailed, o.Message)
		}
		return ErrPaymentFailed
	case StatusTimeout:
		return ErrPollTimeout
	}
	return nil
}

// Classify maps a gateway status answer onto the state machine.
func Classify(res *QueryResult) Outcome {
	if res == nil || res.ResultCode == nil {
		return Outcome{Status: StatusWaiting, Message: UserMessage(StatusWaiting)}
	}

	code := *res.ResultCode
	switch code {
	case ResultCodeSuccess:
		return Outcome{Status: StatusSuccess, Message: firstNonEmpty(res.ResultDesc, UserMessage(StatusSuccess)), ResultCode: res.ResultCode}
	case ResultCodeUserCancelled:
		return Outcome{Status: StatusCancelled, Message: UserMessage(StatusCancelled), ResultCode: res.ResultCode}
	default:
		return Outcome{Status: StatusError, Message: firstNonEmpty(res.ResultDesc, ErrPaymentFailed.Error()), ResultCode: res.ResultCode}
	}
}

// UserMessage is the buyer-facing text for a status.
func UserMessage(s Status) string {
	switch s {
	case StatusProcessing:
		return "Sending payment request to your phone..."
	case StatusWaiting:
		return "Check your phone and enter your M-Pesa PIN to complete the payment."
	case StatusSuccess:
		return "Payment received. Thank you for your order!"
	case StatusCancelled:
		return "You cancelled the payment on your phone. You can try again."
	case StatusError:
		return "Payment failed. Please try again."
	case StatusTimeout:
		return "We have not received confirmation yet. Your payment might still be processing."
	}
	return ""
}

// Callbacks receive every session event. Exactly one of the terminal
// callbacks runs per session; nil callbacks are skipped.
type Callbacks struct {
	OnStatusChange func(StatusRecord)
	OnSuccess      func(SessionSnapshot)
	OnError        func(SessionSnapshot, error)
	OnCancel       func(SessionSnapshot)
	OnTimeout      func(SessionSnapshot)
}

type dispatcher struct {
	session   *Session
	callbacks Callbacks
	active    func() bool

	mu   sync.Mutex
	done bool
}

func newDispatcher(session *Session, cb Callbacks, active func() bool) *dispatcher {
	return &dispatcher{session: session, callbacks: cb, active: active}
}

func (d *dispatcher) finished() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// apply moves the session to outcome and fires the callbacks it implies.
// It reports whether the session reached a terminal state.
func (d *dispatcher) apply(o Outcome) bool {
	d.mu.Lock()
	if d.done || !d.active() {
		d.mu.Unlock()
		return true
	}
	if o.Terminal() {
		d.done = true
	}
	d.mu.Unlock()

	// Cancel can land after the check above; re-check before each callback.
	if !d.active() {
		return true
	}
	rec, changed := d.session.transition(o.Status, o.Message)
	if changed && d.callbacks.OnStatusChange != nil {
		d.callbacks.OnStatusChange(rec)
	}
	if !o.Terminal() {
		return false
	}
	if !d.active() {
		return true
	}

	snap := d.session.Snapshot()
	switch o.Status {
	case StatusSuccess:
		if d.callbacks.OnSuccess != nil {
			d.callbacks.OnSuccess(snap)
		}
	case StatusCancelled:
		if d.callbacks.OnCancel != nil {
			d.callbacks.OnCancel(snap)
		}
	case StatusTimeout:
		if d.callbacks.OnTimeout != nil {
			d.callbacks.OnTimeout(snap)
		}
	default:
		if d.callbacks.OnError != nil {
			d.callbacks.OnError(snap, o.Err())
		}
	}
	return true
}
