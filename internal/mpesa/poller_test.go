package mpesa

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testInterval = 5 * time.Millisecond

type recorder struct {
	mu        sync.Mutex
	events    []string
	changes   []StatusRecord
	successes int
	errs      []error
	cancels   int
	timeouts  int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStatusChange: func(rec StatusRecord) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "change:"+string(rec.Status))
			r.changes = append(r.changes, rec)
		},
		OnSuccess: func(SessionSnapshot) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "success")
			r.successes++
		},
		OnError: func(_ SessionSnapshot, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "error")
			r.errs = append(r.errs, err)
		},
		OnCancel: func(SessionSnapshot) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "cancel")
			r.cancels++
		},
		OnTimeout: func(SessionSnapshot) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "timeout")
			r.timeouts++
		},
	}
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newTestSession(id string) *Session {
	return NewSession(happyRequest, &InitiateResult{CorrelationID: id})
}

func waitDone(t *testing.T, h *PollHandle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop did not finish")
	}
}

func TestPoller_Success(t *testing.T) {
	gw := &fakeGateway{steps: []step{{res: pending()}, {res: pending()}, {res: code(0)}}}
	rec := &recorder{}

	h := NewPoller(gw, WithInterval(testInterval), WithMaxAttempts(12)).
		Poll(context.Background(), newTestSession("ws_1"), rec.callbacks())
	waitDone(t, h)

	assert.Equal(t, []string{"change:waiting", "change:success", "success"}, rec.snapshot())
	assert.Equal(t, 3, gw.queryCount())

	snap := h.Session()
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, 3, snap.AttemptsMade)
	assert.Equal(t, 12, snap.MaxAttempts)
}

func TestPoller_WaitingBeforeReturn(t *testing.T) {
	gw := &fakeGateway{}
	rec := &recorder{}

	h := NewPoller(gw, WithInterval(time.Hour)).
		Poll(context.Background(), newTestSession("ws_1"), rec.callbacks())
	defer h.Cancel()

	assert.Equal(t, StatusWaiting, h.Session().Status)
	assert.Equal(t, []string{"change:waiting"}, rec.snapshot())
	assert.Equal(t, 0, gw.queryCount())
}

func TestPoller_UserCancelled(t *testing.T) {
	gw := &fakeGateway{steps: []step{{res: code(1032)}}}
	rec := &recorder{}

	h := NewPoller(gw, WithInterval(testInterval)).
		Poll(context.Background(), newTestSession("ws_1"), rec.callbacks())
	waitDone(t, h)

	time.Sleep(5 * testInterval)
	assert.Equal(t, []string{"change:waiting", "change:cancelled", "cancel"}, rec.snapshot())
	assert.Equal(t, 1, gw.queryCount())
}

func TestPoller_Failure(t *testing.T) {
	gw := &fakeGateway{steps: []step{{res: codeDesc(1, "The balance is insufficient for the transaction.")}}}
	rec := &recorder{}

	h := NewPoller(gw, WithInterval(testInterval)).
		Poll(context.Background(), newTestSession("ws_1"), rec.callbacks())
	waitDone(t, h)

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], ErrPaymentFailed)
	assert.Contains(t, rec.errs[0].Error(), "insufficient")
	assert.Equal(t, StatusError, h.Session().Status)
	assert.Equal(t, "The balance is insufficient for the transaction.", h.Session().LastMessage)
}

func TestPoller_TimeoutAfterBudget(t *testing.T) {
	gw := &fakeGateway{}
	rec := &recorder{}

	h := NewPoller(gw, WithInterval(testInterval), WithMaxAttempts(4)).
		Poll(context.Background(), newTestSession("ws_1"), rec.callbacks())
	waitDone(t, h)

	time.Sleep(5 * testInterval)
	assert.Equal(t, 4, gw.queryCount())
	assert.Equal(t, []string{"change:waiting", "change:timeout", "timeout"}, rec.snapshot())
	assert.Equal(t, StatusTimeout, h.Session().Status)
	assert.Contains(t, h.Session().LastMessage, "might still be processing")
}

func TestPoller_QueryErrorsConsumeAttempts(t *testing.T) {
	netErr := newGatewayError(ErrNetwork, 0, "", errors.New("connection refused"))
	gw := &fakeGateway{steps: []step{{err: netErr}, {err: netErr}, {res: code(0)}}}
	rec := &recorder{}

	h := NewPoller(gw, WithInterval(testInterval), WithMaxAttempts(5)).
		Poll(context.Background(), newTestSession("ws_1"), rec.callbacks())
	waitDone(t, h)

	assert.Equal(t, 1, rec.successes)
	assert.Equal(t, 3, h.Session().AttemptsMade)
	assert.Empty(t, rec.errs)
}

func TestPoller_QueryErrorsUntilTimeout(t *testing.T) {
	netErr := newGatewayError(ErrNetwork, 0, "", errors.New("connection refused"))
	gw := &fakeGateway{steps: []step{{err: netErr}, {err: netErr}, {err: netErr}}}
	rec := &recorder{}

	h := NewPoller(gw, WithInterval(testInterval), WithMaxAttempts(3)).
		Poll(context.Background(), newTestSession("ws_1"), rec.callbacks())
	waitDone(t, h)

	assert.Equal(t, 3, gw.queryCount())
	assert.Equal(t, 1, rec.timeouts)
	assert.Empty(t, rec.errs)
}

// blockingQuerier ignores its context and answers success once released.
type blockingQuerier struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingQuerier) QueryStatus(ctx context.Context, id string) (*QueryResult, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return code(0), nil
}

func TestPoller_CancelDropsLateResponse(t *testing.T) {
	q := &blockingQuerier{started: make(chan struct{}), release: make(chan struct{})}
	rec := &recorder{}

	h := NewPoller(q, WithInterval(testInterval), WithQueryTimeout(time.Hour)).
		Poll(context.Background(), newTestSession("ws_1"), rec.callbacks())

	select {
	case <-q.started:
	case <-time.After(2 * time.Second):
		t.Fatal("query never started")
	}

	h.Cancel()
	close(q.release)
	waitDone(t, h)

	assert.Equal(t, []string{"change:waiting"}, rec.snapshot())
	assert.Equal(t, StatusWaiting, h.Session().Status)
}

func TestPoller_ParentContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gw := &fakeGateway{}
	rec := &recorder{}

	h := NewPoller(gw, WithInterval(testInterval)).
		Poll(ctx, newTestSession("ws_1"), rec.callbacks())
	cancel()
	waitDone(t, h)

	assert.Equal(t, []string{"change:waiting"}, rec.snapshot())
}

func TestPoller_CancelIsIdempotent(t *testing.T) {
	gw := &fakeGateway{steps: []step{{res: code(0)}}}
	rec := &recorder{}

	h := NewPoller(gw, WithInterval(testInterval)).
		Poll(context.Background(), newTestSession("ws_1"), rec.callbacks())
	waitDone(t, h)

	assert.NotPanics(t, func() {
		h.Cancel()
		h.Cancel()
	})
	assert.Equal(t, 1, rec.successes)
}

func TestPoller_CancelFromTerminalCallback(t *testing.T) {
	gw := &fakeGateway{steps: []step{{res: code(0)}}}
	handles := make(chan *PollHandle, 1)
	successes := 0

	cb := Callbacks{
		OnSuccess: func(SessionSnapshot) {
			successes++
			(<-handles).Cancel()
		},
	}
	h := NewPoller(gw, WithInterval(testInterval)).Poll(context.Background(), newTestSession("ws_1"), cb)
	handles <- h
	waitDone(t, h)

	assert.Equal(t, 1, successes)
	assert.Equal(t, StatusSuccess, h.Session().Status)
}

func TestPoller_CancelFromStatusChangeSkipsTerminalCallback(t *testing.T) {
	gw := &fakeGateway{steps: []step{{res: code(0)}}}
	handles := make(chan *PollHandle, 1)
	rec := &recorder{}

	cb := rec.callbacks()
	record := cb.OnStatusChange
	cb.OnStatusChange = func(r StatusRecord) {
		record(r)
		if r.Status == StatusSuccess {
			(<-handles).Cancel()
		}
	}
	h := NewPoller(gw, WithInterval(testInterval)).Poll(context.Background(), newTestSession("ws_1"), cb)
	handles <- h
	waitDone(t, h)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"change:waiting", "change:success"}, rec.events)
	assert.Zero(t, rec.successes)
}

func TestPoller_NoEventsAfterTerminal(t *testing.T) {
	gw := &fakeGateway{steps: []step{{res: pending()}, {res: code(1032)}, {res: code(0)}, {res: code(0)}}}
	rec := &recorder{}

	h := NewPoller(gw, WithInterval(testInterval)).
		Poll(context.Background(), newTestSession("ws_1"), rec.callbacks())
	waitDone(t, h)
	time.Sleep(5 * testInterval)

	events := rec.snapshot()
	require.NotEmpty(t, events)
	assert.Equal(t, "cancel", events[len(events)-1])
	assert.Equal(t, 0, rec.successes)
	assert.Equal(t, 2, gw.queryCount())
}

func TestPoller_SandboxSession(t *testing.T) {
	inner := &fakeGateway{initiateErr: newGatewayError(ErrGatewayUnavailable, 404, "", nil)}
	gw := NewSandboxGateway(inner)
	rec := &recorder{}

	res, err := gw.Initiate(context.Background(), happyRequest)
	require.NoError(t, err)

	h := NewPoller(gw, WithInterval(testInterval)).
		Poll(context.Background(), NewSession(happyRequest, res), rec.callbacks())
	waitDone(t, h)

	assert.Equal(t, 1, rec.successes)
	assert.Equal(t, 0, inner.queryCount())
}

func TestNewPoller_QueryTimeoutBelowInterval(t *testing.T) {
	p := NewPoller(&fakeGateway{})
	assert.Equal(t, DefaultPollInterval, p.interval)
	assert.Equal(t, DefaultMaxAttempts, p.maxAttempts)
	assert.Less(t, p.queryTimeout, p.interval)

	p = NewPoller(&fakeGateway{}, WithInterval(time.Second), WithQueryTimeout(2*time.Second))
	assert.Less(t, p.queryTimeout, p.interval)

	p = NewPoller(&fakeGateway{}, WithInterval(time.Second), WithQueryTimeout(300*time.Millisecond))
	assert.Equal(t, 300*time.Millisecond, p.queryTimeout)
}
