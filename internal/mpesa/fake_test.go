package mpesa

import (
	"context"
	"sync"
)

type step struct {
	res *QueryResult
	err error
}

// fakeGateway replays scripted status answers; past the script every
// answer is "still pending".
type fakeGateway struct {
	mu          sync.Mutex
	steps       []step
	queries     int
	initiations int
	initiateRes *InitiateResult
	initiateErr error
}

func (f *fakeGateway) Initiate(ctx context.Context, req PaymentRequest) (*InitiateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initiations++
	return f.initiateRes, f.initiateErr
}

func (f *fakeGateway) QueryStatus(ctx context.Context, id string) (*QueryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.queries
	f.queries++
	if i < len(f.steps) {
		return f.steps[i].res, f.steps[i].err
	}
	return &QueryResult{Success: true, CorrelationID: id}, nil
}

func (f *fakeGateway) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func code(c int) *QueryResult {
	return &QueryResult{Success: true, ResultCode: intPtr(c)}
}

func codeDesc(c int, desc string) *QueryResult {
	return &QueryResult{Success: true, ResultCode: intPtr(c), ResultDesc: desc}
}

func pending() *QueryResult {
	return &QueryResult{Success: true}
}
