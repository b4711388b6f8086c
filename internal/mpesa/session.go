package mpesa

import (
	"sync"
	"time"
)

// Session is the live state of one in-flight payment.
type Session struct {
	mu sync.Mutex

	correlationID  string
	orderReference string
	amount         float64
	phone          string
	status         Status
	attemptsMade   int
	maxAttempts    int
	lastMessage    string
	updatedAt      time.Time
}

// SessionSnapshot is a copy of a Session safe to hand to callers.
type SessionSnapshot struct {
	CorrelationID  string
	OrderReference string
	Amount         float64
	PhoneNumber    string
	Status         Status
	AttemptsMade   int
	MaxAttempts    int
	LastMessage    string
	UpdatedAt      time.Time
}

// NewSession starts in processing; it is created the moment initiation
// returns a correlation id.
func NewSession(req PaymentRequest, res *InitiateResult) *Session {
	msg := UserMessage(StatusProcessing)
	if res.ResponseDescription != "" {
		msg = res.ResponseDescription
	}
	return &Session{
		correlationID:  res.CorrelationID,
		orderReference: req.OrderReference,
		amount:         req.Amount,
		phone:          req.PhoneNumber,
		status:         StatusProcessing,
		lastMessage:    msg,
		updatedAt:      time.Now(),
	}
}

func (s *Session) CorrelationID() string {
	return s.correlationID
}

func (s *Session) OrderReference() string {
	return s.orderReference
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		CorrelationID:  s.correlationID,
		OrderReference: s.orderReference,
		Amount:         s.amount,
		PhoneNumber:    s.phone,
		Status:         s.status,
		AttemptsMade:   s.attemptsMade,
		MaxAttempts:    s.maxAttempts,
		LastMessage:    s.lastMessage,
		UpdatedAt:      s.updatedAt,
	}
}

// transition moves the session forward. It reports whether the status
// changed; backward moves and moves out of a terminal state are refused.
func (s *Session) transition(to Status, message string) (StatusRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if message != "" {
		s.lastMessage = message
	}
	if s.status.Terminal() || to.rank() < s.status.rank() || to == s.status {
		return StatusRecord{}, false
	}

	s.status = to
	s.updatedAt = time.Now()
	return StatusRecord{
		CorrelationID:  s.correlationID,
		OrderReference: s.orderReference,
		Status:         to,
		Message:        s.lastMessage,
		Attempt:        s.attemptsMade,
		At:             s.updatedAt,
	}, true
}

// nextAttempt increments the attempt counter unless the budget is spent.
func (s *Session) nextAttempt() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attemptsMade >= s.maxAttempts {
		return s.attemptsMade, false
	}
	s.attemptsMade++
	return s.attemptsMade, true
}

func (s *Session) setBudget(max int) {
	s.mu.Lock()
	s.maxAttempts = max
	s.mu.Unlock()
}

func (s *Session) setMessage(msg string) {
	s.mu.Lock()
	s.lastMessage = msg
	s.mu.Unlock()
}
