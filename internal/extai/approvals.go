package extai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrApprovalTimeout is returned when no decision arrives in time. A timeout
// counts as a refusal, so it also matches ErrPolicyViolation.
var ErrApprovalTimeout = fmt.Errorf("%w: approval request timed out", ErrPolicyViolation)

// ApprovalDeniedError reports a request a human rejected.
type ApprovalDeniedError struct {
	RequestID string
	DeniedBy  string
	Reason    string
}

func (e *ApprovalDeniedError) Error() string {
	return fmt.Sprintf("request %s denied by %s: %s", e.RequestID, e.DeniedBy, e.Reason)
}

func (e *ApprovalDeniedError) Unwrap() error { return ErrPolicyViolation }

// Decision is a human's verdict on a pending request.
type Decision struct {
	Approved  bool
	DecidedBy string
	Reason    string
	DecidedAt time.Time
}

// PendingApproval is a request awaiting a decision.
type PendingApproval struct {
	ID        string
	Request   Request
	CreatedAt time.Time
}

// Approvals brokers human decisions on external AI requests.
// Safe for concurrent use.
type Approvals struct {
	mu      sync.Mutex
	clock   Clock
	pending map[string]chan Decision
	queue   map[string]PendingApproval
}

// NewApprovals creates an approval broker.
func NewApprovals(clock Clock) *Approvals {
	if clock == nil {
		clock = SystemClock()
	}
	return &Approvals{
		clock:   clock,
		pending: make(map[string]chan Decision),
		queue:   make(map[string]PendingApproval),
	}
}

// Submit registers req and blocks until a decision, the timeout, or context
// cancellation. Timeout yields ErrApprovalTimeout; denial yields
// *ApprovalDeniedError.
func (a *Approvals) Submit(ctx context.Context, req Request, timeout time.Duration) (Decision, error) {
	id := uuid.NewString()
	ch := make(chan Decision, 1)

	a.mu.Lock()
	a.pending[id] = ch
	a.queue[id] = PendingApproval{ID: id, Request: req, CreatedAt: a.clock.Now()}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.pending, id)
		delete(a.queue, id)
		a.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-ch:
		if !d.Approved {
			return d, &ApprovalDeniedError{RequestID: id, DeniedBy: d.DecidedBy, Reason: d.Reason}
		}
		return d, nil
	case <-timer.C:
		return Decision{}, ErrApprovalTimeout
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Pending lists requests currently awaiting a decision.
func (a *Approvals) Pending() []PendingApproval {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]PendingApproval, 0, len(a.queue))
	for _, p := range a.queue {
		out = append(out, p)
	}
	return out
}

// Decide resolves a pending request. Unknown IDs return an error.
func (a *Approvals) Decide(id string, approved bool, decidedBy, reason string) error {
	a.mu.Lock()
	ch, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending approval with id %s", id)
	}

	ch <- Decision{
		Approved:  approved,
		DecidedBy: decidedBy,
		Reason:    reason,
		DecidedAt: a.clock.Now(),
	}
	return nil
}
