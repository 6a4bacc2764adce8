package extai

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/missiond/internal/retry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeProvider struct {
	calls int64
	resp  Response
	err   error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Call(ctx context.Context, model, prompt string) (Response, error) {
	atomic.AddInt64(&p.calls, 1)
	if p.err != nil {
		return Response{}, p.err
	}
	return p.resp, nil
}

func fastRetrier() *retry.Executor {
	return retry.NewExecutor(retry.Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	}, nil)
}

func newGate(t *testing.T, cfg GateConfig, provider Provider, clock Clock) *Gate {
	t.Helper()
	if clock == nil {
		clock = newFakeClock()
	}
	return NewGate(cfg,
		NewPolicy(),
		NewCache(24*time.Hour, clock),
		NewBudget(1.0, 10.0, clock),
		NewApprovals(clock),
		NewAuditLog(nil, clock),
		provider,
		fastRetrier(),
		nil,
	)
}

func request() Request {
	return Request{
		MissionID:        "m1",
		Provider:         "fake",
		Model:            "big-model",
		Purpose:          "design_review",
		Justification:    "local model cannot assess this architecture",
		Prompt:           "review this design",
		EstimatedCostUSD: 0.05,
	}
}

func TestInvokeSuccess(t *testing.T) {
	provider := &fakeProvider{resp: Response{Text: "looks fine", TokensUsed: 120, CostUSD: 0.03}}
	gate := newGate(t, GateConfig{}, provider, nil)

	resp, err := gate.Invoke(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "looks fine", resp.Text)
	assert.False(t, resp.Cached)

	records := gate.Audit().Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Approved)
	assert.False(t, records[0].Cached)
	assert.Equal(t, 120, records[0].TokensUsed)
	assert.InDelta(t, 0.03, records[0].CostUSD, 1e-9)

	// Budget reflects the actual cost, not the estimate.
	assert.InDelta(t, 0.03, gate.Budget().MissionSpend("m1"), 1e-9)
}

func TestInvokeCacheHitSkipsProvider(t *testing.T) {
	provider := &fakeProvider{resp: Response{Text: "answer", TokensUsed: 50, CostUSD: 0.02}}
	gate := newGate(t, GateConfig{}, provider, nil)

	_, err := gate.Invoke(context.Background(), request())
	require.NoError(t, err)

	resp, err := gate.Invoke(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, resp.Cached)
	assert.Zero(t, resp.CostUSD)
	assert.Equal(t, int64(1), atomic.LoadInt64(&provider.calls))

	records := gate.Audit().Records()
	require.Len(t, records, 2)
	assert.True(t, records[1].Cached)
	assert.True(t, records[1].Approved)

	// Cache hit adds no spend.
	assert.InDelta(t, 0.02, gate.Budget().MissionSpend("m1"), 1e-9)
}

func TestInvokeCacheExpires(t *testing.T) {
	clock := newFakeClock()
	provider := &fakeProvider{resp: Response{Text: "answer", CostUSD: 0.01}}
	gate := newGate(t, GateConfig{}, provider, clock)

	_, err := gate.Invoke(context.Background(), request())
	require.NoError(t, err)

	clock.Advance(25 * time.Hour)

	_, err = gate.Invoke(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&provider.calls))
}

func TestInvokeRequiresJustification(t *testing.T) {
	provider := &fakeProvider{}
	gate := newGate(t, GateConfig{}, provider, nil)

	req := request()
	req.Justification = "  "
	_, err := gate.Invoke(context.Background(), req)
	require.ErrorIs(t, err, ErrJustificationRequired)
	assert.ErrorIs(t, err, ErrPolicyViolation)
	assert.Zero(t, atomic.LoadInt64(&provider.calls))

	records := gate.Audit().Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Denied)
}

func TestInvokeDeniesPrimarySourceGeneration(t *testing.T) {
	provider := &fakeProvider{}
	gate := newGate(t, GateConfig{}, provider, nil)

	req := request()
	req.Purpose = "generate_source"
	_, err := gate.Invoke(context.Background(), req)

	var denied *ScopeDeniedError
	require.ErrorAs(t, err, &denied)
	assert.ErrorIs(t, err, ErrPolicyViolation)
	assert.Zero(t, atomic.LoadInt64(&provider.calls))
}

func TestInvokeDeniesSecretHandling(t *testing.T) {
	gate := newGate(t, GateConfig{}, &fakeProvider{}, nil)

	req := request()
	req.Purpose = "handle_secrets"
	_, err := gate.Invoke(context.Background(), req)

	var denied *ScopeDeniedError
	require.ErrorAs(t, err, &denied)
}

func TestInvokeBudgetExceeded(t *testing.T) {
	provider := &fakeProvider{resp: Response{Text: "x", CostUSD: 0.9}}
	gate := newGate(t, GateConfig{}, provider, nil)

	req := request()
	req.EstimatedCostUSD = 0.9
	req.Prompt = "first"
	_, err := gate.Invoke(context.Background(), req)
	require.NoError(t, err)

	req.Prompt = "second"
	_, err = gate.Invoke(context.Background(), req)
	var budgetErr *BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, "mission", budgetErr.Scope)
	assert.Equal(t, int64(1), atomic.LoadInt64(&provider.calls))
}

func TestInvokeProviderFailureReleasesReservation(t *testing.T) {
	provider := &fakeProvider{err: retry.Permanent(errors.New("provider rejected request"))}
	gate := newGate(t, GateConfig{}, provider, nil)

	_, err := gate.Invoke(context.Background(), request())
	require.Error(t, err)
	assert.Zero(t, gate.Budget().MissionSpend("m1"))

	// A call failure is not a policy refusal; the audit trail keeps them
	// apart.
	records := gate.Audit().Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Failed)
	assert.Equal(t, "provider rejected request", records[0].FailureReason)
	assert.False(t, records[0].Denied)
}

func TestInvokePolicyDenialIsNotAFailure(t *testing.T) {
	gate := newGate(t, GateConfig{}, &fakeProvider{}, nil)

	req := request()
	req.Purpose = "generate_source"
	_, err := gate.Invoke(context.Background(), req)
	require.Error(t, err)

	records := gate.Audit().Records()
	require.Len(t, records, 1)
	assert.True(t, records[0].Denied)
	assert.False(t, records[0].Failed)
}

func TestInvokeRetriesTransientProviderErrors(t *testing.T) {
	calls := 0
	provider := &callbackProvider{fn: func() (Response, error) {
		calls++
		if calls < 3 {
			return Response{}, retry.Transient(errors.New("timeout"))
		}
		return Response{Text: "recovered", CostUSD: 0.01}, nil
	}}
	gate := newGate(t, GateConfig{}, provider, nil)

	resp, err := gate.Invoke(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, 3, calls)
}

type callbackProvider struct {
	fn func() (Response, error)
}

func (p *callbackProvider) Name() string { return "callback" }
func (p *callbackProvider) Call(ctx context.Context, model, prompt string) (Response, error) {
	return p.fn()
}

func TestInvokeWithApprovalGranted(t *testing.T) {
	provider := &fakeProvider{resp: Response{Text: "ok", CostUSD: 0.01}}
	gate := newGate(t, GateConfig{RequireApproval: true, ApprovalTimeout: 2 * time.Second}, provider, nil)

	go func() {
		for i := 0; i < 100; i++ {
			pending := gate.Approvals().Pending()
			if len(pending) == 1 {
				_ = gate.Approvals().Decide(pending[0].ID, true, "operator", "fine")
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	resp, err := gate.Invoke(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	records := gate.Audit().Records()
	require.Len(t, records, 1)
	assert.Equal(t, "operator", records[0].ApprovedBy)
	require.NotNil(t, records[0].ApprovedAt)
}

func TestInvokeWithApprovalDenied(t *testing.T) {
	provider := &fakeProvider{}
	gate := newGate(t, GateConfig{RequireApproval: true, ApprovalTimeout: 2 * time.Second}, provider, nil)

	go func() {
		for i := 0; i < 100; i++ {
			pending := gate.Approvals().Pending()
			if len(pending) == 1 {
				_ = gate.Approvals().Decide(pending[0].ID, false, "operator", "too expensive")
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	_, err := gate.Invoke(context.Background(), request())
	var denied *ApprovalDeniedError
	require.ErrorAs(t, err, &denied)
	assert.ErrorIs(t, err, ErrPolicyViolation)
	assert.Equal(t, "operator", denied.DeniedBy)
	assert.Zero(t, atomic.LoadInt64(&provider.calls))
	assert.Zero(t, gate.Budget().MissionSpend("m1"))
}

func TestInvokeApprovalTimeout(t *testing.T) {
	gate := newGate(t, GateConfig{RequireApproval: true, ApprovalTimeout: 50 * time.Millisecond}, &fakeProvider{}, nil)

	_, err := gate.Invoke(context.Background(), request())
	require.ErrorIs(t, err, ErrApprovalTimeout)
}

func TestCacheKeyIdentity(t *testing.T) {
	a := request()
	b := request()
	b.MissionID = "other-mission"
	b.Justification = "different reason"
	assert.Equal(t, CacheKey(a), CacheKey(b))

	c := request()
	c.Prompt = "different prompt"
	assert.NotEqual(t, CacheKey(a), CacheKey(c))
}

func TestBudgetDailyWindowResets(t *testing.T) {
	clock := newFakeClock()
	budget := NewBudget(0, 1.0, clock)

	require.NoError(t, budget.Reserve("m1", 0.9))
	var budgetErr *BudgetExceededError
	require.ErrorAs(t, budget.Reserve("m2", 0.2), &budgetErr)
	assert.Equal(t, "daily", budgetErr.Scope)

	clock.Advance(24 * time.Hour)
	assert.NoError(t, budget.Reserve("m2", 0.2))
}

func TestBudgetConcurrentReservations(t *testing.T) {
	budget := NewBudget(1.0, 0, SystemClock())

	var granted int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if budget.Reserve("m1", 0.1) == nil {
				atomic.AddInt64(&granted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), granted)
	assert.InDelta(t, 1.0, budget.MissionSpend("m1"), 1e-9)
}
