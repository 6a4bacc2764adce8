package retry

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	calls := 0
	err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRecoversAfterTransientFailures(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	calls := 0
	err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	calls := 0
	underlying := errors.New("service down")
	err := exec.Do(context.Background(), "fetch", func(ctx context.Context) error {
		calls++
		return Transient(underlying)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var te *TransientError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "fetch", te.Operation)
	assert.Equal(t, 3, te.Attempts)
	assert.ErrorIs(t, err, underlying)
}

func TestDoPermanentErrorNotRetried(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	calls := 0
	permErr := errors.New("bad request")
	err := exec.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return permErr
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, permErr)
}

func TestDoContextCanceledDuringBackoff(t *testing.T) {
	cfg := fastConfig()
	cfg.InitialBackoff = time.Second
	exec := NewExecutor(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- exec.Do(ctx, "op", func(ctx context.Context) error {
			calls++
			return Transient(errors.New("flaky"))
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDoGenericReturnsValue(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	calls := 0
	got, err := Do(context.Background(), exec, "op", func(ctx context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, Transient(errors.New("flaky"))
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 2, calls)
}

func TestDoGenericZeroValueOnFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	got, err := Do(context.Background(), exec, "op", func(ctx context.Context) (string, error) {
		return "partial", Permanent(errors.New("nope"))
	})

	require.Error(t, err)
	assert.Empty(t, got)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"explicit transient", Transient(errors.New("boom")), true},
		{"explicit permanent", Permanent(errors.New("boom")), false},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"connection reset", syscall.ECONNRESET, true},
		{"connection refused", syscall.ECONNREFUSED, true},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"grpc unavailable", status.Error(grpccodes.Unavailable, "down"), true},
		{"grpc deadline", status.Error(grpccodes.DeadlineExceeded, "slow"), true},
		{"grpc resource exhausted", status.Error(grpccodes.ResourceExhausted, "quota"), true},
		{"grpc invalid argument", status.Error(grpccodes.InvalidArgument, "bad"), false},
		{"grpc not found", status.Error(grpccodes.NotFound, "missing"), false},
		{"wrapped transient", Transient(syscall.ECONNRESET), true},
		{"permanent beats classification", Permanent(syscall.ECONNRESET), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientErrorMessage(t *testing.T) {
	err := &TransientError{Operation: "embed", Attempts: 3, Err: errors.New("timeout")}
	assert.Equal(t, "embed failed after 3 attempts: timeout", err.Error())
}
