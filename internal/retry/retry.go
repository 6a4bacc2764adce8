// Package retry wraps external calls with bounded exponential-backoff retry.
//
// Only failures classified as transient (network timeouts, connection resets,
// temporary unavailability) are retried. Permanent failures (validation,
// authentication, malformed input) propagate on first occurrence. Exhausting
// all attempts yields a *TransientError carrying the last underlying error.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Config configures retry behavior for external calls.
type Config struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int `koanf:"max_attempts"`

	// InitialBackoff is the delay before the first retry.
	// Default: 1 second
	InitialBackoff time.Duration `koanf:"initial_backoff"`

	// MaxBackoff caps the backoff duration.
	// Default: 30 seconds
	MaxBackoff time.Duration `koanf:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64 `koanf:"backoff_multiplier"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// TransientError reports that all attempts failed with transient errors.
// Callers treat this as phase-fatal.
type TransientError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// permanentError marks an error as not retryable regardless of classification.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// transientError marks an error as retryable regardless of classification.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Permanent wraps err so the executor never retries it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Transient wraps err so the executor always retries it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient classifies an error as retryable.
//
// Explicit markers (Permanent/Transient wrappers) win. Otherwise network
// timeouts, connection resets, unexpected EOFs and transient gRPC status
// codes are retryable; everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var trans *transientError
	if errors.As(err, &trans) {
		return true
	}

	// Context cancellation is a control signal, never retried.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
			return true
		}
	}

	return false
}

// Executor retries external operations with exponential backoff.
type Executor struct {
	config Config
	logger *zap.Logger
}

// NewExecutor creates an executor with the given configuration.
// A nil logger is replaced with a no-op logger.
func NewExecutor(config Config, logger *zap.Logger) *Executor {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{config: config, logger: logger}
}

// Config returns the executor's effective configuration.
func (e *Executor) Config() Config { return e.config }

// Do runs operation with retry on transient failures.
//
// Permanent failures propagate immediately. If all attempts fail with
// transient errors, a *TransientError wrapping the last error is returned.
// The backoff wait respects context cancellation.
func (e *Executor) Do(ctx context.Context, name string, operation func(context.Context) error) error {
	backoff := e.config.InitialBackoff
	start := time.Now()

	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("operation recovered after retries",
					zap.String("operation", name),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return nil
		}

		if !IsTransient(err) {
			e.logger.Debug("operation failed with permanent error",
				zap.String("operation", name),
				zap.Error(err),
			)
			return err
		}

		lastErr = err

		if attempt == e.config.MaxAttempts {
			break
		}

		e.logger.Info("retrying operation after transient error",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.config.MaxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			next := time.Duration(float64(backoff) * e.config.BackoffMultiplier)
			if next > e.config.MaxBackoff {
				next = e.config.MaxBackoff
			}
			backoff = next
		}
	}

	e.logger.Warn("operation failed after all attempts exhausted",
		zap.String("operation", name),
		zap.Int("attempts", e.config.MaxAttempts),
		zap.Duration("total_time", time.Since(start)),
		zap.Error(lastErr),
	)

	return &TransientError{Operation: name, Attempts: e.config.MaxAttempts, Err: lastErr}
}

// Do runs operation through the executor and returns its value.
// Generic companion to Executor.Do for calls that produce a result.
func Do[T any](ctx context.Context, e *Executor, name string, operation func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, name, func(ctx context.Context) error {
		v, err := operation(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
