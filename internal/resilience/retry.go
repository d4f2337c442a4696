package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the backoff after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%). Default: 0.25.
	JitterFraction float64

	// OnRetry is called before each retry sleep with attempt number and reason.
	OnRetry func(attempt int, reason string)
}

// DefaultRetryConfig returns a sensible retry configuration for API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Outcome is the explicit result of one attempt: a value, a retryable failure
// carrying the reason to feed back into the next attempt, or a fatal failure.
type Outcome[T any] struct {
	value  T
	reason string
	err    error
	kind   outcomeKind
}

type outcomeKind int

const (
	outcomeOk outcomeKind = iota
	outcomeRetryable
	outcomeFatal
)

// Ok wraps a successful attempt value.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{value: v, kind: outcomeOk}
}

// Retryable marks an attempt as failed but worth retrying. The reason is
// passed as corrective feedback to the next attempt.
func Retryable[T any](reason string, err error) Outcome[T] {
	return Outcome[T]{reason: reason, err: err, kind: outcomeRetryable}
}

// Fatal marks an attempt as failed beyond repair; no further attempts run.
func Fatal[T any](err error) Outcome[T] {
	return Outcome[T]{err: err, kind: outcomeFatal}
}

// AttemptFunc runs one attempt. feedback is empty on the first attempt and
// carries the previous attempt's Retryable reason afterwards.
type AttemptFunc[T any] func(ctx context.Context, feedback string) Outcome[T]

// Run drives fn under cfg until it returns Ok or Fatal, the attempt budget is
// exhausted, or the context is canceled. The total number of attempts never
// exceeds cfg.MaxAttempts.
func Run[T any](ctx context.Context, cfg RetryConfig, fn AttemptFunc[T]) (T, error) {
	cfg = applyDefaults(cfg)

	var zero T
	var feedback string
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		out := fn(ctx, feedback)
		switch out.kind {
		case outcomeOk:
			return out.value, nil
		case outcomeFatal:
			return zero, out.err
		}

		lastErr = out.err
		feedback = out.reason

		if ctx.Err() != nil {
			return zero, lastErr
		}
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, out.reason)
		}

		delay := computeBackoff(attempt, cfg)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}

	return zero, lastErr
}

// Do executes fn with retry logic, retrying only errors deemed transient by
// IsTransient. It is a convenience adapter over Run for plain error-returning
// work with no feedback loop.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := Run(ctx, cfg, func(ctx context.Context, _ string) Outcome[struct{}] {
		if err := fn(ctx); err != nil {
			if IsTransient(err) {
				return Retryable[struct{}](err.Error(), err)
			}
			return Fatal[struct{}](err)
		}
		return Ok(struct{}{})
	})
	return err
}

// DoVal executes fn returning a value with the same semantics as Do.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	return Run(ctx, cfg, func(ctx context.Context, _ string) Outcome[T] {
		val, err := fn(ctx)
		if err != nil {
			if IsTransient(err) {
				return Retryable[T](err.Error(), err)
			}
			return Fatal[T](err)
		}
		return Ok(val)
	})
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}

	// Apply jitter: ±JitterFraction of delay.
	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		jitter := (rand.Float64()*2 - 1) * jitterRange // [-jitterRange, +jitterRange]
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, string) {
	return func(attempt int, reason string) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("reason", reason),
		)
	}
}
