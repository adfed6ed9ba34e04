package retry

import (
	"context"
	"fmt"
	"time"

	"git.home.luguber.info/inful/buildgraph/internal/config"
)

// Policy encapsulates retry/backoff settings for transient failures.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // retries after the first failed attempt
}

// DefaultPolicy returns exponential backoff from 100ms capped at 2s with 3 retries.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffExponential, Initial: 100 * time.Millisecond, Max: 2 * time.Second, MaxRetries: 3}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	if m := config.NormalizeRetryBackoff(string(mode)); m != "" {
		p.Mode = m
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// FromConfig builds the status persistence policy.
func FromConfig(cfg config.PersistenceConfig) Policy {
	initial, _ := time.ParseDuration(cfg.RetryInitialDelay)
	maxDelay, _ := time.ParseDuration(cfg.RetryMaxDelay)
	return NewPolicy(cfg.RetryBackoff, initial, maxDelay, cfg.MaxRetries)
}

// Delay returns the backoff delay for the given retry number (1-based: first retry => 1).
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		if retryCount > 30 {
			return p.Max
		}
		d = p.Initial * (1 << (retryCount - 1))
	default: // linear
		d = time.Duration(retryCount) * p.Initial
	}
	if d > p.Max || d <= 0 {
		return p.Max
	}
	return d
}

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}

// Do runs fn until it succeeds, the retries are exhausted or ctx is done.
// onRetry, when set, is called before each sleep with the retry number and the
// error that caused it. The last error is returned together with the number of
// attempts made.
func (p Policy) Do(ctx context.Context, fn func(context.Context) error, onRetry func(retry int, err error)) (int, error) {
	attempts := 0
	for {
		attempts++
		err := fn(ctx)
		if err == nil {
			return attempts, nil
		}
		if attempts > p.MaxRetries {
			return attempts, err
		}
		if onRetry != nil {
			onRetry(attempts, err)
		}
		select {
		case <-time.After(p.Delay(attempts)):
		case <-ctx.Done():
			return attempts, fmt.Errorf("%w (retry aborted: %v)", err, ctx.Err())
		}
	}
}
