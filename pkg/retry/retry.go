// Package retry provides bounded retries with exponential backoff
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"time"

	"github.com/stillshot/stillshot/pkg/errors"
)

// Config defines retry behavior configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts, including the first
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier   float64       `yaml:"multiplier" json:"multiplier"`

	// Jitter spreads each delay by up to 20% either way
	Jitter bool `yaml:"jitter" json:"jitter"`

	// RetryableErrors restricts retries to these codes. When empty, the
	// error's own Retryable flag decides.
	RetryableErrors []errors.ErrorCode `yaml:"retryable_errors" json:"retryable_errors"`

	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns the retry configuration used for a single upload:
// one extra attempt when the endpoint could not be reached.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     2,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		RetryableErrors: []errors.ErrorCode{errors.ErrCodeStorageUnreachable},
	}
}

// Retryer runs a function until it succeeds or the attempt budget is spent.
type Retryer struct {
	cfg Config
}

func New(cfg Config) *Retryer {
	cfg.MaxAttempts = max(cfg.MaxAttempts, 1)
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	cfg.MaxDelay = max(cfg.MaxDelay, cfg.InitialDelay)
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	return &Retryer{cfg: cfg}
}

// Attempts returns the configured maximum number of attempts.
func (r *Retryer) Attempts() int {
	return r.cfg.MaxAttempts
}

// WithOnRetry returns a copy of r that calls fn before each retry.
func (r *Retryer) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) *Retryer {
	cfg := r.cfg
	cfg.OnRetry = fn
	return &Retryer{cfg: cfg}
}

// DoWithContext calls fn until it succeeds, fails with an error that is not
// retryable, runs out of attempts or ctx is done. The last error from fn is
// returned; ctx.Err() is returned only when fn never ran.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("operation canceled: %w", err)
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || attempt >= r.cfg.MaxAttempts || !r.retryable(err) {
			return err
		}

		wait := r.delay(attempt)
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry(attempt, err, wait)
		}
		if !sleep(ctx, wait) {
			return err
		}
	}
}

func (r *Retryer) retryable(err error) bool {
	code := errors.CodeOf(err)
	if code == "" {
		return false
	}
	if len(r.cfg.RetryableErrors) > 0 {
		return slices.Contains(r.cfg.RetryableErrors, code)
	}
	return errors.IsRetryable(err)
}

// delay returns InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Multiplier, float64(attempt-1))
	d = math.Min(d, float64(r.cfg.MaxDelay))
	if r.cfg.Jitter {
		d *= 1 + 0.2*(rand.Float64()*2-1)
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
