// Package retry provides the retry policy shared by every provider call in
// the ingestion pipeline.
package retry

import (
	"context"
	"errors"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/floringheorghiu/multilingual-rag/pkg/types"
)

const (
	DefaultMaxRetries    = 3
	DefaultBaseDelay     = 500 * time.Millisecond
	DefaultMaxDelay      = 30 * time.Second
	DefaultJitterPercent = 10
	DefaultMaxRetryAfter = 60 * time.Second
)

// Config configures exponential backoff retry behavior
type Config struct {
	MaxRetries    int           // Retries after the first attempt
	BaseDelay     time.Duration // Delay before the first retry, doubled per attempt
	MaxDelay      time.Duration // Cap on the computed delay
	JitterPercent uint64        // Random +/- perturbation of each delay
	MaxRetryAfter time.Duration // Cap on a provider-advertised delay
}

// DefaultConfig returns the defaults used by the provider clients
func DefaultConfig() Config {
	return Config{
		MaxRetries:    DefaultMaxRetries,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		JitterPercent: DefaultJitterPercent,
		MaxRetryAfter: DefaultMaxRetryAfter,
	}
}

// Policy executes operations with exponential backoff. Only errors whose kind
// is retryable are retried; a Retry-After carried by the error replaces the
// computed delay for that attempt.
type Policy struct {
	cfg     Config
	onRetry func(attempt int, delay time.Duration, err error)
}

// New creates a Policy, filling zero fields from DefaultConfig.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxRetryAfter <= 0 {
		cfg.MaxRetryAfter = def.MaxRetryAfter
	}
	return &Policy{cfg: cfg}
}

// Config returns the effective configuration.
func (p *Policy) Config() Config {
	return p.cfg
}

// OnRetry registers a hook called before each retry delay.
func (p *Policy) OnRetry(fn func(attempt int, delay time.Duration, err error)) *Policy {
	cp := *p
	cp.onRetry = fn
	return &cp
}

func (p *Policy) backoff() goretry.Backoff {
	b := goretry.NewExponential(p.cfg.BaseDelay)
	b = goretry.WithCappedDuration(p.cfg.MaxDelay, b)
	if p.cfg.JitterPercent > 0 {
		b = goretry.WithJitterPercent(p.cfg.JitterPercent, b)
	}
	return goretry.WithMaxRetries(uint64(p.cfg.MaxRetries), b)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the retry
// budget is spent. Cancellation is terminal and reported as a timeout error.
func Do[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result  T
		lastErr error
		attempt int
	)

	base := p.backoff()
	backoff := goretry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := base.Next()
		if stop {
			return 0, true
		}
		if d, ok := types.RetryAfterOf(lastErr); ok {
			next = min(d, p.cfg.MaxRetryAfter)
		}
		attempt++
		if p.onRetry != nil {
			p.onRetry(attempt, next, lastErr)
		}
		return next, false
	})

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := fn(ctx)
		if err == nil {
			result = r
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return types.TimeoutError(ctx.Err())
		}
		if types.IsRetryable(err) {
			return goretry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		var zero T
		var te *types.Error
		if !errors.As(err, &te) && types.KindOf(err) == types.KindTimeout {
			return zero, types.TimeoutError(err)
		}
		return zero, err
	}
	return result, nil
}

// Run is Do for operations without a result value.
func (p *Policy) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
