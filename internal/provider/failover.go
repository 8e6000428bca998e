package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Failover fronts an ordered list of interchangeable providers. Transient
// failures retry with backoff against the same provider; ErrUnavailable moves
// on to the next. These retries are infrastructure-level and never count as
// content-quality attempts.
type Failover struct {
	providers  []Provider
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

type FailoverOption func(*Failover)

func WithMaxRetries(n int) FailoverOption {
	return func(f *Failover) { f.maxRetries = n }
}

func WithBaseDelay(d time.Duration) FailoverOption {
	return func(f *Failover) { f.baseDelay = d }
}

func NewFailover(providers []Provider, logger *slog.Logger, opts ...FailoverOption) (*Failover, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &Failover{
		providers:  providers,
		maxRetries: 3,
		baseDelay:  time.Second,
		logger:     logger.With("component", "provider_failover"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Failover) Name() string { return "failover" }

// Generate tries each provider in order, retrying transient failures with
// backoff before moving on.
func (f *Failover) Generate(ctx context.Context, req Request) (*Response, error) {
	var lastErr error

	for _, p := range f.providers {
		resp, err := f.generateWithRetry(ctx, p, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		f.logger.Warn("provider exhausted, failing over",
			"provider", p.Name(),
			"error", err)
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

func (f *Failover) generateWithRetry(ctx context.Context, p Provider, req Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := f.backoff(attempt, lastErr)
			f.logger.Debug("retrying provider call",
				"provider", p.Name(),
				"attempt", attempt,
				"delay", delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := p.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !IsTransient(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("retries exhausted for %s: %w", p.Name(), lastErr)
}

// backoff honors a server-suggested Retry-After when present, otherwise
// doubles the base delay per attempt.
func (f *Failover) backoff(attempt int, err error) time.Duration {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}
	return f.baseDelay * time.Duration(1<<(attempt-1))
}
