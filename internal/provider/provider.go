package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Tier is an ordinal capability level. Strategies address models by tier so
// the pipeline never names a concrete provider model.
type Tier int

const (
	TierStandard Tier = 1
	TierEnhanced Tier = 2
	TierMaximum  Tier = 3
)

// Request carries one generation call.
type Request struct {
	Prompt      string
	System      string
	Tier        Tier
	Temperature float64
	MaxTokens   int
	ForceJSON   bool
}

// Response carries text plus usage and cost metadata.
type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
	Cost      float64
}

// Provider is the consumed generation capability.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Typed failures per the provider contract. RateLimited and transient errors
// are retried transparently; Unavailable triggers failover to the next
// provider; anything else surfaces to the caller.
var (
	ErrUnavailable = errors.New("provider unavailable")
	ErrEmptyOutput = errors.New("provider returned empty output")
)

// RateLimitedError carries an optional server-suggested retry delay.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

// IsTransient reports whether err should be retried without counting against
// any content-quality attempt budget.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return IsRateLimited(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrUnavailable)
}
