package tb

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Retry defaults.
const (
	DefaultMaxAttempts = 10
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 5 * time.Minute
)

// OutcomeKind classifies a single attempt of a remote call.
type OutcomeKind int

const (
	// OutcomeOK means the call succeeded.
	OutcomeOK OutcomeKind = iota
	// OutcomeRateLimited means the call should be retried after Wait.
	OutcomeRateLimited
	// OutcomeFatal means the error must be returned without retrying.
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeRateLimited:
		return "rate-limited"
	default:
		return "fatal"
	}
}

// Outcome is the explicit result of one attempt.
type Outcome struct {
	Kind OutcomeKind
	Wait time.Duration
	Err  error
}

// RetryPolicy retries calls that were rejected for rate limiting. Every other
// error is returned on first sight.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sleeper     Sleeper
	logger      Logger
	jitter      func(d time.Duration) time.Duration
}

// NewRetryPolicy creates a policy. Non-positive values fall back to the defaults.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration, sleeper Sleeper, logger Logger) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}
	if maxDelay < baseDelay {
		maxDelay = max(DefaultMaxDelay, baseDelay)
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		sleeper:     sleeper,
		logger:      logger,
		jitter:      halfJitter,
	}
}

// WithJitter replaces the jitter function. jitter(d) returns the extra wait
// added on top of the backoff delay d.
func (p *RetryPolicy) WithJitter(jitter func(d time.Duration) time.Duration) *RetryPolicy {
	p.jitter = jitter
	return p
}

// MaxAttempts returns the total number of calls the policy permits.
func (p *RetryPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// Classify turns the result of attempt (1-based) into an Outcome.
func (p *RetryPolicy) Classify(err error, attempt int) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeOK}
	}

	var apiErr *RemoteAPIError
	if !errors.As(err, &apiErr) || !apiErr.RateLimited() {
		return Outcome{Kind: OutcomeFatal, Err: err}
	}

	wait := apiErr.RetryAfter
	if wait <= 0 {
		wait = p.Backoff(attempt)
	}
	return Outcome{Kind: OutcomeRateLimited, Wait: wait, Err: err}
}

// Backoff returns the exponential delay before retrying after attempt,
// starting at the base delay and capped at the max delay.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.baseDelay
	for i := 1; i < attempt && d < p.maxDelay; i++ {
		d *= 2
	}
	if p.jitter != nil {
		d += p.jitter(d)
	}
	return min(d, p.maxDelay)
}

// Retry invokes fn until it succeeds, fails with a non-rate-limit error, or
// the policy's attempt budget is spent. The wait between attempts honours ctx.
func Retry[T any](ctx context.Context, p *RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		value, err := fn(ctx)
		outcome := p.Classify(err, attempt)

		switch outcome.Kind {
		case OutcomeOK:
			return value, nil
		case OutcomeFatal:
			return zero, outcome.Err
		}

		if attempt >= p.maxAttempts {
			p.logger.Error("retry budget exhausted", "op", op, "attempts", attempt)
			return zero, &RetryExhaustedError{Attempts: attempt, Err: outcome.Err}
		}

		p.logger.Warn("rate limited, waiting", "op", op, "attempt", attempt, "wait", outcome.Wait)
		if err := p.sleeper.Sleep(ctx, outcome.Wait); err != nil {
			return zero, err
		}
	}
}

func halfJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d / 2)))
}
