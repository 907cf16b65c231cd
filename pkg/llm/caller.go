package llm

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"storyreel/pkg/request"
	"storyreel/pkg/tracker"
)

// Limiter paces calls. *request.RateLimiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// RetryPolicy bounds retries per error class.
type RetryPolicy struct {
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	TransientAttempts int
	OtherAttempts     int
}

// DefaultRetryPolicy: 10 transient attempts with exponential backoff from 2s
// capped at 60s, 3 attempts with linear backoff for everything else.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:         2 * time.Second,
		MaxDelay:          60 * time.Second,
		TransientAttempts: 10,
		OtherAttempts:     3,
	}
}

// Caller wraps a Provider with rate limiting, classified retries, output
// coercion and token accounting.
type Caller struct {
	provider Provider
	limiter  Limiter
	policy   RetryPolicy
	tracker  *tracker.Tracker

	tokens    atomic.Int64
	mu        sync.Mutex
	lastModel string

	sleep func(ctx context.Context, d time.Duration) error
}

// NewCaller creates a Caller. limiter and t may be nil.
func NewCaller(p Provider, limiter Limiter, policy RetryPolicy, t *tracker.Tracker) *Caller {
	if policy.TransientAttempts <= 0 {
		policy.TransientAttempts = 1
	}
	if policy.OtherAttempts <= 0 {
		policy.OtherAttempts = 1
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = policy.BaseDelay
	}
	return &Caller{
		provider: p,
		limiter:  limiter,
		policy:   policy,
		tracker:  t,
		sleep:    request.Sleep,
	}
}

// TokensUsed returns the running token total across all calls.
func (c *Caller) TokensUsed() int64 {
	return c.tokens.Load()
}

// ModelUsed returns the model reported by the most recent successful call.
func (c *Caller) ModelUsed() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastModel
}

// HasProfile reports whether the underlying provider can serve profile.
func (c *Caller) HasProfile(profile string) bool {
	return c.provider.HasProfile(profile)
}

// Call runs one logical model call. With expectJSON the response is coerced to
// a JSON document, and a coercion failure is retried like any other error.
func (c *Caller) Call(ctx context.Context, profile, prompt string, expectJSON bool) (string, error) {
	var transient, other, attempts int
	for {
		attempts++
		text, err := c.attempt(ctx, profile, prompt, expectJSON)
		if err == nil {
			return text, nil
		}

		class := Classify(err)
		var delay time.Duration
		switch class {
		case ClassFatal:
			return "", &ExtractionError{Profile: profile, Attempts: attempts, Err: err}
		case ClassTransient:
			transient++
			if transient >= c.policy.TransientAttempts {
				return "", &ExtractionError{Profile: profile, Attempts: attempts, Err: err}
			}
			delay = request.ExpDelay(c.policy.BaseDelay, c.policy.MaxDelay, transient-1)
		default:
			other++
			if other >= c.policy.OtherAttempts {
				return "", &ExtractionError{Profile: profile, Attempts: attempts, Err: err}
			}
			delay = request.LinearDelay(c.policy.BaseDelay, c.policy.MaxDelay, other-1)
		}

		slog.Warn("LLM call failed, retrying",
			"provider", c.provider.Name(),
			"profile", profile,
			"class", class,
			"attempt", attempts,
			"delay", delay,
			"error", err)
		if c.tracker != nil {
			c.tracker.TrackRetry(c.provider.Name())
		}
		if err := c.sleep(ctx, delay); err != nil {
			return "", &ExtractionError{Profile: profile, Attempts: attempts, Err: err}
		}
	}
}

func (c *Caller) attempt(ctx context.Context, profile, prompt string, expectJSON bool) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	var resp *Response
	var err error
	if expectJSON {
		resp, err = c.provider.GenerateJSON(ctx, profile, prompt)
	} else {
		resp, err = c.provider.GenerateText(ctx, profile, prompt)
	}
	if err != nil {
		return "", err
	}

	c.tokens.Add(int64(resp.Usage.Total()))
	if c.tracker != nil {
		c.tracker.TrackTokens(c.provider.Name(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	if resp.Model != "" {
		c.mu.Lock()
		c.lastModel = resp.Model
		c.mu.Unlock()
	}

	if !expectJSON {
		return resp.Text, nil
	}
	return Coerce(resp.Text)
}

// CallJSON runs a JSON call and decodes the coerced document into v. A decode
// failure is surfaced as ErrMalformedOutput without further retries.
func (c *Caller) CallJSON(ctx context.Context, profile, prompt string, v any) error {
	body, err := c.Call(ctx, profile, prompt, true)
	if err != nil {
		return err
	}
	if err := Decode(body, v); err != nil {
		return &ExtractionError{Profile: profile, Attempts: 1, Err: err}
	}
	return nil
}
