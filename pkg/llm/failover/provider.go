package failover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"storyreel/pkg/llm"
)

// Provider wraps multiple LLM providers and falls back along the chain.
// Retrying the same provider is left to llm.Caller.
type Provider struct {
	providers []llm.Provider
	names     []string
	disabled  map[int]bool
	backoffs  map[string]*backoffState // key: providerName:profile
	mu        sync.RWMutex
}

type backoffState struct {
	subsequentFailures int
	skippedRequests    int
}

// New creates a failover chain.
// providers: ordered list of initialized providers.
// names: names corresponding to the provider list.
func New(providers []llm.Provider, names []string) (*Provider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider required for failover")
	}
	if len(providers) != len(names) {
		return nil, fmt.Errorf("provider count (%d) does not match name count (%d)", len(providers), len(names))
	}

	return &Provider{
		providers: providers,
		names:     names,
		disabled:  make(map[int]bool),
		backoffs:  make(map[string]*backoffState),
	}, nil
}

// Name implements llm.Provider.
func (f *Provider) Name() string {
	return strings.Join(f.names, ">")
}

// GenerateText implements llm.Provider.
func (f *Provider) GenerateText(ctx context.Context, profile, prompt string) (*llm.Response, error) {
	return f.execute(ctx, profile, func(p llm.Provider) (*llm.Response, error) {
		return p.GenerateText(ctx, profile, prompt)
	})
}

// GenerateJSON implements llm.Provider.
func (f *Provider) GenerateJSON(ctx context.Context, profile, prompt string) (*llm.Response, error) {
	return f.execute(ctx, profile, func(p llm.Provider) (*llm.Response, error) {
		return p.GenerateJSON(ctx, profile, prompt)
	})
}

// HasProfile implements llm.Provider.
func (f *Provider) HasProfile(profile string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, p := range f.providers {
		if !f.disabled[i] && p.HasProfile(profile) {
			return true
		}
	}
	return false
}

// HealthCheck verifies that at least one provider is healthy.
func (f *Provider) HealthCheck(ctx context.Context) error {
	f.mu.RLock()
	providers := f.providers
	names := f.names
	disabled := make(map[int]bool)
	for k, v := range f.disabled {
		disabled[k] = v
	}
	f.mu.RUnlock()

	var errs []error
	for i, p := range providers {
		if disabled[i] {
			continue
		}
		if err := p.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", names[i], err))
			continue
		}
		return nil // At least one is healthy
	}

	if len(errs) == 0 {
		return fmt.Errorf("no providers available in failover chain")
	}
	return fmt.Errorf("all LLM providers failed health check: %w", errors.Join(errs...))
}

type candidate struct {
	index int
	p     llm.Provider
	name  string
}

func (f *Provider) candidates(profile string) []candidate {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []candidate
	for i, p := range f.providers {
		if f.disabled[i] || !p.HasProfile(profile) {
			continue
		}
		out = append(out, candidate{i, p, f.names[i]})
	}
	return out
}

// execute runs fn against the chain. A provider failing with a fatal error is
// disabled for the session unless it is the last candidate. Providers that
// failed recently are skipped for as many requests as they failed in a row;
// the last candidate is never skipped.
func (f *Provider) execute(ctx context.Context, profile string, fn func(llm.Provider) (*llm.Response, error)) (*llm.Response, error) {
	candidates := f.candidates(profile)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no active provider supports profile %q", llm.ErrUnauthorized, profile)
	}

	var lastErr error
	for idx, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		isLast := idx == len(candidates)-1
		backoffKey := c.name + ":" + profile

		if !isLast && f.shouldSkip(backoffKey) {
			slog.Debug("LLM provider in backoff, skipping", "provider", c.name, "profile", profile)
			continue
		}

		res, err := fn(c.p)
		if err == nil {
			f.mu.Lock()
			delete(f.backoffs, backoffKey)
			f.mu.Unlock()
			return res, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		if llm.Classify(err) == llm.ClassFatal {
			if isLast {
				return nil, err
			}
			slog.Warn("LLM provider fatal error, disabling for the session", "provider", c.name, "error", err)
			f.mu.Lock()
			f.disabled[c.index] = true
			f.mu.Unlock()
			continue
		}

		failures := f.recordFailure(backoffKey)
		if isLast {
			return nil, err
		}
		slog.Info("LLM provider failed, falling back",
			"provider", c.name,
			"next", candidates[idx+1].name,
			"error", err,
			"backoff_failures", failures)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all LLM providers exhausted for profile %q", profile)
	}
	return nil, lastErr
}

func (f *Provider) shouldSkip(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	bs, ok := f.backoffs[key]
	if ok && bs.skippedRequests < bs.subsequentFailures {
		bs.skippedRequests++
		return true
	}
	return false
}

func (f *Provider) recordFailure(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	bs, ok := f.backoffs[key]
	if !ok {
		bs = &backoffState{}
		f.backoffs[key] = bs
	}
	bs.subsequentFailures++
	bs.skippedRequests = 0
	return bs.subsequentFailures
}
