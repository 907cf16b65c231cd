// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storyreel/pkg/llm"
)

// Call records one request made to the stub.
type Call struct {
	Profile string
	Prompt  string
	JSON    bool
}

// Handler produces the response text for a call.
type Handler func(profile, prompt string) (string, error)

// Stub is an llm.Provider driven by a handler function.
type Stub struct {
	Handler   Handler
	ModelName string
	Missing   map[string]bool // profiles the stub pretends not to serve
	HealthErr error
	Usage     llm.Usage

	mu    sync.Mutex
	calls []Call
}

// New returns a stub answering every call with h.
func New(h Handler) *Stub {
	return &Stub{Handler: h, ModelName: "stub-model", Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}
}

// ByProfile returns a handler that serves fixed responses per profile.
// Unknown profiles fail.
func ByProfile(responses map[string]string) Handler {
	return func(profile, _ string) (string, error) {
		r, ok := responses[profile]
		if !ok {
			return "", fmt.Errorf("no scripted response for profile %q", profile)
		}
		return r, nil
	}
}

// Sequence returns a handler that plays back results in order and repeats the
// last one once exhausted.
func Sequence(texts []string, errs []error) Handler {
	var mu sync.Mutex
	i := 0
	return func(string, string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		idx := i
		if idx >= len(texts) {
			idx = len(texts) - 1
		}
		i++
		var err error
		if idx < len(errs) {
			err = errs[idx]
		}
		return texts[idx], err
	}
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) GenerateText(ctx context.Context, profile, prompt string) (*llm.Response, error) {
	return s.generate(ctx, profile, prompt, false)
}

func (s *Stub) GenerateJSON(ctx context.Context, profile, prompt string) (*llm.Response, error) {
	return s.generate(ctx, profile, prompt, true)
}

func (s *Stub) generate(ctx context.Context, profile, prompt string, asJSON bool) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.calls = append(s.calls, Call{Profile: profile, Prompt: prompt, JSON: asJSON})
	s.mu.Unlock()

	text, err := s.Handler(profile, prompt)
	if err != nil {
		return nil, err
	}
	return &llm.Response{Text: text, Model: s.ModelName, Usage: s.Usage}, nil
}

func (s *Stub) HealthCheck(context.Context) error { return s.HealthErr }

func (s *Stub) HasProfile(profile string) bool { return !s.Missing[profile] }

// Calls returns a copy of the recorded calls.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Count returns how many calls were made for profile.
func (s *Stub) Count(profile string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Profile == profile {
			n++
		}
	}
	return n
}

// FastPolicy is a retry policy with millisecond delays for tests.
func FastPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{
		BaseDelay:         time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		TransientAttempts: 10,
		OtherAttempts:     3,
	}
}
