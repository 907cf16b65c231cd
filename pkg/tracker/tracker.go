package tracker

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Tracker tracks call outcomes and token usage per provider.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	APISuccess   int64
	APIFailures  int64
	APIRetries   int64
	InputTokens  int64
	OutputTokens int64
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIFailures, 1)
}

// TrackRetry counts a retried call attempt.
func (t *Tracker) TrackRetry(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIRetries, 1)
}

// TrackTokens adds reported usage for one completed call.
func (t *Tracker) TrackTokens(provider string, input, output int) {
	s := t.getStats(provider)
	atomic.AddInt64(&s.InputTokens, int64(input))
	atomic.AddInt64(&s.OutputTokens, int64(output))
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats)
	for k, v := range t.stats {
		result[k] = ProviderStats{
			APISuccess:   atomic.LoadInt64(&v.APISuccess),
			APIFailures:  atomic.LoadInt64(&v.APIFailures),
			APIRetries:   atomic.LoadInt64(&v.APIRetries),
			InputTokens:  atomic.LoadInt64(&v.InputTokens),
			OutputTokens: atomic.LoadInt64(&v.OutputTokens),
		}
	}
	return result
}

// TotalTokens sums input and output tokens over all providers.
func (t *Tracker) TotalTokens() int64 {
	var total int64
	for _, s := range t.Snapshot() {
		total += s.InputTokens + s.OutputTokens
	}
	return total
}

// Providers returns the tracked provider names in sorted order.
func (t *Tracker) Providers() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.stats))
	for k := range t.stats {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
