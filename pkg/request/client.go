package request

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"storyreel/pkg/config"
	"storyreel/pkg/logging"
	"storyreel/pkg/tracker"
	"storyreel/pkg/version"
)

// Client handles HTTP requests with per-host queuing, network retries and tracking.
// Non-2xx responses are returned as *StatusError without retrying so callers can
// classify them.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	retries    int
	baseDelay  time.Duration
	maxDelay   time.Duration
	gap        time.Duration

	// Queues per provider (host)
	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

// job represents a queued request.
type job struct {
	req      *http.Request
	headers  map[string]string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client from request settings.
func New(cfg config.RequestConfig, t *tracker.Tracker) *Client {
	if t == nil {
		t = tracker.New()
	}
	timeout := cfg.Timeout.D()
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}
	base := cfg.Backoff.BaseDelay.D()
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := cfg.Backoff.MaxDelay.D()
	if maxDelay <= 0 {
		maxDelay = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		tracker:    t,
		backoff:    NewProviderBackoff(base, maxDelay),
		retries:    retries,
		baseDelay:  base,
		maxDelay:   maxDelay,
		gap:        100 * time.Millisecond,
		queues:     make(map[string]chan job),
	}
}

// Tracker returns the tracker the client reports to.
func (c *Client) Tracker() *tracker.Tracker {
	return c.tracker
}

// Get performs a GET request with queuing.
func (c *Client) Get(ctx context.Context, u string) ([]byte, error) {
	return c.GetWithHeaders(ctx, u, nil)
}

// GetWithHeaders performs a GET request with custom headers.
func (c *Client) GetWithHeaders(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.submit(ctx, req, headers)
}

// Post performs a POST request with queuing.
func (c *Client) Post(ctx context.Context, u string, body []byte, contentType string) ([]byte, error) {
	return c.PostWithHeaders(ctx, u, body, map[string]string{"Content-Type": contentType})
}

// PostWithHeaders performs a POST request with custom headers and queuing.
func (c *Client) PostWithHeaders(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.submit(ctx, req, headers)
}

func (c *Client) submit(ctx context.Context, req *http.Request, headers map[string]string) ([]byte, error) {
	if _, err := url.Parse(req.URL.String()); err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	provider := normalizeProvider(req.URL.Host)

	respChan := make(chan jobResult, 1)
	c.dispatch(provider, job{req: req, headers: headers, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

func normalizeProvider(host string) string {
	host = strings.ToLower(host)
	switch {
	case strings.HasSuffix(host, "googleapis.com"):
		return "gemini"
	case strings.HasSuffix(host, "anthropic.com"):
		return "anthropic"
	case strings.HasSuffix(host, "openai.com"):
		return "openai"
	case strings.HasSuffix(host, "groq.com"):
		return "groq"
	case strings.HasSuffix(host, "deepseek.com"):
		return "deepseek"
	case strings.HasSuffix(host, "openrouter.ai"):
		return "openrouter"
	}
	return host
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		go c.worker(provider, q)
	}
	c.mu.Unlock()

	// Blocks if the queue is full, throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		ctx := j.req.Context()
		if ctx.Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", ctx.Err())
			j.respChan <- jobResult{err: ctx.Err()}
			continue
		}

		uaSet := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaSet = true
			}
		}
		if !uaSet {
			j.req.Header.Set("User-Agent", version.UserAgent())
		}

		if err := c.backoff.Wait(ctx, provider); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}

		start := time.Now()
		body, err := c.executeWithBackoff(j.req)
		logging.RequestLogger.Info("request",
			"provider", provider,
			"method", j.req.Method,
			"path", j.req.URL.Path,
			"duration", time.Since(start),
			"error", err)

		if err == nil {
			c.tracker.TrackAPISuccess(provider)
			c.backoff.RecordSuccess(provider)
		} else {
			c.tracker.TrackAPIFailure(provider)
			if se, ok := AsStatusError(err); ok && se.Throttled() {
				c.backoff.RecordFailure(provider)
			}
		}

		j.respChan <- jobResult{body: body, err: err}

		// Safety gap between requests to the same host
		time.Sleep(c.gap)
	}
}

// executeWithBackoff retries network failures with exponential backoff.
// HTTP status errors are returned immediately.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to rewind request body: %w", err)
			}
			req.Body = body
		}

		slog.Debug("Network Request", "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			lastErr = err
			slog.Warn("Request failed, retrying", "host", req.URL.Host, "attempt", attempt+1, "error", err)

			select {
			case <-time.After(ExpDelay(c.baseDelay, c.maxDelay, attempt)):
				continue
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, &StatusError{Code: resp.StatusCode, Body: string(body), URL: req.URL.Redacted()}
		}
		if readErr != nil {
			return nil, fmt.Errorf("read error: %w", readErr)
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
