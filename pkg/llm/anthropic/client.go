package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"storyreel/pkg/config"
	"storyreel/pkg/llm"
	"storyreel/pkg/logging"
	"storyreel/pkg/request"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-5"
	defaultMaxTokens = 8192
	apiVersion       = "2023-06-01"

	jsonSystemPrompt = "Respond with a single valid JSON document and nothing else."
)

// Client implements llm.Provider for the Anthropic Messages API.
type Client struct {
	rc          *request.Client
	apiKey      string
	baseURL     string
	model       string
	profiles    map[string]string
	maxTokens   int
	temperature float32

	mu sync.RWMutex
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float32   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modelInfo struct {
	ID string `json:"id"`
}

type messagesResponse struct {
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClient creates a new Anthropic client.
func NewClient(cfg config.ProviderConfig, rc *request.Client) *Client {
	c := &Client{rc: rc}
	c.Configure(cfg)
	return c
}

// Configure updates the client with new settings.
func (c *Client) Configure(cfg config.ProviderConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.apiKey = cfg.Key
	c.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	c.model = cfg.Model
	if c.model == "" {
		c.model = defaultModel
	}
	c.profiles = cfg.Profiles
	c.maxTokens = cfg.MaxTokens
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	c.temperature = cfg.Temperature
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) HasProfile(profile string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey != ""
}

// HealthCheck lists the models visible to the key and checks the configured
// ones are among them.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	key, base := c.apiKey, c.baseURL
	c.mu.RUnlock()
	if key == "" {
		return fmt.Errorf("%w: anthropic api key is missing", llm.ErrUnauthorized)
	}

	body, err := c.rc.GetWithHeaders(ctx, base+"/v1/models?limit=1000", c.headers(key))
	if err != nil {
		return wrap(err)
	}

	var resp struct {
		Data []modelInfo `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to parse models response: %w", err)
	}

	available := make(map[string]bool, len(resp.Data))
	for _, m := range resp.Data {
		available[m.ID] = true
	}
	for _, m := range c.models() {
		// Aliases like claude-sonnet-4-5 resolve server side and are not listed.
		if !available[m] && !hasPrefixIn(m, resp.Data) {
			return fmt.Errorf("configured model %q not available", m)
		}
	}
	return nil
}

func (c *Client) GenerateText(ctx context.Context, profile, prompt string) (*llm.Response, error) {
	return c.generate(ctx, profile, prompt, "")
}

// GenerateJSON asks for JSON through the system prompt. The Messages API has
// no dedicated JSON mode.
func (c *Client) GenerateJSON(ctx context.Context, profile, prompt string) (*llm.Response, error) {
	return c.generate(ctx, profile, prompt, jsonSystemPrompt)
}

func (c *Client) generate(ctx context.Context, profile, prompt, system string) (*llm.Response, error) {
	c.mu.RLock()
	key, base := c.apiKey, c.baseURL
	req := messagesRequest{
		Model:       c.resolveModel(profile),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		System:      system,
		Messages:    []message{{Role: "user", Content: prompt}},
	}
	c.mu.RUnlock()

	if key == "" {
		return nil, fmt.Errorf("%w: anthropic api key is missing", llm.ErrUnauthorized)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.rc.PostWithHeaders(ctx, base+"/v1/messages", payload, c.headers(key))
	if err != nil {
		err = wrap(err)
		logging.LogPrompt(c.Name(), profile, prompt, fmt.Sprintf("ERROR: %v", err))
		return nil, err
	}

	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", llm.ErrMalformedOutput, err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	logging.LogPrompt(c.Name(), profile, prompt, text)

	if text == "" {
		return nil, fmt.Errorf("%w: no text content (stop reason %q)", llm.ErrMalformedOutput, resp.StopReason)
	}

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &llm.Response{
		Text:  text,
		Model: model,
		Usage: llm.Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}, nil
}

func (c *Client) headers(key string) map[string]string {
	return map[string]string{
		"x-api-key":         key,
		"anthropic-version": apiVersion,
		"Content-Type":      "application/json",
	}
}

// resolveModel must be called with c.mu held.
func (c *Client) resolveModel(profile string) string {
	if m, ok := c.profiles[profile]; ok && m != "" {
		return m
	}
	return c.model
}

func (c *Client) models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := []string{c.model}
	for _, m := range c.profiles {
		if m != "" && m != c.model {
			out = append(out, m)
		}
	}
	return out
}

func hasPrefixIn(alias string, data []modelInfo) bool {
	for _, d := range data {
		if strings.HasPrefix(d.ID, alias) {
			return true
		}
	}
	return false
}

func wrap(err error) error {
	if se, ok := request.AsStatusError(err); ok {
		return llm.WrapStatus(se.Code, fmt.Errorf("anthropic: %w", err))
	}
	return fmt.Errorf("anthropic: %w", err)
}
