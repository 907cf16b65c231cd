package openai

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

// BaseURLs of the OpenAI-compatible services known by type.
var BaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"deepseek":   "https://api.deepseek.com",
	"openrouter": "https://openrouter.ai/api/v1",
}

// Client implements llm.Provider for any OpenAI-compatible API.
type Client struct {
	rc          *request.Client
	apiKey      string
	baseURL     string
	model       string
	profiles    map[string]string
	maxTokens   int
	temperature float32
	label       string

	mu sync.RWMutex
}

// Request follows the standard OpenAI Chat Completions format.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Temperature    float32         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// Response follows the standard Chat Completions response format.
type Response struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewClient creates a client. The base URL comes from the config or, failing
// that, from the preset for cfg.Type.
func NewClient(cfg config.ProviderConfig, rc *request.Client) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = BaseURLs[cfg.Type]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base_url is required for provider type %q", cfg.Type)
	}

	label := cfg.Type
	if label == "" {
		label = "openai"
	}

	return &Client{
		rc:          rc,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      cfg.Key,
		model:       cfg.Model,
		profiles:    cfg.Profiles,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		label:       label,
	}, nil
}

func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.label
}

// HealthCheck lists the models of the endpoint and checks every configured
// model is among them.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: %s api key is missing", llm.ErrUnauthorized, c.Name())
	}

	u := c.baseURL + "/models"
	respBody, err := c.rc.GetWithHeaders(ctx, u, c.headers())
	if err != nil {
		return c.wrap(err)
	}

	var mresp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &mresp); err != nil {
		return fmt.Errorf("failed to parse models response: %w", err)
	}

	available := make(map[string]bool, len(mresp.Data))
	for _, m := range mresp.Data {
		available[m.ID] = true
	}

	var missing []string
	for _, model := range c.models() {
		if !available[model] {
			missing = append(missing, model)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("configured models %v not found at %s", missing, u)
	}
	return nil
}

func (c *Client) GenerateText(ctx context.Context, profile, prompt string) (*llm.Response, error) {
	return c.generate(ctx, profile, prompt, false)
}

// GenerateJSON requests json_object output. Reasoning models don't support
// the mode and only get the prompt hint.
func (c *Client) GenerateJSON(ctx context.Context, profile, prompt string) (*llm.Response, error) {
	// OpenAI-compatible providers require "json" in the prompt for json_object mode.
	if !strings.Contains(strings.ToLower(prompt), "json") {
		prompt += "\n\nRespond in JSON."
	}
	return c.generate(ctx, profile, prompt, true)
}

func (c *Client) generate(ctx context.Context, profile, prompt string, jsonMode bool) (*llm.Response, error) {
	model, err := c.ResolveModel(profile)
	if err != nil {
		return nil, err
	}

	req := Request{
		Model:       model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if isReasoner(model) {
		req.Temperature = 1.0
	} else if jsonMode {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	resp, err := c.Execute(ctx, req)
	if err != nil {
		logging.LogPrompt(c.Name(), profile, prompt, fmt.Sprintf("ERROR: %v", err))
		return nil, err
	}
	logging.LogPrompt(c.Name(), profile, prompt, resp.Text)
	return resp, nil
}

// Execute posts a chat completion request.
func (c *Client) Execute(ctx context.Context, oreq Request) (*llm.Response, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: %s api key is missing", llm.ErrUnauthorized, c.Name())
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.rc.PostWithHeaders(ctx, c.baseURL+"/chat/completions", body, c.headers())
	if err != nil {
		return nil, c.wrap(err)
	}

	var oresp Response
	if err := json.Unmarshal(respBody, &oresp); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal response: %v", llm.ErrMalformedOutput, err)
	}
	if oresp.Error != nil {
		return nil, fmt.Errorf("%s api error: %s (%s)", c.Name(), oresp.Error.Message, oresp.Error.Type)
	}
	if len(oresp.Choices) == 0 {
		return nil, fmt.Errorf("%w: api returned no choices", llm.ErrMalformedOutput)
	}

	model := oresp.Model
	if model == "" {
		model = oreq.Model
	}
	return &llm.Response{
		Text:  oresp.Choices[0].Message.Content,
		Model: model,
		Usage: llm.Usage{InputTokens: oresp.Usage.PromptTokens, OutputTokens: oresp.Usage.CompletionTokens},
	}, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  "application/json",
	}
}

func (c *Client) wrap(err error) error {
	if se, ok := request.AsStatusError(err); ok {
		return llm.WrapStatus(se.Code, fmt.Errorf("%s: %w", c.Name(), err))
	}
	return fmt.Errorf("%s: %w", c.Name(), err)
}

func (c *Client) HasProfile(profile string) bool {
	_, err := c.ResolveModel(profile)
	return err == nil && c.apiKey != ""
}

// ResolveModel returns the model for a profile, falling back to the default.
func (c *Client) ResolveModel(profile string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if model, ok := c.profiles[profile]; ok && model != "" {
		return model, nil
	}
	if c.model != "" {
		return c.model, nil
	}
	return "", fmt.Errorf("profile %q not configured and no default model", profile)
}

func (c *Client) models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := map[string]bool{}
	var out []string
	add := func(m string) {
		if m != "" && !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	add(c.model)
	for _, m := range c.profiles {
		add(m)
	}
	return out
}

func isReasoner(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "reasoner") || strings.Contains(m, "r1")
}
