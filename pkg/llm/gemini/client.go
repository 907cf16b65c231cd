package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"

	"storyreel/pkg/config"
	"storyreel/pkg/llm"
	"storyreel/pkg/logging"
	"storyreel/pkg/tracker"
)

const defaultModel = "gemini-2.5-flash"

// Client implements llm.Provider for Google Gemini.
type Client struct {
	genaiClient *genai.Client
	modelName   string
	profiles    map[string]string // call profile -> model
	maxTokens   int32
	temperature float32
	tracker     *tracker.Tracker

	mu sync.RWMutex
}

// NewClient creates a new Gemini client.
func NewClient(cfg config.ProviderConfig, t *tracker.Tracker) (*Client, error) {
	c := &Client{tracker: t}
	if err := c.Configure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Configure updates the client with new settings.
func (c *Client) Configure(cfg config.ProviderConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.modelName = cfg.Model
	if c.modelName == "" {
		c.modelName = defaultModel
	}
	c.profiles = cfg.Profiles
	c.maxTokens = int32(cfg.MaxTokens)
	c.temperature = cfg.Temperature

	if cfg.Key == "" {
		c.genaiClient = nil
		return nil
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.Key,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create genai client: %w", err)
	}
	c.genaiClient = client
	return nil
}

// Close releases the underlying client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.genaiClient = nil
}

func (c *Client) Name() string { return "gemini" }

// HasProfile reports whether the client can serve the profile. Every profile
// falls back to the default model, so a configured client serves them all.
func (c *Client) HasProfile(profile string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.genaiClient != nil
}

// HealthCheck verifies the configured model is visible to the API key.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	client := c.genaiClient
	model := c.modelName
	c.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("%w: gemini client not configured", llm.ErrUnauthorized)
	}
	return validateModel(ctx, client, model)
}

// GenerateText sends a prompt and returns the text response.
func (c *Client) GenerateText(ctx context.Context, profile, prompt string) (*llm.Response, error) {
	return c.generate(ctx, profile, prompt, false)
}

// GenerateJSON sends a prompt in JSON response mode. The raw text is returned.
func (c *Client) GenerateJSON(ctx context.Context, profile, prompt string) (*llm.Response, error) {
	return c.generate(ctx, profile, prompt, true)
}

func (c *Client) generate(ctx context.Context, profile, prompt string, jsonMode bool) (*llm.Response, error) {
	c.mu.RLock()
	client := c.genaiClient
	c.mu.RUnlock()

	if client == nil {
		return nil, fmt.Errorf("%w: gemini client not configured", llm.ErrUnauthorized)
	}

	modelName, cfg := c.resolveModel(profile)
	if jsonMode {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := client.Models.GenerateContent(ctx, modelName, genai.Text(prompt), cfg)
	if err != nil {
		logging.LogPrompt(c.Name(), profile, prompt, fmt.Sprintf("ERROR: %v", err))
		c.trackFailure()
		return nil, mapError(err)
	}

	text, err := responseText(resp)
	if err != nil {
		logging.LogPrompt(c.Name(), profile, prompt, fmt.Sprintf("TEXT_PARSE_ERROR: %v", err))
		c.trackFailure()
		return nil, err
	}

	logging.LogPrompt(c.Name(), profile, prompt, text)
	if c.tracker != nil {
		c.tracker.TrackAPISuccess(c.Name())
	}
	return &llm.Response{Text: text, Model: modelName, Usage: usageOf(resp)}, nil
}

func (c *Client) trackFailure() {
	if c.tracker != nil {
		c.tracker.TrackAPIFailure(c.Name())
	}
}

// resolveModel returns the target model and generation settings for a profile.
func (c *Client) resolveModel(profile string) (string, *genai.GenerateContentConfig) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	target := c.modelName
	if m, ok := c.profiles[profile]; ok && m != "" {
		target = m
	}

	temp := c.temperature
	cfg := &genai.GenerateContentConfig{Temperature: &temp}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	return target, cfg
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates returned", llm.ErrMalformedOutput)
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return "", fmt.Errorf("%w: empty candidate (finish reason %s)", llm.ErrMalformedOutput, cand.FinishReason)
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), nil
}

func usageOf(resp *genai.GenerateContentResponse) llm.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

// mapError tags API errors with the sentinel for their HTTP code.
func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.WrapStatus(apiErr.Code, fmt.Errorf("gemini: %w", err))
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return llm.WrapStatus(apiErrPtr.Code, fmt.Errorf("gemini: %w", err))
	}
	return fmt.Errorf("gemini: %w", err)
}

// validateModel checks if the configured model is available for the API key.
// On failure the available gemini models are logged to help fix the config.
func validateModel(ctx context.Context, client *genai.Client, model string) error {
	name := model
	if !strings.HasPrefix(name, "models/") {
		name = "models/" + name
	}

	_, err := client.Models.Get(ctx, name, nil)
	if err == nil {
		slog.Debug("Gemini model validation success", "model", model)
		return nil
	}
	err = mapError(err)

	slog.Warn("Gemini model validation failed, fetching available models...", "model", model, "error", err)

	var available []string
	page, listErr := client.Models.List(ctx, nil)
	for pages := 0; listErr == nil && pages < 5; pages++ {
		for _, m := range page.Items {
			if m != nil && strings.Contains(strings.ToLower(m.Name), "gemini") {
				available = append(available, m.Name)
			}
		}
		page, listErr = page.Next(ctx)
	}
	if len(available) > 0 {
		slog.Error("Configured model not found", "configured", model, "available", strings.Join(available, ", "))
	}
	return err
}
