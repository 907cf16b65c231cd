// Package providers builds the configured LLM provider chain.
package providers

import (
	"fmt"
	"log/slog"

	"storyreel/pkg/config"
	"storyreel/pkg/llm"
	"storyreel/pkg/llm/anthropic"
	"storyreel/pkg/llm/failover"
	"storyreel/pkg/llm/gemini"
	"storyreel/pkg/llm/openai"
	"storyreel/pkg/request"
	"storyreel/pkg/tracker"
)

// New returns the provider chain for cfg.Fallback. A single entry is returned
// unwrapped; longer chains go through failover.
func New(cfg config.LLMConfig, rc *request.Client, t *tracker.Tracker) (llm.Provider, error) {
	if len(cfg.Fallback) == 0 {
		return nil, fmt.Errorf("no llm providers configured in fallback list")
	}

	var chain []llm.Provider
	var names []string
	for _, name := range cfg.Fallback {
		pCfg, ok := cfg.Providers[name]
		if !ok {
			return nil, fmt.Errorf("provider %q not found in config", name)
		}
		p, err := newProvider(pCfg, rc, t)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", name, err)
		}
		if pCfg.Key == "" {
			slog.Warn("LLM provider has no API key", "provider", name, "type", pCfg.Type)
		}
		chain = append(chain, p)
		names = append(names, name)
	}

	if len(chain) == 1 {
		return chain[0], nil
	}
	return failover.New(chain, names)
}

func newProvider(cfg config.ProviderConfig, rc *request.Client, t *tracker.Tracker) (llm.Provider, error) {
	switch cfg.Type {
	case "anthropic":
		return anthropic.NewClient(cfg, rc), nil
	case "gemini":
		return gemini.NewClient(cfg, t)
	case "openai", "groq", "deepseek", "openrouter":
		return openai.NewClient(cfg, rc)
	default:
		return nil, fmt.Errorf("unknown llm provider type: %s", cfg.Type)
	}
}
