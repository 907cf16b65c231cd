package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Request  RequestConfig  `yaml:"request"`
	Log      LogConfig      `yaml:"log"`
	DB       DBConfig       `yaml:"db"`
	Output   OutputConfig   `yaml:"output"`
	Notify   NotifyConfig   `yaml:"notify"`
	Ingest   IngestConfig   `yaml:"ingest"`
}

// LLMConfig holds the provider chain and the retry policy applied around it.
type LLMConfig struct {
	Providers    map[string]ProviderConfig `yaml:"providers"`
	Fallback     []string                  `yaml:"fallback"`       // Ordered provider names
	RateLimitRPM int                       `yaml:"rate_limit_rpm"` // 0 disables pacing
	Retry        RetryConfig               `yaml:"retry"`
}

// ProviderConfig holds settings for a single text-generation backend.
type ProviderConfig struct {
	Type        string            `yaml:"type"` // anthropic, gemini, openai, groq, deepseek, openrouter
	Key         string            `yaml:"key"`
	BaseURL     string            `yaml:"base_url,omitempty"`
	Model       string            `yaml:"model"`
	MaxTokens   int               `yaml:"max_tokens"`
	Temperature float32           `yaml:"temperature"`
	Profiles    map[string]string `yaml:"profiles,omitempty"` // Map of call profile -> model override
}

// RetryConfig controls the classified retry policy of the LLM caller.
type RetryConfig struct {
	BaseDelay         Duration `yaml:"base_delay"`
	MaxDelay          Duration `yaml:"max_delay"`
	TransientAttempts int      `yaml:"transient_attempts"`
	OtherAttempts     int      `yaml:"other_attempts"`
}

// PipelineConfig holds settings shared by the extraction stages.
type PipelineConfig struct {
	BatchSize         int      `yaml:"batch_size"`
	CallDelay         Duration `yaml:"call_delay"`
	MergeThreshold    int      `yaml:"merge_threshold"`
	SampleSize        int      `yaml:"sample_size"`
	CheckpointEvery   int      `yaml:"checkpoint_every"`
	UseCheckpoints    bool     `yaml:"use_checkpoints"`
	CheckpointBackend string   `yaml:"checkpoint_backend"` // file, sqlite
	ContinuityCheck   bool     `yaml:"continuity_check"`
	LockTTL           Duration `yaml:"lock_ttl"`
	PromptsDir        string   `yaml:"prompts_dir,omitempty"` // Overrides the embedded templates
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Timeout Duration      `yaml:"timeout"`
	Retries int           `yaml:"retries"` // Network-level retries, status errors are returned
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server     LogSettings `yaml:"server"`
	Requests   LogSettings `yaml:"requests"`
	LLM        LogSettings `yaml:"llm"`
	MaxSizeMB  int         `yaml:"max_size_mb"`
	MaxBackups int         `yaml:"max_backups"`
	MaxAgeDays int         `yaml:"max_age_days"`
	Compress   bool        `yaml:"compress"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// OutputConfig holds artifact locations.
type OutputConfig struct {
	Dir           string   `yaml:"dir"`
	CheckpointDir string   `yaml:"checkpoint_dir"`
	S3            S3Config `yaml:"s3"`
}

// S3Config configures an optional S3-compatible export bucket (AWS, R2, MinIO).
type S3Config struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// NotifyConfig configures run-event publishing.
type NotifyConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// IngestConfig holds chunking settings.
type IngestConfig struct {
	ChunkTokens   int `yaml:"chunk_tokens"`
	OverlapTokens int `yaml:"overlap_tokens"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Providers: map[string]ProviderConfig{
				"anthropic": {
					Type:        "anthropic",
					Model:       "claude-sonnet-4-5",
					MaxTokens:   8192,
					Temperature: 0,
				},
				"gemini": {
					Type:        "gemini",
					Model:       "gemini-2.5-flash",
					MaxTokens:   8192,
					Temperature: 0,
				},
			},
			Fallback:     []string{"anthropic"},
			RateLimitRPM: 0,
			Retry: RetryConfig{
				BaseDelay:         Duration(2 * time.Second),
				MaxDelay:          Duration(60 * time.Second),
				TransientAttempts: 10,
				OtherAttempts:     3,
			},
		},
		Pipeline: PipelineConfig{
			BatchSize:         10,
			CallDelay:         Duration(2 * time.Second),
			MergeThreshold:    5,
			SampleSize:        10,
			CheckpointEvery:   10,
			UseCheckpoints:    true,
			CheckpointBackend: "file",
			ContinuityCheck:   false,
			LockTTL:           Duration(12 * time.Hour),
		},
		Request: RequestConfig{
			Timeout: Duration(300 * time.Second),
			Retries: 3,
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(10 * time.Second),
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
			LLM: LogSettings{
				Path:  "./logs/llm.log",
				Level: "INFO",
			},
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		DB: DBConfig{
			Path: "./output/pipeline.db",
		},
		Output: OutputConfig{
			Dir:           "./output",
			CheckpointDir: "./output/checkpoints",
			S3: S3Config{
				Region: "auto",
				Prefix: "storyreel",
			},
		},
		Notify: NotifyConfig{
			SubjectPrefix: "storyreel.runs",
		},
		Ingest: IngestConfig{
			ChunkTokens:   800,
			OverlapTokens: 100,
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// A .env file in the working directory is read first; values already in the environment win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	// Env fallbacks are applied in memory only, never saved back to disk.
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envKeys = map[string]string{
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"groq":       "GROQ_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

func applyEnv(cfg *Config) {
	for name, p := range cfg.LLM.Providers {
		if p.Key == "" {
			if env, ok := envKeys[p.Type]; ok {
				p.Key = os.Getenv(env)
			}
		}
		if p.Type == "anthropic" {
			if model := os.Getenv("ANTHROPIC_MODEL"); model != "" {
				p.Model = model
			}
		}
		cfg.LLM.Providers[name] = p
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DB.Path = v
	}
	if cfg.Notify.NATSURL == "" {
		cfg.Notify.NATSURL = os.Getenv("NATS_URL")
	}
	if cfg.Output.S3.AccessKey == "" {
		cfg.Output.S3.AccessKey = os.Getenv("S3_ACCESS_KEY")
	}
	if cfg.Output.S3.SecretKey == "" {
		cfg.Output.S3.SecretKey = os.Getenv("S3_SECRET_KEY")
	}
}

// Validate checks the settings the pipeline cannot run without.
func (c *Config) Validate() error {
	if len(c.LLM.Fallback) == 0 {
		return fmt.Errorf("llm.fallback must name at least one provider")
	}
	for _, name := range c.LLM.Fallback {
		if _, ok := c.LLM.Providers[name]; !ok {
			return fmt.Errorf("llm.fallback references unknown provider %q", name)
		}
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.CheckpointEvery <= 0 {
		return fmt.Errorf("pipeline.checkpoint_every must be positive, got %d", c.Pipeline.CheckpointEvery)
	}
	switch c.Pipeline.CheckpointBackend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("pipeline.checkpoint_backend must be file or sqlite, got %q", c.Pipeline.CheckpointBackend)
	}
	if c.Ingest.OverlapTokens >= c.Ingest.ChunkTokens {
		return fmt.Errorf("ingest.overlap_tokens (%d) must be below chunk_tokens (%d)", c.Ingest.OverlapTokens, c.Ingest.ChunkTokens)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# storyreel configuration
# ------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
# API keys left empty are read from the environment (or .env):
#   ANTHROPIC_API_KEY, GEMINI_API_KEY, OPENAI_API_KEY, GROQ_API_KEY, DEEPSEEK_API_KEY, OPENROUTER_API_KEY

`)
	data = append(header, data...)

	reType := regexp.MustCompile(`(?m)^(\s+)type:`)
	data = reType.ReplaceAll(data, []byte("${1}# Options: anthropic, gemini, openai, groq, deepseek, openrouter\n${1}type:"))

	reBackend := regexp.MustCompile(`(?m)^(\s+)checkpoint_backend:`)
	data = reBackend.ReplaceAll(data, []byte("${1}# Options: file, sqlite\n${1}checkpoint_backend:"))

	reRPM := regexp.MustCompile(`(?m)^(\s+)rate_limit_rpm:`)
	data = reRPM.ReplaceAll(data, []byte("${1}# Requests per minute across all calls; 0 disables\n${1}rate_limit_rpm:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
