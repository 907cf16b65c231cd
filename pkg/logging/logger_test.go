package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storyreel/pkg/config"
)

func testLogConfig(dir string) *config.LogConfig {
	return &config.LogConfig{
		Server:     config.LogSettings{Path: filepath.Join(dir, "server.log"), Level: "DEBUG"},
		Requests:   config.LogSettings{Path: filepath.Join(dir, "requests.log"), Level: "INFO"},
		LLM:        config.LogSettings{Path: filepath.Join(dir, "llm.log"), Level: "INFO"},
		MaxSizeMB:  1,
		MaxBackups: 1,
	}
}

func TestInit(t *testing.T) {
	tempDir := t.TempDir()
	cfg := testLogConfig(tempDir)

	cleanup, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	slog.Info("hello from test")
	RequestLogger.Info("request line")
	LogPrompt("gemini", "tone", "PROMPT BODY", "RESPONSE BODY")
	cleanup()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	server, err := os.ReadFile(cfg.Server.Path)
	if err != nil {
		t.Fatalf("server log not written: %v", err)
	}
	if !strings.Contains(string(server), "hello from test") {
		t.Errorf("server log missing entry: %q", server)
	}

	requests, err := os.ReadFile(cfg.Requests.Path)
	if err != nil {
		t.Fatalf("request log not written: %v", err)
	}
	if !strings.Contains(string(requests), "request line") {
		t.Errorf("request log missing entry: %q", requests)
	}

	history, err := os.ReadFile(cfg.LLM.Path)
	if err != nil {
		t.Fatalf("llm log not written: %v", err)
	}
	for _, want := range []string{"gemini/tone", "PROMPT BODY", "RESPONSE BODY"} {
		if !strings.Contains(string(history), want) {
			t.Errorf("llm log missing %q", want)
		}
	}
}

func TestInit_RotatesPreviousRun(t *testing.T) {
	tempDir := t.TempDir()
	cfg := testLogConfig(tempDir)

	if err := os.WriteFile(cfg.Server.Path, []byte("previous run\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cleanup, err := Init(cfg)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	cleanup()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	old, err := os.ReadFile(cfg.Server.Path + ".old")
	if err != nil {
		t.Fatalf("expected rotated log: %v", err)
	}
	if string(old) != "previous run\n" {
		t.Errorf("rotated log content = %q", old)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLogPrompt_NoopWithoutInit(t *testing.T) {
	// Must not panic when no history writer is configured.
	LogPrompt("x", "y", "prompt", "response")
}
