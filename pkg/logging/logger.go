package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"storyreel/pkg/config"
)

// RequestLogger is the logger instance for outbound HTTP requests.
var RequestLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// promptLog receives the full prompt/response history of LLM calls.
var (
	promptLog   io.Writer
	promptLogMu sync.Mutex
)

// Init initializes the logging system based on configuration.
// It returns a cleanup function to close log files.
func Init(cfg *config.LogConfig) (func(), error) {
	// Rotate standard log files at startup
	rotatePaths(cfg.Server.Path, cfg.Requests.Path, cfg.LLM.Path)

	var closers []io.Closer

	// 1. Server Logger (Stdout + File)
	serverHandler, w1, err := setupHandler(cfg, cfg.Server, true)
	if err != nil {
		return nil, fmt.Errorf("failed to setup server logger: %w", err)
	}
	closers = append(closers, w1)
	slog.SetDefault(slog.New(serverHandler))

	// 2. Requests Logger (File Only)
	requestHandler, w2, err := setupHandler(cfg, cfg.Requests, false)
	if err != nil {
		w1.Close()
		return nil, fmt.Errorf("failed to setup requests logger: %w", err)
	}
	closers = append(closers, w2)
	RequestLogger = slog.New(requestHandler)

	// 3. Prompt history (File Only, plain text)
	if cfg.LLM.Path != "" {
		w3, err := newWriter(cfg, cfg.LLM.Path)
		if err != nil {
			w1.Close()
			w2.Close()
			return nil, fmt.Errorf("failed to setup llm logger: %w", err)
		}
		closers = append(closers, w3)
		promptLogMu.Lock()
		promptLog = w3
		promptLogMu.Unlock()
	}

	return func() {
		promptLogMu.Lock()
		promptLog = nil
		promptLogMu.Unlock()
		for _, c := range closers {
			c.Close()
		}
	}, nil
}

// ParseLevel maps a config level name to a slog level. Unknown names map to INFO.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newWriter(cfg *config.LogConfig, path string) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}, nil
}

func setupHandler(cfg *config.LogConfig, s config.LogSettings, stdout bool) (slog.Handler, *lumberjack.Logger, error) {
	level := ParseLevel(s.Level)

	w, err := newWriter(cfg, s.Path)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	fileHandler := slog.NewTextHandler(w, opts)

	if !stdout {
		return fileHandler, w, nil
	}

	// Console only shows INFO and up unless the file is even stricter
	consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: max(level, slog.LevelInfo),
	})

	return &multiHandler{handlers: []slog.Handler{fileHandler, consoleHandler}}, w, nil
}

type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler
// nolint:gocritic // r must be passed by value to implement slog.Handler
func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: newHandlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		newHandlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: newHandlers}
}

// rotatePaths renames existing log files to .old so each run starts fresh
// while keeping the previous run around.
func rotatePaths(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			oldPath := p + ".old"
			_ = os.Remove(oldPath)
			_ = os.Rename(p, oldPath)
		}
	}
}

// LogPrompt appends one prompt/response exchange to the LLM history log.
// It is a no-op until Init has configured a history path.
func LogPrompt(provider, profile, prompt, response string) {
	promptLogMu.Lock()
	defer promptLogMu.Unlock()

	if promptLog == nil {
		return
	}

	entry := fmt.Sprintf("[%s] %s/%s\nPROMPT_TEXT:\n%s\n\nRESPONSE:\n%s\n%s\n",
		time.Now().Format("2006-01-02 15:04:05"), provider, profile,
		truncateLines(prompt, 400), response, strings.Repeat("-", 80))

	_, _ = io.WriteString(promptLog, entry)
}

// truncateLines shortens long lines (novel excerpts) so the history stays readable.
func truncateLines(text string, maxLen int) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if len(line) > maxLen {
			lines[i] = line[:maxLen] + "..."
		}
	}
	return strings.Join(lines, "\n")
}
