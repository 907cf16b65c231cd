// Package probe runs startup checks before a pipeline command does any work.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 10 * time.Second

// CheckFunc returns nil when the checked dependency is usable.
type CheckFunc func(ctx context.Context) error

// Probe is a single named startup check.
type Probe struct {
	Name     string
	Check    CheckFunc
	Critical bool          // a failure aborts startup
	Timeout  time.Duration // zero means DefaultTimeout
}

// Result holds the outcome of a single probe.
type Result struct {
	Probe    Probe
	Error    error
	Duration time.Duration
}

// Run executes probes in order, each under its own timeout. A cancelled
// parent context fails the remaining probes without running them.
func Run(ctx context.Context, probes []Probe) []Result {
	results := make([]Result, len(probes))
	for i, p := range probes {
		if err := ctx.Err(); err != nil {
			results[i] = Result{Probe: p, Error: err}
			continue
		}
		timeout := p.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := p.Check(checkCtx)
		cancel()
		results[i] = Result{Probe: p, Error: err, Duration: time.Since(start)}
	}
	return results
}

// AnalyzeResults logs every result and joins the errors of failed critical
// probes.
func AnalyzeResults(results []Result) error {
	var critical []error
	slog.Info("Startup checks")
	for _, r := range results {
		status := "PASS"
		if r.Error != nil {
			status = "FAIL"
		}
		msg := fmt.Sprintf("[%s] %-20s (%v)", status, r.Probe.Name, r.Duration.Round(time.Millisecond))
		switch {
		case r.Error == nil:
			slog.Info(msg)
		case r.Probe.Critical:
			slog.Error(msg, "error", r.Error)
			critical = append(critical, fmt.Errorf("%s: %w", r.Probe.Name, r.Error))
		default:
			slog.Warn(msg, "error", r.Error)
		}
	}
	return errors.Join(critical...)
}

// Pinger is satisfied by the SQLite store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Database checks the database connection.
func Database(p Pinger) Probe {
	return Probe{Name: "Database", Check: p.Ping, Critical: true}
}

// HealthChecker is satisfied by every LLM provider.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// LLM checks that the provider chain is configured and reachable.
func LLM(h HealthChecker) Probe {
	return Probe{Name: "LLM Providers", Check: h.HealthCheck, Critical: true, Timeout: 30 * time.Second}
}

// WritableDir checks that dir exists or can be created and accepts files.
func WritableDir(name, dir string, critical bool) Probe {
	return Probe{
		Name:     name,
		Critical: critical,
		Check: func(context.Context) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
			f, err := os.CreateTemp(dir, ".probe-*")
			if err != nil {
				return err
			}
			tmp := f.Name()
			f.Close()
			return os.Remove(tmp)
		},
	}
}
