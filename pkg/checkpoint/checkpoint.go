// Package checkpoint persists stage progress so long extraction runs can resume.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pipelines that keep checkpoints.
const (
	PipelineBible      = "bible"
	PipelineScreenplay = "screenplay"
	PipelineBreakdown  = "breakdown"
)

const (
	stageKey     = "stage"
	timestampKey = "timestamp"
)

// Record is a checkpoint snapshot: stage label plus arbitrary JSON payloads by key.
type Record map[string]json.RawMessage

// Stage returns the stage label, or "" if unset.
func (r Record) Stage() string {
	var s string
	if raw, ok := r[stageKey]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// Has reports whether the key is present.
func (r Record) Has(key string) bool {
	_, ok := r[key]
	return ok
}

// Decode unmarshals the value at key into v. If v has a Validate method it is
// run too. A failure means the sub-stage should be recomputed.
func (r Record) Decode(key string, v any) error {
	raw, ok := r[key]
	if !ok {
		return fmt.Errorf("checkpoint key %q: %w", key, ErrNoCheckpoint)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("checkpoint key %q: %w", key, err)
	}
	if val, ok := v.(interface{ Validate() error }); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("checkpoint key %q: %w", key, err)
		}
	}
	return nil
}

// Set marshals v under key.
func (r Record) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("checkpoint key %q: %w", key, err)
	}
	r[key] = raw
	return nil
}

// Partial builds a Record from plain values. Marshal failures are returned.
func Partial(values map[string]any) (Record, error) {
	r := make(Record, len(values))
	for k, v := range values {
		if err := r.Set(k, v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Checkpoint is the snapshot of one pipeline for one novel.
// All methods are safe for concurrent use and never fail the caller:
// backend errors are logged at WARN.
type Checkpoint struct {
	backend Backend
	key     string
	mu      sync.Mutex
}

// New returns the checkpoint for novelID and pipeline.
func New(b Backend, novelID, pipeline string) *Checkpoint {
	return &Checkpoint{backend: b, key: novelID + "_" + pipeline}
}

// Key returns the backend key.
func (c *Checkpoint) Key() string { return c.key }

// Save overwrites the whole snapshot.
func (c *Checkpoint) Save(ctx context.Context, rec Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.save(ctx, rec)
}

func (c *Checkpoint) save(ctx context.Context, rec Record) {
	if err := rec.Set(timestampKey, time.Now().UTC()); err != nil {
		slog.Warn("Checkpoint timestamp failed", "key", c.key, "error", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		slog.Warn("Checkpoint marshal failed", "key", c.key, "error", err)
		return
	}
	if err := c.backend.Write(ctx, c.key, data); err != nil {
		slog.Warn("Checkpoint save failed", "key", c.key, "error", err)
		return
	}
	slog.Debug("Checkpoint saved", "key", c.key, "stage", rec.Stage())
}

// Load returns the snapshot. It reports false when none exists or it cannot be parsed.
func (c *Checkpoint) Load(ctx context.Context) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

func (c *Checkpoint) load(ctx context.Context) (Record, bool) {
	data, err := c.backend.Read(ctx, c.key)
	if err != nil {
		if !errors.Is(err, ErrNoCheckpoint) {
			slog.Warn("Checkpoint load failed", "key", c.key, "error", err)
		}
		return nil, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil || rec == nil {
		slog.Warn("Checkpoint unreadable, ignoring", "key", c.key, "error", err)
		return nil, false
	}
	return rec, true
}

// Update loads the snapshot, sets stage, merges partial over it and saves.
func (c *Checkpoint) Update(ctx context.Context, stage string, partial Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.load(ctx)
	if !ok {
		rec = Record{}
	}
	for k, v := range partial {
		rec[k] = v
	}
	if err := rec.Set(stageKey, stage); err != nil {
		slog.Warn("Checkpoint stage failed", "key", c.key, "error", err)
	}
	c.save(ctx, rec)
}

// Clear removes the snapshot.
func (c *Checkpoint) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.backend.Delete(ctx, c.key); err != nil {
		slog.Warn("Checkpoint clear failed", "key", c.key, "error", err)
		return
	}
	slog.Debug("Checkpoint cleared", "key", c.key)
}

// Exists reports whether a snapshot is stored.
func (c *Checkpoint) Exists(ctx context.Context) bool {
	ok, err := c.backend.Exists(ctx, c.key)
	if err != nil {
		slog.Warn("Checkpoint exists check failed", "key", c.key, "error", err)
	}
	return ok
}

// Nop returns a checkpoint that never stores anything, used when checkpoints are disabled.
func Nop() *Checkpoint {
	return &Checkpoint{backend: nopBackend{}, key: "nop"}
}

type nopBackend struct{}

func (nopBackend) Read(context.Context, string) ([]byte, error) { return nil, ErrNoCheckpoint }
func (nopBackend) Write(context.Context, string, []byte) error  { return nil }
func (nopBackend) Delete(context.Context, string) error         { return nil }
func (nopBackend) Exists(context.Context, string) (bool, error) { return false, nil }
