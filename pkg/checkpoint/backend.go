package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"storyreel/pkg/store"
)

// ErrNoCheckpoint is returned by backends when nothing is stored under a key.
var ErrNoCheckpoint = errors.New("no checkpoint")

// Backend persists raw checkpoint snapshots by key.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// FileBackend stores each snapshot as {key}_checkpoint.json in a directory.
type FileBackend struct {
	dir string
}

// NewFileBackend returns a backend rooted at dir. The directory is created on first write.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, key+"_checkpoint.json")
}

func (b *FileBackend) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoCheckpoint
	}
	return data, err
}

// Write replaces the snapshot atomically: the data goes to a temp file in the
// same directory which is then renamed over the target.
func (b *FileBackend) Write(_ context.Context, key string, data []byte) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(b.dir, key+"_*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, b.path(key)); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func (b *FileBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(b.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (b *FileBackend) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(b.path(key))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// StateBackend keeps snapshots in the persistent_state table.
type StateBackend struct {
	state store.StateStore
}

// NewStateBackend returns a backend over a state store.
func NewStateBackend(s store.StateStore) *StateBackend {
	return &StateBackend{state: s}
}

func stateKey(key string) string { return "checkpoint:" + key }

func (b *StateBackend) Read(ctx context.Context, key string) ([]byte, error) {
	v, ok := b.state.GetState(ctx, stateKey(key))
	if !ok {
		return nil, ErrNoCheckpoint
	}
	return []byte(v), nil
}

func (b *StateBackend) Write(ctx context.Context, key string, data []byte) error {
	return b.state.SetState(ctx, stateKey(key), string(data))
}

func (b *StateBackend) Delete(ctx context.Context, key string) error {
	return b.state.DeleteState(ctx, stateKey(key))
}

func (b *StateBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := b.state.GetState(ctx, stateKey(key))
	return ok, nil
}
