// Package export writes pipeline artifacts to a directory and, optionally,
// an S3-compatible bucket.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink stores an artifact under a slash-separated key.
type Sink interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// DirSink writes artifacts below a root directory.
type DirSink struct {
	root string
}

// NewDirSink returns a sink rooted at root. Directories are created on write.
func NewDirSink(root string) *DirSink {
	return &DirSink{root: root}
}

// Root returns the directory artifacts are written to.
func (s *DirSink) Root() string { return s.root }

// Put replaces the file for key atomically.
func (s *DirSink) Put(_ context.Context, key string, data []byte, _ string) error {
	if key == "" || strings.Contains(key, "..") {
		return fmt.Errorf("invalid artifact key %q", key)
	}
	target := filepath.Join(s.root, filepath.FromSlash(key))
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	return os.Rename(tmpName, target)
}

// MultiSink writes every artifact to all of its sinks. A failing sink does
// not stop the others; the errors are joined.
type MultiSink []Sink

func (m MultiSink) Put(ctx context.Context, key string, data []byte, contentType string) error {
	var errs []error
	for _, s := range m {
		if err := s.Put(ctx, key, data, contentType); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
