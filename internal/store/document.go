// Package store persists whole JSON documents. Every write replaces the file
// atomically, and every read-modify-write runs in a critical section keyed by
// the document path.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

var fileLocks sync.Map // path -> *sync.Mutex

func lockFor(path string) *sync.Mutex {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	mu, _ := fileLocks.LoadOrStore(abs, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Document is a JSON file holding a single value of type T.
type Document[T any] struct {
	path string
	// envelope is the key under which legacy files wrapped the value,
	// e.g. {"version": 1, "services": [...]}. Empty disables unwrapping.
	envelope string
	defaults func() T
	log      *zap.Logger
	now      func() time.Time
}

// NewDocument creates a document at path. defaults supplies the value used
// when the file is missing or unreadable.
func NewDocument[T any](path, envelope string, defaults func() T, log *zap.Logger) *Document[T] {
	if log == nil {
		log = zap.NewNop()
	}
	return &Document[T]{
		path:     path,
		envelope: envelope,
		defaults: defaults,
		log:      log,
		now:      time.Now,
	}
}

// Path returns the file backing the document.
func (d *Document[T]) Path() string {
	return d.path
}

// Load reads the document. A missing file yields the defaults; a corrupt or
// unreadable file is preserved as a timestamped backup and the defaults are
// returned. Load never fails.
func (d *Document[T]) Load() T {
	mu := lockFor(d.path)
	mu.Lock()
	defer mu.Unlock()
	return d.load()
}

// Update runs fn on the current value and writes the result back. If fn
// returns an error nothing is written.
func (d *Document[T]) Update(fn func(*T) error) error {
	mu := lockFor(d.path)
	mu.Lock()
	defer mu.Unlock()

	v := d.load()
	if err := fn(&v); err != nil {
		return err
	}
	return d.write(v)
}

// Save replaces the document with v.
func (d *Document[T]) Save(v T) error {
	mu := lockFor(d.path)
	mu.Lock()
	defer mu.Unlock()
	return d.write(v)
}

func (d *Document[T]) load() T {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return d.defaults()
		}
		d.recover(fmt.Errorf("failed to read document: %w", err))
		return d.defaults()
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return d.defaults()
	}

	v, err := d.decode(data)
	if err != nil {
		d.recover(err)
		return d.defaults()
	}
	return v
}

func (d *Document[T]) decode(data []byte) (T, error) {
	var v T
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")) // Remove UTF-8 BOM if present
	trimmed := bytes.TrimSpace(data)

	// Legacy envelope: {"version": N, "<key>": value}
	if d.envelope != "" && len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return v, fmt.Errorf("failed to parse document: %w", err)
		}
		inner, ok := wrapped[d.envelope]
		if !ok {
			return v, fmt.Errorf("document envelope has no %q key", d.envelope)
		}
		if err := json.Unmarshal(inner, &v); err != nil {
			return v, fmt.Errorf("failed to parse %s: %w", d.envelope, err)
		}
		return v, nil
	}

	if err := json.Unmarshal(trimmed, &v); err != nil {
		return v, fmt.Errorf("failed to parse document: %w", err)
	}
	return v, nil
}

// recover moves the unusable file aside so the next write cannot clobber it.
func (d *Document[T]) recover(cause error) {
	backup := fmt.Sprintf("%s.corrupt-%s", d.path, d.now().Format("20060102T150405"))
	if err := os.Rename(d.path, backup); err != nil {
		d.log.Error("document unreadable and backup failed",
			zap.String("path", d.path), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	d.log.Warn("document unreadable, recreated with defaults",
		zap.String("path", d.path), zap.String("backup", backup), zap.Error(cause))
}

func (d *Document[T]) write(v T) error {
	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(d.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, d.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
