package storage

import (
	"log/slog"
	"path"
	"sync"
)

// Registry hands out one JSONLWriter per segment, stream and name, so each
// run of each site gets its own result and capture files.
type Registry struct {
	baseDir    string
	bufferSize int
	maxSizeMB  int

	mu      sync.Mutex
	writers map[string]*JSONLWriter
}

// NewRegistry returns an empty registry rooted at baseDir.
func NewRegistry(baseDir string, bufferSize, maxSizeMB int) *Registry {
	return &Registry{
		baseDir:    baseDir,
		bufferSize: bufferSize,
		maxSizeMB:  maxSizeMB,
		writers:    make(map[string]*JSONLWriter),
	}
}

func registryKey(segment, stream, name string) string {
	return path.Join(segment, stream, name)
}

// Writer returns the writer for segment/stream/name, creating it on first use.
// segment is usually TransformURLToPathSegment of the page under test and
// stream one of "results" or "http".
func (r *Registry) Writer(segment, stream, name string) *JSONLWriter {
	key := registryKey(segment, stream, name)

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.writers[key]; ok {
		return w
	}
	w := NewJSONLWriter(r.baseDir, path.Join(segment, stream), name, r.bufferSize, r.maxSizeMB)
	r.writers[key] = w
	slog.Debug("created jsonl writer", "segment", segment, "stream", stream, "name", name)
	return w
}

// Release closes and forgets one writer. Unknown keys are ignored.
func (r *Registry) Release(segment, stream, name string) error {
	key := registryKey(segment, stream, name)

	r.mu.Lock()
	w, ok := r.writers[key]
	delete(r.writers, key)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return w.Close()
}

// Close closes every writer still open.
func (r *Registry) Close() error {
	r.mu.Lock()
	writers := r.writers
	r.writers = make(map[string]*JSONLWriter)
	r.mu.Unlock()

	var lastErr error
	for key, w := range writers {
		if err := w.Close(); err != nil {
			slog.Error("failed to close jsonl writer", "key", key, "error", err)
			lastErr = err
		}
	}
	return lastErr
}
