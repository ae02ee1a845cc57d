// Package storage persists run records as JSON lines.
//
// Files are laid out as <base>/<date>/<segment>/<stream>/<name>.jsonl, one
// file per run and stream, rotated by lumberjack once they reach the
// configured size.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("jsonl writer is closed")

// ErrBufferFull is returned by Write when the queue is saturated.
var ErrBufferFull = errors.New("jsonl write buffer full")

// JSONLWriter appends records to a date-organized JSONL file from a single
// background goroutine. Write never blocks.
type JSONLWriter struct {
	baseDir   string
	subDir    string
	name      string
	maxSizeMB int

	writeCh   chan any
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	currentDate string
	logger      *lumberjack.Logger
	path        string
}

// NewJSONLWriter starts a writer for <baseDir>/<date>/<subDir>/<name>.jsonl.
// An empty name falls back to the unix time the file was opened.
func NewJSONLWriter(baseDir, subDir, name string, bufferSize, maxSizeMB int) *JSONLWriter {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	w := &JSONLWriter{
		baseDir:   baseDir,
		subDir:    subDir,
		name:      name,
		maxSizeMB: maxSizeMB,
		writeCh:   make(chan any, bufferSize),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Write queues a record.
func (w *JSONLWriter) Write(record any) error {
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.writeCh <- record:
		return nil
	case <-w.done:
		return ErrClosed
	default:
		slog.Warn("jsonl write buffer full, dropping record", "subdir", w.subDir, "name", w.name)
		return ErrBufferFull
	}
}

// Path returns the file currently being written, or "" before the first record.
func (w *JSONLWriter) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

// Close stops the writer after draining queued records. It is safe to call
// more than once.
func (w *JSONLWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()

		timeout := time.After(5 * time.Second)
	drain:
		for {
			select {
			case record := <-w.writeCh:
				w.writeRecord(record)
			case <-timeout:
				slog.Warn("jsonl writer close timeout, some records may be lost", "subdir", w.subDir)
				break drain
			default:
				break drain
			}
		}

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.logger != nil {
			err = w.logger.Close()
		}
	})
	return err
}

func (w *JSONLWriter) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case record := <-w.writeCh:
			w.writeRecord(record)
		case <-w.done:
			return
		}
	}
}

func (w *JSONLWriter) writeRecord(record any) {
	data, err := json.Marshal(record)
	if err != nil {
		slog.Error("failed to marshal jsonl record", "error", err, "subdir", w.subDir)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	date := time.Now().UTC().Format("2006-01-02")
	if w.logger == nil || date != w.currentDate {
		if err := w.rotateForDate(date); err != nil {
			slog.Error("failed to open jsonl file", "error", err, "subdir", w.subDir)
			return
		}
	}
	if _, err := w.logger.Write(append(data, '\n')); err != nil {
		slog.Error("failed to write jsonl record", "error", err, "subdir", w.subDir)
	}
}

func (w *JSONLWriter) rotateForDate(date string) error {
	if w.logger != nil {
		_ = w.logger.Close()
		w.logger = nil
	}

	dir := filepath.Join(w.baseDir, date, filepath.FromSlash(w.subDir))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	name := w.name
	if name == "" {
		name = fmt.Sprintf("%d", time.Now().Unix())
	}
	w.path = filepath.Join(dir, name+".jsonl")
	w.logger = &lumberjack.Logger{
		Filename:   w.path,
		MaxSize:    w.maxSizeMB,
		MaxBackups: 20,
		MaxAge:     30,
		LocalTime:  false,
	}
	w.currentDate = date
	slog.Info("opened jsonl file", "file", w.path, "subdir", w.subDir)
	return nil
}
