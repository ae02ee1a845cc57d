package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestTransformURLToPathSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://shop.test/", "shop.test"},
		{"https://shop.test/search/", "shop.test_search"},
		{"http://127.0.0.1:8080/a/b?q=x", "127.0.0.1_a_b"},
		{"about:blank", "local"},
		{"https://shop.test/caf%C3%A9", "shop.test_caf_"},
	}
	for _, tt := range tests {
		got, err := TransformURLToPathSegment(tt.in)
		if err != nil {
			t.Fatalf("TransformURLToPathSegment(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("TransformURLToPathSegment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("0123456789"); got != "01234567" {
		t.Fatalf("ShortID() = %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Fatalf("ShortID() = %q", got)
	}
}

func TestJSONLWriterFlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLWriter(dir, "site/results", "run1", 16, 1)

	for i := 0; i < 3; i++ {
		if err := w.Write(map[string]int{"n": i}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := w.Write(map[string]int{"n": 9}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write() after Close error = %v, want ErrClosed", err)
	}

	path := w.Path()
	if !strings.HasSuffix(path, filepath.Join("site", "results", "run1.jsonl")) {
		t.Fatalf("Path() = %q", path)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var got []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec map[string]int
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal %q: %v", sc.Text(), err)
		}
		got = append(got, rec["n"])
	}
	if len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Fatalf("records = %v, want [0 1 2]", got)
	}
}

func TestRegistryReusesAndReleasesWriters(t *testing.T) {
	r := NewRegistry(t.TempDir(), 8, 1)
	defer r.Close()

	a := r.Writer("site", "results", "run1")
	if b := r.Writer("site", "results", "run1"); a != b {
		t.Fatal("Writer() returned a new writer for the same key")
	}
	if c := r.Writer("site", "http", "run1"); a == c {
		t.Fatal("Writer() shared a writer across streams")
	}

	if err := r.Release("site", "results", "run1"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := a.Write("x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Write() on released writer error = %v", err)
	}
	if d := r.Writer("site", "results", "run1"); d == a {
		t.Fatal("Writer() returned a released writer")
	}
	if err := r.Release("nope", "results", "run1"); err != nil {
		t.Fatalf("Release(unknown) error = %v", err)
	}
}
