package payload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "slot"))
	texts := []string{
		"The quick brown fox",
		"line one\nline two\r\nline three\n\n",
		"",
		"ünïcødé ✓ 日本語",
	}
	for _, want := range texts {
		if err := c.Write(want); err != nil {
			t.Fatalf("write %q: %v", want, err)
		}
		got, err := c.Read()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: got %q want %q", got, want)
		}
	}
}

func TestWriteTruncatesLongerPrevious(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "slot"))
	if err := c.Write(strings.Repeat("x", 4096)); err != nil {
		t.Fatalf("write long: %v", err)
	}
	if err := c.Write("short"); err != nil {
		t.Fatalf("write short: %v", err)
	}
	got, err := c.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != "short" {
		t.Fatalf("stale bytes survived: %q", got[:min(len(got), 32)])
	}
}

func TestReadMissingIsReadError(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "missing"))
	_, err := c.Read()
	if err == nil {
		t.Fatalf("expected error for missing channel")
	}
	if !IsReadError(err) {
		t.Fatalf("expected read error, got %T: %v", err, err)
	}
	if got := c.ReadOrEmpty(); got != "" {
		t.Fatalf("ReadOrEmpty = %q, want empty", got)
	}
}

func TestWriteUnwritableIsWriteError(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "no", "such", "dir", "slot"))
	err := c.Write("x")
	if err == nil {
		t.Fatalf("expected error writing into missing directory")
	}
	if !IsWriteError(err) {
		t.Fatalf("expected write error, got %T: %v", err, err)
	}
	if IsReadError(err) {
		t.Fatalf("write error must not look like a read error")
	}
}

func TestEmptyPath(t *testing.T) {
	c := New("")
	if err := c.Write("x"); !IsWriteError(err) {
		t.Fatalf("expected write error for empty path, got %v", err)
	}
	if _, err := c.Read(); !IsReadError(err) {
		t.Fatalf("expected read error for empty path, got %v", err)
	}
}

func TestNewUniqueDistinctPaths(t *testing.T) {
	d := t.TempDir()
	a, b := NewUnique(d), NewUnique(d)
	if a.Path == b.Path {
		t.Fatalf("expected distinct paths, both %s", a.Path)
	}
	if filepath.Dir(a.Path) != d {
		t.Fatalf("unique channel outside dir: %s", a.Path)
	}
	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Fatalf("NewUnique must not create the file, stat err=%v", err)
	}
}

func TestRemove(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "slot"))
	if err := c.Remove(); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	if err := c.Write("x"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.Remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := c.Read(); !IsReadError(err) {
		t.Fatalf("expected read error after remove, got %v", err)
	}
}
