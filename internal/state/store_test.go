package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestOpenMissingWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.MaxTokens() != DefaultMaxTokens {
		t.Fatalf("max tokens = %d", s.MaxTokens())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		t.Fatalf("written state invalid: %v", err)
	}
	if st.MaxTokens != DefaultMaxTokens || st.TotalTokensRequested == nil {
		t.Fatalf("unexpected written state %+v", st)
	}
}

func TestOpenCorruptResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.MaxTokens() != DefaultMaxTokens {
		t.Fatalf("max tokens = %d", s.MaxTokens())
	}
	b, _ := os.ReadFile(path)
	if !json.Valid(b) {
		t.Fatalf("corrupt file not replaced: %q", b)
	}
}

func TestPersistAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SetMaxTokens(512); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetModel("code-cushman-001"); err != nil {
		t.Fatalf("set model: %v", err)
	}
	_ = s.AddRequested("remote", 100)
	_ = s.AddRequested("remote", 28)
	_ = s.AddRequested("llama", 0)

	s2, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	st := s2.Snapshot()
	if st.MaxTokens != 512 || st.Model != "code-cushman-001" || st.TotalTokensRequested["remote"] != 128 {
		t.Fatalf("state not persisted: %+v", st)
	}
	if got := s2.Backends(); len(got) != 1 || got[0] != "remote" {
		t.Fatalf("backends = %v", got)
	}
}

func TestSetMaxTokensRange(t *testing.T) {
	s := InMemory()
	for _, n := range []int{0, -3, 4097} {
		err := s.SetMaxTokens(n)
		if !IsRangeError(err) {
			t.Fatalf("SetMaxTokens(%d) = %v", n, err)
		}
	}
	for _, n := range []int{1, 4096} {
		if err := s.SetMaxTokens(n); err != nil {
			t.Fatalf("SetMaxTokens(%d) = %v", n, err)
		}
	}
	if s.MaxTokens() != 4096 {
		t.Fatalf("max tokens = %d", s.MaxTokens())
	}
}

func TestOutOfRangeFileValueNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	_ = os.WriteFile(path, []byte(`{"max_tokens": 99999}`), 0o600)
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.MaxTokens() != DefaultMaxTokens {
		t.Fatalf("max tokens = %d", s.MaxTokens())
	}
	if err := s.AddRequested("babble", 3); err != nil {
		t.Fatalf("add on nil map: %v", err)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := InMemory()
	_ = s.AddRequested("remote", 5)
	snap := s.Snapshot()
	snap.TotalTokensRequested["remote"] = 1000
	if s.Snapshot().TotalTokensRequested["remote"] != 5 {
		t.Fatalf("snapshot aliases store state")
	}
}
