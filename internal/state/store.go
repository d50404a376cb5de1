// Package state persists user settings between sessions: the length budget,
// the chosen model and how much budget was requested per backend.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/renameio"
	"github.com/rs/zerolog"

	"textgen/internal/common/fsutil"
)

// DefaultPath is used when no state file is configured.
const DefaultPath = "~/.textgen/state.json"

// Limits for the session length budget.
const (
	DefaultMaxTokens = 256
	MinTokens        = 1
	MaxTokens        = 4096
)

// State is the persisted document.
type State struct {
	MaxTokens            int            `json:"max_tokens"`
	Backend              string         `json:"backend,omitempty"`
	Model                string         `json:"model,omitempty"`
	TotalTokensRequested map[string]int `json:"total_tokens_requested"`
}

// Defaults returns a fresh default state.
func Defaults() State {
	return State{MaxTokens: DefaultMaxTokens, TotalTokensRequested: map[string]int{}}
}

// Store guards a State and writes it back on every change. A Store without a
// path keeps state in memory only.
type Store struct {
	path string
	log  zerolog.Logger

	mu sync.Mutex
	st State
}

// Open loads the state at path. A missing or unparsable file yields defaults,
// which are written back immediately.
func Open(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{log: log.With().Str("component", "state").Logger(), st: Defaults()}
	if path == "" {
		return s, nil
	}
	p, err := fsutil.EnsureParentDir(path)
	if err != nil {
		return nil, err
	}
	s.path = p

	b, err := os.ReadFile(p)
	switch {
	case err == nil:
		var st State
		if jerr := json.Unmarshal(b, &st); jerr != nil {
			s.log.Warn().Err(jerr).Str("path", p).Msg("state file corrupt, resetting")
			return s, s.save()
		}
		s.st = normalize(st)
		return s, nil
	case errors.Is(err, os.ErrNotExist):
		return s, s.save()
	default:
		return nil, fmt.Errorf("read state %s: %w", p, err)
	}
}

// InMemory returns a store that never touches disk.
func InMemory() *Store {
	s, _ := Open("", zerolog.Nop())
	return s
}

func normalize(st State) State {
	if st.MaxTokens < MinTokens || st.MaxTokens > MaxTokens {
		st.MaxTokens = DefaultMaxTokens
	}
	if st.TotalTokensRequested == nil {
		st.TotalTokensRequested = map[string]int{}
	}
	return st
}

// Path returns the backing file, empty for in-memory stores.
func (s *Store) Path() string { return s.path }

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.st
	cp.TotalTokensRequested = make(map[string]int, len(s.st.TotalTokensRequested))
	for k, v := range s.st.TotalTokensRequested {
		cp.TotalTokensRequested[k] = v
	}
	return cp
}

func (s *Store) MaxTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.MaxTokens
}

// SetMaxTokens validates and stores the session budget.
func (s *Store) SetMaxTokens(n int) error {
	if n < MinTokens || n > MaxTokens {
		return RangeError{Given: n}
	}
	return s.update(func(st *State) { st.MaxTokens = n })
}

func (s *Store) SetModel(model string) error {
	return s.update(func(st *State) { st.Model = model })
}

func (s *Store) SetBackend(kind string) error {
	return s.update(func(st *State) { st.Backend = kind })
}

// AddRequested accumulates the budget requested from a backend.
func (s *Store) AddRequested(backend string, n int) error {
	if n <= 0 {
		return nil
	}
	return s.update(func(st *State) { st.TotalTokensRequested[backend] += n })
}

// Backends lists backends with recorded usage, sorted.
func (s *Store) Backends() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.st.TotalTokensRequested))
	for k := range s.st.TotalTokensRequested {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *Store) update(fn func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
	return s.saveLocked()
}

func (s *Store) save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.path, append(b, '\n'), 0o600); err != nil {
		return fmt.Errorf("write state %s: %w", s.path, err)
	}
	return nil
}

// RangeError reports a budget outside MinTokens..MaxTokens.
type RangeError struct{ Given int }

func (e RangeError) Error() string {
	return fmt.Sprintf("token length must be between %d and %d, given %d", MinTokens, MaxTokens, e.Given)
}

// IsRangeError reports whether err is a RangeError.
func IsRangeError(err error) bool {
	var re RangeError
	return errors.As(err, &re)
}
