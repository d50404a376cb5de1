// Package backend abstracts the text-generation runtime behind a small
// load-once, generate-many surface. Concrete kinds register themselves with
// Register (see the llama and remote subpackages); the babble kind is built in.
package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Backend generates text for a prompt. Implementations return the prompt
// followed by its continuation.
type Backend interface {
	Generate(ctx context.Context, prompt string, maxTokens int, s Sampling) (string, error)
	// Close releases model memory or connections.
	Close() error
}

// Sampling configures decoding for one call.
type Sampling struct {
	// Deterministic disables random sampling (greedy decoding).
	Deterministic bool
	// RepetitionWindow forbids any repeated n-token sequence; 0 disables.
	RepetitionWindow int
	// EarlyStopping stops once the model produces a natural end.
	EarlyStopping bool
	// Temperature applies only when Deterministic is false.
	Temperature float32
}

// DefaultSampling is what the worker uses for every request.
func DefaultSampling() Sampling {
	return Sampling{Deterministic: true, RepetitionWindow: 4, EarlyStopping: true}
}

// Options select and configure a backend kind. Fields irrelevant to a kind are ignored.
type Options struct {
	Kind string `json:"kind" yaml:"kind" toml:"kind"`
	// Model is a model identifier: a file path or registry id for llama,
	// a model name for remote.
	Model     string `json:"model" yaml:"model" toml:"model"`
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// Precision is fp16 or fp32.
	Precision string `json:"precision" yaml:"precision" toml:"precision"`
	// Device is gpu or cpu.
	Device      string `json:"device" yaml:"device" toml:"device"`
	ContextSize int    `json:"context_size" yaml:"context_size" toml:"context_size"`
	Threads     int    `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers   int    `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`

	BaseURL           string        `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey            string        `json:"-" yaml:"-" toml:"-"`
	RequestsPerMinute int           `json:"requests_per_minute" yaml:"requests_per_minute" toml:"requests_per_minute"`
	CacheTTL          time.Duration `json:"-" yaml:"-" toml:"-"`
	RequestTimeout    time.Duration `json:"-" yaml:"-" toml:"-"`
}

// Factory loads a backend. It runs once per worker lifetime.
type Factory func(ctx context.Context, opts Options) (Backend, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{
		KindBabble: loadBabble,
	}
)

// Register installs a factory for kind, replacing any previous one.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[strings.ToLower(kind)] = f
}

// Kinds lists registered kinds in sorted order.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Load resolves opts.Kind and loads the backend.
func Load(ctx context.Context, opts Options) (Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" {
		return nil, ErrDependencyUnavailable("backend kind is empty")
	}
	regMu.RLock()
	f := factories[kind]
	regMu.RUnlock()
	if f == nil {
		return nil, ErrDependencyUnavailable(fmt.Sprintf("backend %q not available (have: %s)", kind, strings.Join(Kinds(), ", ")))
	}
	return f(ctx, opts)
}
