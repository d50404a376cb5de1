package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"textgen/internal/backend"
	"textgen/pkg/types"
)

// Generator turns a prompt into text. The worker supervisor is one; InProcess
// is the other.
type Generator interface {
	Generate(ctx context.Context, prompt string, budget int) (string, error)
	Restart(ctx context.Context) error
	Stop() error
	Ready() bool
}

// statusReporter is implemented by generators backed by a worker process.
type statusReporter interface {
	Status() types.WorkerStatus
}

// modelSwitcher is implemented by generators that can reload with another model.
type modelSwitcher interface {
	SwitchModel(ctx context.Context, model string) error
}

// InProcess runs a backend inside the current process. It suits backends
// that are cheap to load, such as the remote API client. Requests are
// serialized the same way a worker serializes them.
type InProcess struct {
	load     backend.Factory
	sampling backend.Sampling
	log      zerolog.Logger

	genMu sync.Mutex

	mu   sync.Mutex
	opts backend.Options
	b    backend.Backend
}

// NewInProcess returns a generator that loads opts with load (backend.Load
// when nil) on first use.
func NewInProcess(opts backend.Options, load backend.Factory, log zerolog.Logger) *InProcess {
	if load == nil {
		load = backend.Load
	}
	return &InProcess{
		load:     load,
		sampling: backend.DefaultSampling(),
		opts:     opts,
		log:      log.With().Str("component", "inprocess").Str("backend", opts.Kind).Logger(),
	}
}

// Start loads the backend if it is not loaded yet.
func (g *InProcess) Start(ctx context.Context) error {
	_, err := g.backend(ctx)
	return err
}

func (g *InProcess) backend(ctx context.Context) (backend.Backend, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.b != nil {
		return g.b, nil
	}
	b, err := g.load(ctx, g.opts)
	if err != nil {
		return nil, err
	}
	g.log.Info().Str("model", g.opts.Model).Msg("backend loaded")
	g.b = b
	return b, nil
}

func (g *InProcess) Generate(ctx context.Context, prompt string, budget int) (string, error) {
	g.genMu.Lock()
	defer g.genMu.Unlock()
	b, err := g.backend(ctx)
	if err != nil {
		return "", err
	}
	out, err := b.Generate(ctx, prompt, budget, g.sampling)
	if err != nil && !backend.IsBackendError(err) && ctx.Err() == nil {
		err = backend.NewError("generate", err)
	}
	return out, err
}

// Restart drops the loaded backend and loads it again.
func (g *InProcess) Restart(ctx context.Context) error {
	if err := g.Stop(); err != nil {
		g.log.Warn().Err(err).Msg("close backend")
	}
	return g.Start(ctx)
}

// Stop releases the backend. The next Generate loads it again.
func (g *InProcess) Stop() error {
	g.mu.Lock()
	b := g.b
	g.b = nil
	g.mu.Unlock()
	if b == nil {
		return nil
	}
	return b.Close()
}

func (g *InProcess) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.b != nil
}

// SwitchModel reloads the backend with another model.
func (g *InProcess) SwitchModel(ctx context.Context, model string) error {
	g.mu.Lock()
	g.opts.Model = model
	g.mu.Unlock()
	return g.Restart(ctx)
}
