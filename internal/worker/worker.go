// Package worker implements the long-lived generation worker. It loads a
// backend once, then serves generate commands read line by line from its
// input, exchanging prompt and result through the payload channel.
//
// The output stream carries protocol lines only; logs go elsewhere.
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"textgen/internal/backend"
	"textgen/internal/payload"
	"textgen/internal/protocol"
)

// State is the worker lifecycle state.
type State string

const (
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateProcessing State = "processing"
	StateTerminated State = "terminated"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultBudget = 1024
	MaxBudget     = 4096
	// maxLineBytes bounds one command line. Commands are tiny; anything
	// longer is garbage on the pipe.
	maxLineBytes = 64 * 1024
)

// Config holds worker tunables.
type Config struct {
	Backend     backend.Options
	PayloadPath string
	// DefaultBudget is the initial session budget.
	DefaultBudget int
	// MaxBudget bounds accepted budgets; larger values are treated as malformed.
	MaxBudget int
	Sampling  backend.Sampling
}

// Worker serves one backend over the line protocol.
type Worker struct {
	cfg     Config
	load    backend.Factory
	log     zerolog.Logger
	channel *payload.Channel

	mu      sync.Mutex
	state   State
	budget  int
	backend backend.Backend
}

// Option customizes a Worker.
type Option func(*Worker)

// WithLoader replaces backend.Load, e.g. to inject a prepared backend.
func WithLoader(f backend.Factory) Option {
	return func(w *Worker) {
		if f != nil {
			w.load = f
		}
	}
}

// New constructs a worker; zero Config fields get defaults.
func New(cfg Config, log zerolog.Logger, opts ...Option) *Worker {
	if cfg.DefaultBudget <= 0 {
		cfg.DefaultBudget = DefaultBudget
	}
	if cfg.MaxBudget <= 0 {
		cfg.MaxBudget = MaxBudget
	}
	if cfg.DefaultBudget > cfg.MaxBudget {
		cfg.DefaultBudget = cfg.MaxBudget
	}
	if cfg.Sampling == (backend.Sampling{}) {
		cfg.Sampling = backend.DefaultSampling()
	}
	w := &Worker{
		cfg:     cfg,
		load:    backend.Load,
		log:     log.With().Str("component", "worker").Logger(),
		channel: payload.New(cfg.PayloadPath),
		state:   StateLoading,
		budget:  cfg.DefaultBudget,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Budget returns the session budget used when a command carries none.
func (w *Worker) Budget() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.budget
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Run loads the backend, announces readiness and serves commands from in
// until quit, end of input, or ctx cancellation. A load failure is returned
// as a startup error and nothing is written to out.
func (w *Worker) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	start := time.Now()
	w.setState(StateLoading)
	w.log.Info().Str("backend", w.cfg.Backend.Kind).Str("model", w.cfg.Backend.Model).
		Str("precision", w.cfg.Backend.Precision).Str("device", w.cfg.Backend.Device).Msg("loading backend")
	b, err := w.load(ctx, w.cfg.Backend)
	if err != nil {
		w.setState(StateTerminated)
		return startupError{err: err}
	}
	w.mu.Lock()
	w.backend = b
	w.mu.Unlock()
	defer w.release()
	w.log.Info().Dur("load", time.Since(start)).Str("payload", w.channel.Path).Msg("backend loaded")

	bw := bufio.NewWriter(out)
	if err := writeLine(bw, protocol.LineReady); err != nil {
		return fmt.Errorf("write ready: %w", err)
	}
	w.setState(StateReady)

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		cmd := protocol.ParseCommand(sc.Text(), w.cfg.MaxBudget)
		switch cmd.Kind {
		case protocol.KindQuit:
			w.log.Info().Msg("quit received")
			return nil
		case protocol.KindGenerate:
			if err := w.handleGenerate(ctx, cmd, bw); err != nil {
				return err
			}
		default:
			w.log.Debug().Str("line", cmd.Raw).Msg("ignoring unknown line")
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read commands: %w", err)
	}
	w.log.Info().Msg("input closed")
	return nil
}

// handleGenerate processes one request and always emits exactly one done.
// Only a failure to write to out is returned; that ends the worker since
// the supervisor can no longer be signalled.
func (w *Worker) handleGenerate(ctx context.Context, cmd protocol.Command, bw *bufio.Writer) error {
	budget := w.resolveBudget(cmd)
	w.setState(StateProcessing)
	defer w.setState(StateReady)

	prompt, rerr := w.channel.Read()
	if rerr != nil {
		w.log.Warn().Err(rerr).Msg("payload unreadable, generating from empty prompt")
		prompt = ""
	}

	start := time.Now()
	w.mu.Lock()
	b := w.backend
	w.mu.Unlock()
	text, gerr := b.Generate(ctx, prompt, budget, w.cfg.Sampling)
	ev := w.log.Info().Int("budget", budget).Int("prompt_bytes", len(prompt)).Dur("dur", time.Since(start))

	failure := ""
	switch {
	case gerr != nil:
		failure = gerr.Error()
		ev.Err(gerr).Msg("generation failed")
		// The slot still holds the prompt; drop it so the caller does not
		// read its own input back as a result.
		_ = w.channel.Remove()
	default:
		if werr := w.channel.Write(text); werr != nil {
			failure = werr.Error()
			ev.Err(werr).Msg("result write failed")
			_ = w.channel.Remove()
		} else {
			ev.Int("result_bytes", len(text)).Msg("generation done")
		}
	}
	if failure != "" {
		if err := writeLine(bw, protocol.FormatError(failure)); err != nil {
			return fmt.Errorf("write error line: %w", err)
		}
	}
	if err := writeLine(bw, protocol.LineDone); err != nil {
		return fmt.Errorf("write done: %w", err)
	}
	return nil
}

// resolveBudget applies the session default. A valid budget becomes the new
// session default; a missing or malformed one never reaches the caller.
func (w *Worker) resolveBudget(cmd protocol.Command) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cmd.HasBudget {
		w.budget = cmd.Budget
		return w.budget
	}
	if cmd.Malformed {
		w.log.Debug().Str("arg", cmd.Raw).Int("fallback", w.budget).Msg("malformed budget, using session default")
	}
	return w.budget
}

func (w *Worker) release() {
	w.mu.Lock()
	b := w.backend
	w.backend = nil
	w.state = StateTerminated
	w.mu.Unlock()
	if b != nil {
		if err := b.Close(); err != nil {
			w.log.Warn().Err(err).Msg("backend close")
		}
	}
}

func writeLine(bw *bufio.Writer, line string) error {
	if _, err := bw.WriteString(line + "\n"); err != nil {
		return err
	}
	return bw.Flush()
}

// startupError marks a backend load failure.
type startupError struct{ err error }

func (e startupError) Error() string { return "worker startup: " + e.err.Error() }
func (e startupError) Unwrap() error { return e.err }

// IsStartupError reports whether err came from loading the backend.
func IsStartupError(err error) bool {
	var se startupError
	return errors.As(err, &se)
}
