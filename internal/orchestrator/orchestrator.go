// Package orchestrator implements the editor-facing commands: generate over
// the selection, restart or stop the generator, and change session settings.
// It talks to the editor only through the Editor interface.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"textgen/internal/backend"
	"textgen/internal/registry"
	"textgen/internal/state"
	"textgen/internal/supervisor"
	"textgen/pkg/types"
)

// User-facing messages.
const (
	MsgCancelled = "Request cancelled"
	MsgRestarted = "Worker restarted"
	MsgStopped   = "Worker stopped"
)

// Config tunes the orchestrator.
type Config struct {
	// Backend names the backend for accounting and messages.
	Backend string
	// Confirm asks the user before each request.
	Confirm bool
	// Requests with a budget above BatchThreshold get BatchTimeout instead of
	// InteractiveTimeout. Zero timeouts leave the deadline to the generator.
	InteractiveTimeout time.Duration
	BatchTimeout       time.Duration
	BatchThreshold     int
	// Models offered by ChangeModel.
	Models []string
	// ModelsDir is scanned by ListModels.
	ModelsDir string
}

// Orchestrator runs commands against one Generator and one state store.
type Orchestrator struct {
	cfg     Config
	gen     Generator
	store   *state.Store
	log     zerolog.Logger
	started time.Time
}

// New returns an orchestrator. A nil store keeps settings in memory.
func New(cfg Config, gen Generator, store *state.Store, log zerolog.Logger) *Orchestrator {
	if store == nil {
		store = state.InMemory()
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = 1024
	}
	return &Orchestrator{
		cfg:     cfg,
		gen:     gen,
		store:   store,
		log:     log.With().Str("component", "orchestrator").Logger(),
		started: time.Now(),
	}
}

// Store returns the settings store.
func (o *Orchestrator) Store() *state.Store { return o.store }

// Generate replaces the editor selection with the selection plus its
// generated continuation. When the backend fails the user is told and the
// selection is written back unchanged; that case returns nil. Protocol
// failures are shown and returned.
func (o *Orchestrator) Generate(ctx context.Context, ed Editor) error {
	return o.GenerateBudget(ctx, ed, 0)
}

// GenerateBudget is Generate with a one-off budget; 0 uses the session budget.
func (o *Orchestrator) GenerateBudget(ctx context.Context, ed Editor, budget int) error {
	text, err := ed.ExtractSelection()
	if err != nil {
		ed.NotifyUser("Error: could not read selection: " + err.Error())
		return err
	}
	if budget == 0 {
		budget = o.store.MaxTokens()
	}
	if budget < state.MinTokens || budget > state.MaxTokens {
		err := state.RangeError{Given: budget}
		ed.NotifyUser("Error: " + err.Error())
		return err
	}

	if o.cfg.Confirm {
		q := fmt.Sprintf("You are about to send a request for up to %d tokens using '%s'.\n\nAre you sure you want to send this request? [y/n] ", budget, o.label())
		ans, perr := ed.PromptUser(q)
		if perr != nil || strings.ToLower(strings.TrimSpace(ans)) != "y" {
			ed.NotifyUser(MsgCancelled)
			return nil
		}
	}

	if d := o.timeoutFor(budget); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	start := time.Now()
	out, err := o.gen.Generate(ctx, text, budget)
	if aerr := o.store.AddRequested(o.cfg.Backend, budget); aerr != nil {
		o.log.Warn().Err(aerr).Msg("record usage")
	}
	if err != nil {
		o.log.Warn().Err(err).Int("budget", budget).Dur("dur", time.Since(start)).Msg("generation failed")
		if backend.IsBackendError(err) || backend.IsDependencyUnavailable(err) {
			ed.NotifyUser("Error occurred generating text: " + err.Error())
			return ed.ReplaceSelection(text)
		}
		ed.NotifyUser(describe(err))
		return err
	}
	o.log.Info().Int("budget", budget).Int("prompt_bytes", len(text)).Int("result_bytes", len(out)).
		Dur("dur", time.Since(start)).Msg("generation done")
	return ed.ReplaceSelection(out)
}

func (o *Orchestrator) timeoutFor(budget int) time.Duration {
	if budget > o.cfg.BatchThreshold {
		return o.cfg.BatchTimeout
	}
	return o.cfg.InteractiveTimeout
}

func (o *Orchestrator) label() string {
	st := o.store.Snapshot()
	if st.Model != "" {
		return st.Model
	}
	if o.cfg.Backend != "" {
		return o.cfg.Backend
	}
	return "default"
}

// describe renders protocol failures with a hint on how to recover.
func describe(err error) string {
	switch {
	case supervisor.IsWorkerTimeout(err), supervisor.IsStuck(err):
		return "Error: the worker did not answer in time; restart it (" + err.Error() + ")"
	case supervisor.IsWorkerExited(err), errors.Is(err, supervisor.ErrNotRunning):
		return "Error: the worker is not running; restart it (" + err.Error() + ")"
	case supervisor.IsBusy(err):
		return "Error: another request is still running"
	}
	return "Error: " + err.Error()
}

// Restart restarts the generator.
func (o *Orchestrator) Restart(ctx context.Context, ed Editor) error {
	if err := o.gen.Restart(ctx); err != nil {
		ed.NotifyUser("Error: restart failed: " + err.Error())
		return err
	}
	ed.NotifyUser(MsgRestarted)
	return nil
}

// Quit stops the generator.
func (o *Orchestrator) Quit(ed Editor) error {
	if err := o.gen.Stop(); err != nil {
		ed.NotifyUser("Error: stop failed: " + err.Error())
		return err
	}
	ed.NotifyUser(MsgStopped)
	return nil
}

// ChangeTokenLength stores a new session budget. Values outside 1..4096 are
// rejected with a message and leave the budget unchanged.
func (o *Orchestrator) ChangeTokenLength(ed Editor, n int) error {
	if err := o.store.SetMaxTokens(n); err != nil {
		ed.NotifyUser("Error: " + err.Error())
		return err
	}
	ed.NotifyUser(fmt.Sprintf("Token length set to %d", n))
	return nil
}

// ChangeModel lists the configured models, asks for a number and switches
// to the chosen model when the generator supports it.
func (o *Orchestrator) ChangeModel(ctx context.Context, ed Editor) error {
	if len(o.cfg.Models) == 0 {
		ed.NotifyUser("Error: no models configured")
		return errors.New("no models configured")
	}
	var sb strings.Builder
	sb.WriteString("Changing text generation model to\n")
	for i, m := range o.cfg.Models {
		fmt.Fprintf(&sb, "%d --> %s\n", i+1, m)
	}
	ans, err := ed.PromptUser(sb.String())
	if err != nil {
		ed.NotifyUser(MsgCancelled)
		return nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(ans))
	if err != nil || i < 1 || i > len(o.cfg.Models) {
		ed.NotifyUser(MsgCancelled)
		return nil
	}
	model := o.cfg.Models[i-1]
	sw, ok := o.gen.(modelSwitcher)
	if !ok {
		if err := o.store.SetModel(model); err != nil {
			ed.NotifyUser("Error: " + err.Error())
			return err
		}
		ed.NotifyUser("Generation model set to " + model + "; it is used from the next worker start")
		return nil
	}
	if err := sw.SwitchModel(ctx, model); err != nil {
		ed.NotifyUser("Error: " + err.Error())
		return err
	}
	if err := o.store.SetModel(model); err != nil {
		o.log.Warn().Err(err).Msg("persist model")
	}
	ed.NotifyUser("Changing generation model to " + model)
	return nil
}

// ListModels returns the model files found in ModelsDir.
func (o *Orchestrator) ListModels() []types.Model {
	if o.cfg.ModelsDir == "" {
		return nil
	}
	models, err := registry.LoadDir(o.cfg.ModelsDir)
	if err != nil {
		o.log.Warn().Err(err).Str("dir", o.cfg.ModelsDir).Msg("list models")
		return nil
	}
	return models
}

// Ready reports whether the generator can take a request.
func (o *Orchestrator) Ready() bool { return o.gen.Ready() }

// Status summarizes settings, usage and the worker.
func (o *Orchestrator) Status() types.StatusResponse {
	st := o.store.Snapshot()
	resp := types.StatusResponse{
		Backend:         o.cfg.Backend,
		MaxTokens:       st.MaxTokens,
		TokensRequested: st.TotalTokensRequested,
		UptimeSeconds:   int64(time.Since(o.started).Seconds()),
		ServerTimeUnix:  time.Now().Unix(),
	}
	if sr, ok := o.gen.(statusReporter); ok {
		ws := sr.Status()
		resp.Worker = &ws
	}
	return resp
}
