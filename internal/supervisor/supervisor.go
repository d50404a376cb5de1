// Package supervisor owns the generation worker process: it spawns it, waits
// for it to load, sends it one request at a time, and restarts or stops it.
//
// A request has no cancellation on the wire. When a caller gives up waiting
// the worker may still be busy, so the supervisor marks it stuck and refuses
// further requests until Restart.
package supervisor

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"textgen/internal/backend"
	"textgen/internal/payload"
	"textgen/internal/protocol"
	"textgen/pkg/types"
)

// Worker states reported by Status.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateReady    = "ready"
	StateBusy     = "busy"
	StateStuck    = "stuck"
	StateExited   = "exited"
)

// Config describes how to run the worker.
type Config struct {
	// Bin and Args form the worker command line. Bin defaults to the running
	// executable with Args ["worker"].
	Bin  string
	Args []string
	// ModelFlag, when set, is the worker flag that selects the model, e.g.
	// "--model". SwitchModel rewrites it in Args.
	ModelFlag string
	// Env is appended to the inherited environment.
	Env []string
	// PayloadPath pins the channel to a fixed file. When empty a unique path
	// is created inside PayloadDir (os.TempDir when empty) and removed on Stop.
	PayloadPath string
	PayloadDir  string

	StartupTimeout  time.Duration
	GenerateTimeout time.Duration
	StopGrace       time.Duration
	// AdmissionWait bounds how long a caller queues for the in-flight slot.
	AdmissionWait time.Duration
}

const (
	defaultStartupTimeout  = 2 * time.Minute
	defaultGenerateTimeout = 2 * time.Minute
	defaultStopGrace       = 2 * time.Second
)

// Supervisor manages at most one worker process.
type Supervisor struct {
	cfg         Config
	log         zerolog.Logger
	pub         EventPublisher
	channel     *payload.Channel
	ownsChannel bool
	// slot admits one request at a time.
	slot chan struct{}
	// life serializes Start, Stop and Restart.
	life sync.Mutex

	mu          sync.Mutex
	proc        *process
	starting    bool
	stopped     bool
	stuck       bool
	busy        bool
	readyAt     time.Time
	starts      uint64
	generations uint64
	lastErr     string
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithPublisher installs an EventPublisher for lifecycle events.
func WithPublisher(p EventPublisher) Option {
	return func(s *Supervisor) {
		if p != nil {
			s.pub = p
		}
	}
}

// New returns a supervisor; no process is started until Start.
func New(cfg Config, log zerolog.Logger, opts ...Option) *Supervisor {
	if strings.TrimSpace(cfg.Bin) == "" {
		if exe, err := os.Executable(); err == nil {
			cfg.Bin = exe
			if len(cfg.Args) == 0 {
				cfg.Args = []string{"worker"}
			}
		}
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultGenerateTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.AdmissionWait <= 0 {
		cfg.AdmissionWait = cfg.GenerateTimeout
	}
	s := &Supervisor{
		cfg:  cfg,
		log:  log.With().Str("component", "supervisor").Logger(),
		pub:  noopPublisher{},
		slot: make(chan struct{}, 1),
	}
	if strings.TrimSpace(cfg.PayloadPath) != "" {
		s.channel = payload.New(cfg.PayloadPath)
	} else {
		s.channel = payload.NewUnique(cfg.PayloadDir)
		s.ownsChannel = true
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// PayloadPath returns the channel path shared with the worker.
func (s *Supervisor) PayloadPath() string { return s.channel.Path }

// Start spawns the worker and waits for it to report ready.
func (s *Supervisor) Start(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	s.mu.Lock()
	if s.proc != nil && s.proc.alive() {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.proc = nil
	s.stuck = false
	s.stopped = false
	s.starting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	p, err := spawn(s.cfg, s.channel.Path, s.log)
	if err != nil {
		return s.failStart(startupError{reason: "spawn", err: err})
	}
	s.log.Info().Int("pid", p.pid).Str("bin", s.cfg.Bin).Str("payload", s.channel.Path).Msg("worker spawned")
	s.pub.Publish(Event{Name: "spawn_start", PID: p.pid, Fields: map[string]any{"bin": s.cfg.Bin, "payload": s.channel.Path}})

	if err := s.awaitReady(ctx, p); err != nil {
		return s.failStart(err)
	}

	s.mu.Lock()
	s.proc = p
	s.readyAt = time.Now()
	s.starts++
	s.lastErr = ""
	s.mu.Unlock()
	workerUp.Set(1)
	s.log.Info().Int("pid", p.pid).Dur("startup", time.Since(p.started)).Msg("worker ready")
	s.pub.Publish(Event{Name: "spawn_ready", PID: p.pid, Fields: map[string]any{"startup_ms": time.Since(p.started).Milliseconds()}})
	return nil
}

// awaitReady consumes stdout until ready, an early exit, the startup
// deadline or ctx cancellation. On failure p is reaped.
func (s *Supervisor) awaitReady(ctx context.Context, p *process) error {
	timer := time.NewTimer(s.cfg.StartupTimeout)
	defer timer.Stop()
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				werr := s.reap(p)
				return startupError{reason: "exited before ready", tail: p.stderr.String(), err: werr}
			}
			if protocol.ParseReply(line).Ready {
				return nil
			}
			s.log.Debug().Int("pid", p.pid).Str("line", line).Msg("ignoring line before ready")
		case <-p.exited:
			p.abandon()
			s.pub.Publish(Event{Name: "spawn_exit", PID: p.pid, Fields: map[string]any{"before_ready": true}})
			return startupError{reason: "exited before ready", tail: p.stderr.String(), err: p.exitErr()}
		case <-timer.C:
			p.terminate(s.cfg.StopGrace)
			s.pub.Publish(Event{Name: "spawn_timeout", PID: p.pid, Fields: map[string]any{"timeout": s.cfg.StartupTimeout.String()}})
			return startupError{reason: "not ready within " + s.cfg.StartupTimeout.String(), tail: p.stderr.String()}
		case <-ctx.Done():
			p.terminate(s.cfg.StopGrace)
			return startupError{reason: "cancelled", tail: p.stderr.String(), err: ctx.Err()}
		}
	}
}

// reap waits for an exiting process, killing it after the stop grace, and
// returns its exit error.
func (s *Supervisor) reap(p *process) error {
	p.abandon()
	if exited, err := p.waitExit(s.cfg.StopGrace); exited {
		s.pub.Publish(Event{Name: "spawn_exit", PID: p.pid, Fields: map[string]any{"error": errString(err)}})
		return err
	}
	p.terminate(0)
	s.pub.Publish(Event{Name: "spawn_exit", PID: p.pid, Fields: map[string]any{"killed": true}})
	return p.exitErr()
}

func (s *Supervisor) failStart(err error) error {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	workerUp.Set(0)
	s.log.Error().Err(err).Msg("worker start failed")
	return err
}

// Generate sends prompt to the worker and returns its result. Only one
// request runs at a time; others queue up to AdmissionWait. The request is
// bounded by the ctx deadline, or GenerateTimeout when ctx has none.
func (s *Supervisor) Generate(ctx context.Context, prompt string, budget int) (string, error) {
	release, err := s.admit(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	p, err := s.current()
	if err != nil {
		return "", err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.GenerateTimeout)
		defer cancel()
	}

	s.setBusy(true)
	defer s.setBusy(false)
	start := time.Now()

	if err := s.channel.Write(prompt); err != nil {
		generationsTotal.WithLabelValues(outcomeWriteError).Inc()
		return "", err
	}
	if err := p.send(protocol.FormatGenerate(budget)); err != nil {
		return "", s.exited(p)
	}

	var backendMsg string
	var backendFailed bool
	for {
		select {
		case line, ok := <-p.lines:
			if !ok {
				return "", s.exited(p)
			}
			r := protocol.ParseReply(line)
			switch {
			case r.Err:
				backendFailed = true
				backendMsg = r.Message
			case r.Done:
				generationDuration.Observe(time.Since(start).Seconds())
				s.mu.Lock()
				s.generations++
				s.mu.Unlock()
				if backendFailed {
					generationsTotal.WithLabelValues(outcomeBackend).Inc()
					err := backend.NewError(backendMsg, nil)
					s.setLastErr(err)
					return "", err
				}
				generationsTotal.WithLabelValues(outcomeOK).Inc()
				return s.channel.ReadOrEmpty(), nil
			default:
				s.log.Debug().Int("pid", p.pid).Str("line", line).Msg("ignoring worker line")
			}
		case <-ctx.Done():
			return "", s.timedOut(p, time.Since(start), ctx.Err())
		}
	}
}

func (s *Supervisor) admit(ctx context.Context) (func(), error) {
	select {
	case s.slot <- struct{}{}:
		return func() { <-s.slot }, nil
	default:
	}
	t := time.NewTimer(s.cfg.AdmissionWait)
	defer t.Stop()
	select {
	case s.slot <- struct{}{}:
		return func() { <-s.slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, ErrBusy
	}
}

// current returns the live worker or the reason there is none.
func (s *Supervisor) current() (*process, error) {
	s.mu.Lock()
	p, stuck, stopped := s.proc, s.stuck, s.stopped
	s.mu.Unlock()
	switch {
	case p == nil:
		return nil, ErrNotRunning
	case stopped:
		return nil, exitedError{pid: p.pid, err: p.exitErr()}
	case stuck:
		return nil, ErrWorkerStuck
	case !p.alive():
		return nil, exitedError{pid: p.pid, err: p.exitErr()}
	}
	return p, nil
}

func (s *Supervisor) exited(p *process) error {
	werr := s.reap(p)
	err := exitedError{pid: p.pid, err: werr}
	generationsTotal.WithLabelValues(outcomeExited).Inc()
	workerUp.Set(0)
	s.setLastErr(err)
	s.log.Error().Int("pid", p.pid).Err(werr).Str("stderr_tail", p.stderr.String()).Msg("worker exited during request")
	return err
}

func (s *Supervisor) timedOut(p *process, after time.Duration, cause error) error {
	err := timeoutError{after: after, err: cause}
	s.mu.Lock()
	s.stuck = true
	s.lastErr = err.Error()
	s.mu.Unlock()
	workerUp.Set(0)
	if errors.Is(cause, context.Canceled) {
		generationsTotal.WithLabelValues(outcomeCancelled).Inc()
		s.log.Warn().Int("pid", p.pid).Dur("after", after).Msg("generation cancelled by caller; worker marked stuck")
		s.pub.Publish(Event{Name: "generate_cancelled", PID: p.pid, Fields: map[string]any{"after_ms": after.Milliseconds()}})
		return err
	}
	generationsTotal.WithLabelValues(outcomeTimeout).Inc()
	s.log.Warn().Int("pid", p.pid).Dur("after", after).Msg("generation timed out; worker marked stuck")
	s.pub.Publish(Event{Name: "generate_timeout", PID: p.pid, Fields: map[string]any{"after_ms": after.Milliseconds()}})
	return err
}

// Restart stops the current worker, if any, and starts a fresh one.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	s.stopLocked()
	restartsTotal.Inc()
	s.log.Info().Msg("restarting worker")
	return s.startLocked(ctx)
}

// SwitchModel restarts the worker with model passed through ModelFlag. The
// new arguments stay in effect for later restarts.
func (s *Supervisor) SwitchModel(ctx context.Context, model string) error {
	if s.cfg.ModelFlag == "" {
		return ErrModelSwitchUnsupported
	}
	s.life.Lock()
	defer s.life.Unlock()
	s.cfg.Args = withFlag(s.cfg.Args, s.cfg.ModelFlag, model)
	s.stopLocked()
	restartsTotal.Inc()
	s.log.Info().Str("model", model).Msg("restarting worker with new model")
	return s.startLocked(ctx)
}

// withFlag returns a copy of args with flag set to value, replacing both the
// "flag value" and "flag=value" forms.
func withFlag(args []string, flag, value string) []string {
	out := make([]string, 0, len(args)+2)
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == flag:
			i++
		case strings.HasPrefix(args[i], flag+"="):
		default:
			out = append(out, args[i])
		}
	}
	return append(out, flag, value)
}

// Stop sends quit, closes the worker input and kills it after StopGrace. A
// stopped supervisor keeps the dead handle, so later requests fail as exited.
func (s *Supervisor) Stop() error {
	s.life.Lock()
	defer s.life.Unlock()
	s.stopLocked()
	return nil
}

func (s *Supervisor) stopLocked() {
	s.mu.Lock()
	p := s.proc
	s.stuck = false
	if p != nil {
		s.stopped = true
	}
	s.mu.Unlock()
	if p != nil {
		killed := p.terminate(s.cfg.StopGrace)
		workerUp.Set(0)
		s.log.Info().Int("pid", p.pid).Bool("killed", killed).Msg("worker stopped")
		s.pub.Publish(Event{Name: "spawn_stop", PID: p.pid, Fields: map[string]any{"killed": killed}})
	}
	if s.ownsChannel {
		if err := s.channel.Remove(); err != nil {
			s.log.Warn().Err(err).Msg("remove payload channel")
		}
	}
}

// Ready reports whether a request would be sent to a worker right now.
func (s *Supervisor) Ready() bool {
	_, err := s.current()
	return err == nil
}

// Status snapshots the worker state.
func (s *Supervisor) Status() types.WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := types.WorkerStatus{
		State:       StateStopped,
		PayloadPath: s.channel.Path,
		Generations: s.generations,
		Starts:      s.starts,
		LastError:   s.lastErr,
	}
	switch p := s.proc; {
	case s.starting:
		st.State = StateStarting
	case p == nil || s.stopped:
	case !p.alive():
		st.State = StateExited
		st.PID = p.pid
	default:
		st.PID = p.pid
		st.StartedUnix = s.readyAt.Unix()
		switch {
		case s.stuck:
			st.State = StateStuck
		case s.busy:
			st.State = StateBusy
		default:
			st.State = StateReady
		}
	}
	return st
}

func (s *Supervisor) setBusy(b bool) {
	s.mu.Lock()
	s.busy = b
	s.mu.Unlock()
}

func (s *Supervisor) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
