package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"textgen/internal/backend"
	"textgen/internal/payload"
	"textgen/internal/worker"
)

// helperEnv makes the test binary act as a worker with the named backend.
const helperEnv = "TEXTGEN_SUPERVISOR_TEST_WORKER"

func TestMain(m *testing.M) {
	if kind := os.Getenv(helperEnv); kind != "" {
		os.Exit(runHelperWorker(kind))
	}
	os.Exit(m.Run())
}

// scripted reacts to magic prompts; anything else is echoed with the budget.
type scripted struct{ model string }

func (s scripted) Generate(ctx context.Context, prompt string, maxTokens int, _ backend.Sampling) (string, error) {
	switch prompt {
	case "model?":
		return "model=" + s.model, nil
	case "hang":
		<-ctx.Done()
		return "", ctx.Err()
	case "fail":
		return "", errors.New("model exploded")
	case "crash":
		os.Exit(3)
	}
	return prompt + " ok " + strconv.Itoa(maxTokens), nil
}

func (scripted) Close() error { return nil }

func runHelperWorker(kind string) int {
	model := ""
	for i, a := range os.Args {
		if a == "--model" && i+1 < len(os.Args) {
			model = os.Args[i+1]
		}
	}
	backend.Register("scripted", func(ctx context.Context, _ backend.Options) (backend.Backend, error) {
		return scripted{model: model}, nil
	})
	backend.Register("badload", func(ctx context.Context, _ backend.Options) (backend.Backend, error) {
		return nil, errors.New("no model at /nowhere.gguf")
	})
	backend.Register("slowload", func(ctx context.Context, _ backend.Options) (backend.Backend, error) {
		time.Sleep(time.Minute)
		return scripted{}, nil
	})
	log := zerolog.New(os.Stderr)
	w := worker.New(worker.Config{
		Backend:       backend.Options{Kind: kind},
		PayloadPath:   os.Getenv(payload.EnvPath),
		DefaultBudget: 16,
	}, log)
	if err := w.Run(context.Background(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func testConfig(t *testing.T, kind string) Config {
	t.Helper()
	return Config{
		Bin:             os.Args[0],
		Args:            []string{"-test.run=^$"},
		Env:             []string{helperEnv + "=" + kind},
		PayloadDir:      t.TempDir(),
		StartupTimeout:  20 * time.Second,
		GenerateTimeout: 20 * time.Second,
		StopGrace:       500 * time.Millisecond,
	}
}

func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *MemoryPublisher) {
	t.Helper()
	pub := NewMemoryPublisher()
	s := New(cfg, zerolog.Nop(), WithPublisher(pub))
	t.Cleanup(func() { _ = s.Stop() })
	return s, pub
}

func startTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *MemoryPublisher) {
	t.Helper()
	s, pub := newTestSupervisor(t, cfg)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s, pub
}

func hasEvent(pub *MemoryPublisher, name string) bool {
	for _, n := range pub.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func TestGenerateEndToEndWithBabble(t *testing.T) {
	s, pub := startTestSupervisor(t, testConfig(t, backend.KindBabble))
	if !s.Ready() {
		t.Fatalf("expected ready after start")
	}
	prompt := "The quick brown fox"
	out, err := s.Generate(context.Background(), prompt, 50)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(out, prompt) {
		t.Fatalf("result does not extend prompt: %q", out)
	}
	if n := len(strings.Fields(strings.TrimPrefix(out, prompt))); n == 0 || n > 50 {
		t.Fatalf("continuation has %d words", n)
	}
	again, err := s.Generate(context.Background(), prompt, 50)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if again != out {
		t.Fatalf("deterministic generation differs: %q vs %q", out, again)
	}
	st := s.Status()
	if st.State != StateReady || st.Generations != 2 || st.Starts != 1 || st.PID == 0 {
		t.Fatalf("unexpected status %+v", st)
	}
	if !hasEvent(pub, "spawn_start") || !hasEvent(pub, "spawn_ready") {
		t.Fatalf("missing spawn events: %v", pub.Names())
	}
}

func TestGenerateBudgetAndSessionDefault(t *testing.T) {
	s, _ := startTestSupervisor(t, testConfig(t, "scripted"))
	out, err := s.Generate(context.Background(), "x", 7)
	if err != nil || out != "x ok 7" {
		t.Fatalf("generate = %q, %v", out, err)
	}
	// No budget: the worker keeps using the last valid one.
	out, err = s.Generate(context.Background(), "x", 0)
	if err != nil || out != "x ok 7" {
		t.Fatalf("generate without budget = %q, %v", out, err)
	}
}

func TestGenerateMultilinePrompt(t *testing.T) {
	s, _ := startTestSupervisor(t, testConfig(t, "scripted"))
	prompt := "first line\n\tsecond line\n"
	out, err := s.Generate(context.Background(), prompt, 3)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != prompt+" ok 3" {
		t.Fatalf("result = %q", out)
	}
}

func TestBackendErrorKeepsWorker(t *testing.T) {
	s, _ := startTestSupervisor(t, testConfig(t, "scripted"))
	_, err := s.Generate(context.Background(), "fail", 5)
	if !backend.IsBackendError(err) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if !strings.Contains(err.Error(), "model exploded") {
		t.Fatalf("backend message lost: %v", err)
	}
	if !s.Ready() {
		t.Fatalf("worker must stay usable after a backend error")
	}
	if out, err := s.Generate(context.Background(), "y", 2); err != nil || out != "y ok 2" {
		t.Fatalf("generate after failure = %q, %v", out, err)
	}
}

func TestTimeoutMarksStuckUntilRestart(t *testing.T) {
	cfg := testConfig(t, "scripted")
	cfg.GenerateTimeout = 300 * time.Millisecond
	s, pub := startTestSupervisor(t, cfg)

	start := time.Now()
	_, err := s.Generate(context.Background(), "hang", 5)
	if !IsWorkerTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout should wrap the deadline, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout took too long")
	}
	if !hasEvent(pub, "generate_timeout") {
		t.Fatalf("missing generate_timeout event: %v", pub.Names())
	}
	if _, err := s.Generate(context.Background(), "x", 1); !IsStuck(err) {
		t.Fatalf("expected stuck, got %v", err)
	}
	if st := s.Status(); st.State != StateStuck {
		t.Fatalf("state = %s", st.State)
	}

	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	out, err := s.Generate(context.Background(), "x", 1)
	if err != nil || out != "x ok 1" {
		t.Fatalf("generate after restart = %q, %v", out, err)
	}
	if st := s.Status(); st.Starts != 2 {
		t.Fatalf("starts = %d", st.Starts)
	}
}

func TestCallerDeadlineOverridesDefault(t *testing.T) {
	s, _ := startTestSupervisor(t, testConfig(t, "scripted"))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := s.Generate(ctx, "hang", 5); !IsWorkerTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("caller deadline ignored")
	}
}

func TestWorkerCrashIsExited(t *testing.T) {
	s, pub := startTestSupervisor(t, testConfig(t, "scripted"))
	_, err := s.Generate(context.Background(), "crash", 5)
	if !IsWorkerExited(err) {
		t.Fatalf("expected exited, got %v", err)
	}
	if !hasEvent(pub, "spawn_exit") {
		t.Fatalf("missing spawn_exit: %v", pub.Names())
	}
	if _, err := s.Generate(context.Background(), "x", 1); !IsWorkerExited(err) {
		t.Fatalf("dead handle must report exited, got %v", err)
	}
	if st := s.Status(); st.State != StateExited {
		t.Fatalf("state = %s", st.State)
	}
	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !s.Ready() {
		t.Fatalf("not ready after restart")
	}
}

func TestStopThenGenerateFailsFast(t *testing.T) {
	s, pub := startTestSupervisor(t, testConfig(t, "scripted"))
	if _, err := s.Generate(context.Background(), "x", 1); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	start := time.Now()
	if _, err := s.Generate(context.Background(), "x", 1); !IsWorkerExited(err) {
		t.Fatalf("expected exited after stop, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("dead handle did not fail fast")
	}
	if s.Ready() {
		t.Fatalf("stopped worker reported ready")
	}
	if st := s.Status(); st.State != StateStopped {
		t.Fatalf("state = %s", st.State)
	}
	if _, err := os.Stat(s.PayloadPath()); !os.IsNotExist(err) {
		t.Fatalf("unique payload channel not removed: %v", err)
	}
	if !hasEvent(pub, "spawn_stop") {
		t.Fatalf("missing spawn_stop: %v", pub.Names())
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestStopKillsBusyWorker(t *testing.T) {
	cfg := testConfig(t, "scripted")
	s, _ := startTestSupervisor(t, cfg)
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Generate(context.Background(), "hang", 1)
		errCh <- err
	}()
	waitForState(t, s, StateBusy)
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case err := <-errCh:
		if !IsWorkerExited(err) {
			t.Fatalf("expected exited, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("generate did not return after stop")
	}
}

func TestAdmissionBusy(t *testing.T) {
	cfg := testConfig(t, "scripted")
	cfg.GenerateTimeout = 3 * time.Second
	cfg.AdmissionWait = 100 * time.Millisecond
	s, _ := startTestSupervisor(t, cfg)
	go func() { _, _ = s.Generate(context.Background(), "hang", 1) }()
	waitForState(t, s, StateBusy)
	if _, err := s.Generate(context.Background(), "x", 1); !IsBusy(err) {
		t.Fatalf("expected busy, got %v", err)
	}
}

func TestStartupFailureCarriesStderr(t *testing.T) {
	s, _ := newTestSupervisor(t, testConfig(t, "badload"))
	err := s.Start(context.Background())
	if !IsWorkerStartup(err) {
		t.Fatalf("expected startup error, got %v", err)
	}
	if !strings.Contains(err.Error(), "no model at /nowhere.gguf") {
		t.Fatalf("stderr tail missing from %v", err)
	}
	if s.Ready() {
		t.Fatalf("failed start reported ready")
	}
	if st := s.Status(); st.LastError == "" {
		t.Fatalf("last error not recorded")
	}
	if _, err := s.Generate(context.Background(), "x", 1); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected not running, got %v", err)
	}
}

func TestStartupTimeout(t *testing.T) {
	cfg := testConfig(t, "slowload")
	cfg.StartupTimeout = 300 * time.Millisecond
	s, pub := newTestSupervisor(t, cfg)
	err := s.Start(context.Background())
	if !IsWorkerStartup(err) {
		t.Fatalf("expected startup error, got %v", err)
	}
	if !hasEvent(pub, "spawn_timeout") {
		t.Fatalf("missing spawn_timeout: %v", pub.Names())
	}
}

func TestStartTwice(t *testing.T) {
	s, _ := startTestSupervisor(t, testConfig(t, "scripted"))
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected already running, got %v", err)
	}
}

func TestFixedPayloadPath(t *testing.T) {
	cfg := testConfig(t, "scripted")
	cfg.PayloadPath = t.TempDir() + "/fixed.payload"
	s, _ := startTestSupervisor(t, cfg)
	if s.PayloadPath() != cfg.PayloadPath {
		t.Fatalf("payload path = %s", s.PayloadPath())
	}
	if _, err := s.Generate(context.Background(), "x", 1); err != nil {
		t.Fatalf("generate: %v", err)
	}
	_ = s.Stop()
	if _, err := os.Stat(cfg.PayloadPath); err != nil {
		t.Fatalf("fixed payload file must survive stop: %v", err)
	}
}

func TestStderrTail(t *testing.T) {
	tail := &stderrTail{log: zerolog.Nop()}
	_, _ = tail.Write([]byte("first\nsec"))
	_, _ = tail.Write([]byte("ond\n"))
	if got := tail.String(); got != "first\nsecond" {
		t.Fatalf("tail = %q", got)
	}
	big := strings.Repeat("x", stderrTailBytes*2)
	_, _ = tail.Write([]byte(big))
	if got := tail.String(); len(got) != stderrTailBytes {
		t.Fatalf("tail length = %d", len(got))
	}
}

func waitForState(t *testing.T, s *Supervisor, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status().State == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("state never became %s (last %s)", want, s.Status().State)
}

func TestStopRacesGenerate(t *testing.T) {
	s, _ := startTestSupervisor(t, testConfig(t, "scripted"))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_, err := s.Generate(context.Background(), "x", 1)
			if err != nil && !IsWorkerExited(err) {
				t.Errorf("generate %d: %v", i, err)
				return
			}
			_ = s.Status()
			_ = s.Ready()
		}
	}()
	time.Sleep(20 * time.Millisecond)
	if err := s.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	<-done
	if _, err := s.Generate(context.Background(), "x", 1); !IsWorkerExited(err) {
		t.Fatalf("expected exited after stop, got %v", err)
	}
}

func TestSwitchModelRestartsWithFlag(t *testing.T) {
	cfg := testConfig(t, "scripted")
	cfg.ModelFlag = "--model"
	s, _ := startTestSupervisor(t, cfg)

	out, err := s.Generate(context.Background(), "model?", 1)
	if err != nil || out != "model=" {
		t.Fatalf("before switch = %q, %v", out, err)
	}
	if err := s.SwitchModel(context.Background(), "b.gguf"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	out, err = s.Generate(context.Background(), "model?", 1)
	if err != nil || out != "model=b.gguf" {
		t.Fatalf("after switch = %q, %v", out, err)
	}
	if err := s.SwitchModel(context.Background(), "c.gguf"); err != nil {
		t.Fatalf("second switch: %v", err)
	}
	out, _ = s.Generate(context.Background(), "model?", 1)
	if out != "model=c.gguf" {
		t.Fatalf("after second switch = %q", out)
	}
	if st := s.Status(); st.Starts != 3 {
		t.Fatalf("starts = %d", st.Starts)
	}

	// A restart keeps the chosen model.
	if err := s.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if out, _ := s.Generate(context.Background(), "model?", 1); out != "model=c.gguf" {
		t.Fatalf("after restart = %q", out)
	}
}

func TestSwitchModelWithoutFlag(t *testing.T) {
	s, _ := newTestSupervisor(t, testConfig(t, "scripted"))
	if err := s.SwitchModel(context.Background(), "b.gguf"); !errors.Is(err, ErrModelSwitchUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func TestWithFlag(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{[]string{"worker"}, "worker --model m"},
		{[]string{"worker", "--model", "old", "--log-level", "info"}, "worker --log-level info --model m"},
		{[]string{"worker", "--model=old"}, "worker --model m"},
	}
	for _, c := range cases {
		in := append([]string(nil), c.in...)
		got := strings.Join(withFlag(c.in, "--model", "m"), " ")
		if got != c.want {
			t.Fatalf("withFlag(%v) = %q, want %q", c.in, got, c.want)
		}
		if strings.Join(in, " ") != strings.Join(c.in, " ") {
			t.Fatalf("withFlag modified its input")
		}
	}
}

func TestCallerCancelIsReportedAsCancellation(t *testing.T) {
	s, pub := startTestSupervisor(t, testConfig(t, "scripted"))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := s.Generate(ctx, "hang", 1)
		errCh <- err
	}()
	waitForState(t, s, StateBusy)
	cancel()
	err := <-errCh
	if !IsWorkerTimeout(err) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if !strings.Contains(err.Error(), "cancelled by the caller") {
		t.Fatalf("message = %q", err.Error())
	}
	if !hasEvent(pub, "generate_cancelled") || hasEvent(pub, "generate_timeout") {
		t.Fatalf("events = %v", pub.Names())
	}
	if st := s.Status(); st.State != StateStuck {
		t.Fatalf("state = %s", st.State)
	}
}

func TestStartupExitReleasesLineReader(t *testing.T) {
	cfg := testConfig(t, "badload")
	s, _ := newTestSupervisor(t, cfg)
	p, err := spawn(s.cfg, s.channel.Path, zerolog.Nop())
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if err := s.awaitReady(context.Background(), p); !IsWorkerStartup(err) {
		t.Fatalf("expected startup error, got %v", err)
	}
	select {
	case <-p.abandoned:
	default:
		t.Fatalf("line reader not released after startup failure")
	}
	if p.alive() {
		t.Fatalf("process still alive after startup failure")
	}
	if p.exitErr() == nil {
		t.Fatalf("expected non-nil exit error from a failed load")
	}
}
