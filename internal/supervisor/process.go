package supervisor

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"textgen/internal/payload"
	"textgen/internal/protocol"
)

const (
	// stderrTailBytes is how much worker stderr is kept for error messages.
	stderrTailBytes = 4096
	maxReplyBytes   = 64 * 1024
)

// process is one spawned worker. lines carries stdout lines and is closed at
// EOF; exited is closed once cmd.Wait returned and waitErr is set. waitErr is
// only read through exitErr.
type process struct {
	cmd     *exec.Cmd
	pid     int
	started time.Time

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	lines   chan string
	exited  chan struct{}
	waitErr error
	stderr  *stderrTail

	abandonOnce sync.Once
	abandoned   chan struct{}
}

// spawn starts cfg.Bin with the channel path exported in the environment.
// Stdout goes through an os.Pipe so cmd.Wait never races the line reader.
func spawn(cfg Config, channelPath string, log zerolog.Logger) (*process, error) {
	cmd := exec.Command(cfg.Bin, cfg.Args...)
	cmd.Env = append(append(os.Environ(), cfg.Env...), payload.EnvPath+"="+channelPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	r, w, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = w
	tail := &stderrTail{log: log}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		_ = stdin.Close()
		return nil, fmt.Errorf("start worker %s: %w", cfg.Bin, err)
	}
	// The child holds its own copy; ours must go so EOF arrives on exit.
	_ = w.Close()

	p := &process{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		started:   time.Now(),
		stdin:     stdin,
		lines:     make(chan string, 16),
		exited:    make(chan struct{}),
		stderr:    tail,
		abandoned: make(chan struct{}),
	}
	tail.setPID(p.pid)
	go p.readLines(r)
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// exitErr returns the cmd.Wait error once the process was reaped, nil while
// it is still running.
func (p *process) exitErr() error {
	select {
	case <-p.exited:
		return p.waitErr
	default:
		return nil
	}
}

// abandon releases the line reader when nobody will drain lines anymore.
func (p *process) abandon() { p.abandonOnce.Do(func() { close(p.abandoned) }) }

func (p *process) readLines(r io.ReadCloser) {
	defer r.Close()
	defer close(p.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxReplyBytes)
	for sc.Scan() {
		select {
		case p.lines <- sc.Text():
		case <-p.abandoned:
			return
		}
	}
}

func (p *process) send(line string) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()
	_, err := io.WriteString(p.stdin, line+"\n")
	return err
}

func (p *process) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// waitExit waits up to d for the process to be reaped and returns its exit
// error. exited is false when it is still running.
func (p *process) waitExit(d time.Duration) (exited bool, err error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-p.exited:
		return true, p.exitErr()
	case <-t.C:
		return false, nil
	}
}

// terminate asks the worker to quit, closes its input and kills it after
// grace. It always returns with the process reaped.
func (p *process) terminate(grace time.Duration) (killed bool) {
	p.abandon()
	if p.alive() {
		_ = p.send(protocol.WordQuit)
	}
	p.stdinMu.Lock()
	_ = p.stdin.Close()
	p.stdinMu.Unlock()
	if exited, _ := p.waitExit(grace); exited {
		return false
	}
	_ = p.cmd.Process.Kill()
	<-p.exited
	return true
}

// stderrTail forwards worker stderr to the log line by line and keeps the
// last stderrTailBytes for error reports.
type stderrTail struct {
	mu      sync.Mutex
	log     zerolog.Logger
	partial []byte
	tail    []byte
}

func (t *stderrTail) setPID(pid int) {
	t.mu.Lock()
	t.log = t.log.With().Int("worker_pid", pid).Logger()
	t.mu.Unlock()
}

func (t *stderrTail) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tail = append(t.tail, b...)
	if len(t.tail) > stderrTailBytes {
		t.tail = append([]byte(nil), t.tail[len(t.tail)-stderrTailBytes:]...)
	}
	t.partial = append(t.partial, b...)
	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(t.partial[:i]); len(line) > 0 {
			t.log.Debug().Bytes("line", line).Msg("worker stderr")
		}
		t.partial = t.partial[i+1:]
	}
	if len(t.partial) > stderrTailBytes {
		t.log.Debug().Bytes("line", t.partial).Msg("worker stderr")
		t.partial = nil
	}
	return len(b), nil
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(bytes.TrimSpace(t.tail))
}
