package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineBuffer     = 8 * 1024 * 1024
	stderrTailBytes   = 8 * 1024
)

// streamItem is what the reader goroutine hands the consumer: an event, or
// the error that ended the stream.
type streamItem struct {
	event StreamEvent
	err   error
}

// process is one runtime subprocess in its own process group.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	logger *slog.Logger

	readerDone chan struct{}
	waitDone   chan struct{}
	waitErr    error
}

type processConfig struct {
	Binary string
	Args   []string
	Dir    string
	Env    []string
	Stdin  string
}

func startProcess(cfg processConfig, logger *slog.Logger) (*process, error) {
	cmd := exec.Command(cfg.Binary, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// exec copies the prompt and closes stdin once it is written.
	cmd.Stdin = strings.NewReader(cfg.Stdin)

	stderr := newTailBuffer(stderrTailBytes)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Binary, err)
	}

	p := &process{
		cmd:        cmd,
		stdout:     stdout,
		stderr:     stderr,
		logger:     logger.With("pid", cmd.Process.Pid),
		readerDone: make(chan struct{}),
		waitDone:   make(chan struct{}),
	}

	// Wait must not run until stdout has been fully read, or buffered
	// output would be discarded.
	go func() {
		<-p.readerDone
		p.waitErr = cmd.Wait()
		close(p.waitDone)
	}()

	return p, nil
}

// events decodes stdout into an unbuffered channel. There is exactly one
// reader; it stops early when done is closed.
func (p *process) events(done <-chan struct{}) <-chan streamItem {
	out := make(chan streamItem)
	go func() {
		defer close(p.readerDone)
		defer close(out)

		scanner := bufio.NewScanner(p.stdout)
		scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineBuffer)
		for scanner.Scan() {
			event, ok, err := DecodeEvent(scanner.Bytes())
			if err != nil {
				p.logger.Debug("ignoring non-event output", "line", truncate(scanner.Text(), 200), "error", err)
				continue
			}
			if !ok {
				continue
			}
			select {
			case out <- streamItem{event: event}:
			case <-done:
				io.Copy(io.Discard, p.stdout)
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case out <- streamItem{err: fmt.Errorf("read runtime output: %w", err)}:
			case <-done:
			}
			io.Copy(io.Discard, p.stdout)
		}
	}()
	return out
}

// waitFor blocks until the process exits, for at most grace. exited is false
// if it was still running when grace ran out or ctx ended.
func (p *process) waitFor(ctx context.Context, grace time.Duration) (exited bool, err error) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.waitDone:
		return true, p.waitErr
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return false, nil
	}
}

// stop terminates the whole process group: SIGTERM, then SIGKILL after grace.
func (p *process) stop(grace time.Duration) {
	select {
	case <-p.waitDone:
		return
	default:
	}

	pid := p.cmd.Process.Pid
	syscall.Kill(-pid, syscall.SIGTERM)

	select {
	case <-p.waitDone:
		return
	case <-time.After(grace):
	}

	p.logger.Warn("runtime ignored SIGTERM, killing process group", "grace", grace)
	syscall.Kill(-pid, syscall.SIGKILL)
	select {
	case <-p.waitDone:
	case <-time.After(time.Second):
		p.logger.Error("runtime did not exit after SIGKILL")
	}
}

func (p *process) exitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// exitError renders a non-zero exit with the tail of stderr.
func exitError(err error, stderr string) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if tail := strings.TrimSpace(stderr); tail != "" {
			return fmt.Errorf("runtime exited with code %d: %s", exitErr.ExitCode(), lastLine(tail))
		}
		return fmt.Errorf("runtime exited with code %d", exitErr.ExitCode())
	}
	return err
}

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
