// Package sandboxexec spawns one nsjail-wrapped child process, streams its
// output under a byte cap, enforces a wall-clock deadline, and reaps the
// whole process group on timeout or cap breach.
package sandboxexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sandboxd/sandboxd/internal/nsjaillog"
	"github.com/sandboxd/sandboxd/pkg/types"
)

// ArgBuilder assembles the full argv for one jailed invocation. In
// production this is *jailargs.Builder; tests substitute a stub that
// bypasses nsjail entirely to exercise the executor's own timeout,
// output-cap, and signal handling in isolation.
type ArgBuilder interface {
	ArgsFor(scratchPath, logPath, command string) ([]string, error)
}

// Defaults mirror the Python reference's python3() helper: a 1 MB output
// cap, read in 10,000-byte chunks, and a bounded grace window between the
// first soft signal and SIGKILL.
const (
	DefaultOutputMax     = 1_000_000
	DefaultReadChunkSize = 10_000
	DefaultGrace         = 100 * time.Millisecond
	DefaultTimeout       = 0.2
)

// Executor runs one Command inside an nsjail envelope and reports a
// Response. It holds no per-invocation state; a single Executor is safe
// for concurrent use across requests.
type Executor struct {
	builder       ArgBuilder
	logger        *slog.Logger
	outputMax     int
	readChunkSize int
	grace         time.Duration
	debug         bool
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithOutputCap overrides the output byte cap and read chunk size.
func WithOutputCap(max, chunkSize int) Option {
	return func(e *Executor) {
		e.outputMax = max
		e.readChunkSize = chunkSize
	}
}

// WithGrace overrides the SIGTERM-to-SIGKILL grace period.
func WithGrace(d time.Duration) Option {
	return func(e *Executor) { e.grace = d }
}

// WithDebug enables nsjail debug-log passthrough when a command's jail log
// is demultiplexed (see internal/nsjaillog).
func WithDebug(debug bool) Option {
	return func(e *Executor) { e.debug = debug }
}

// NewExecutor builds an Executor backed by builder for argument assembly
// and logger as the sink for demultiplexed nsjail log lines.
func NewExecutor(builder ArgBuilder, logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		builder:       builder,
		logger:        logger,
		outputMax:     DefaultOutputMax,
		readChunkSize: DefaultReadChunkSize,
		grace:         DefaultGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute spawns command inside scratch's bind-mounted jail, waits up to
// command.Timeout seconds (or DefaultTimeout if unset), and returns the
// collected Response. ctx additionally bounds the call for request-level
// cancellation (client disconnect); it carries no per-command deadline of
// its own.
func (e *Executor) Execute(ctx context.Context, command types.Command, scratch string) types.Response {
	start := time.Now()

	timeout := command.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logFile, err := os.CreateTemp("", "sandboxd-nsjail-log-*.log")
	if err != nil {
		return e.spawnFailure(start, fmt.Errorf("create nsjail log file: %w", err))
	}
	logPath := logFile.Name()
	_ = logFile.Close()
	defer func() { _ = os.Remove(logPath) }()

	args, err := e.builder.ArgsFor(scratch, logPath, command.Command)
	if err != nil {
		return e.spawnFailure(start, err)
	}
	if len(args) == 0 {
		return e.spawnFailure(start, fmt.Errorf("empty argument vector for command %q", command.Command))
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if command.Stdin != "" {
		cmd.Stdin = strings.NewReader(command.Stdin)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return e.spawnFailure(start, fmt.Errorf("attach stdout pipe: %w", err))
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return e.spawnFailure(start, fmt.Errorf("attach stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return e.spawnFailure(start, fmt.Errorf("spawn nsjail: %w", err))
	}

	done := make(chan struct{})
	terminate := e.groupTerminator(cmd, done)

	var timedOut atomic.Bool
	timer := time.AfterFunc(time.Duration(timeout*float64(time.Second)), func() {
		timedOut.Store(true)
		terminate()
	})

	go func() {
		select {
		case <-ctx.Done():
			terminate()
		case <-done:
		}
	}()

	stdoutCh := captureOutput(stdoutPipe, e.outputMax, e.readChunkSize, terminate)
	stderrCh := captureOutput(stderrPipe, e.outputMax, e.readChunkSize, terminate)

	waitErr := cmd.Wait()
	timer.Stop()
	close(done)

	stdoutRes := <-stdoutCh
	stderrRes := <-stderrCh

	elapsed := time.Since(start).Seconds()

	if timedOut.Load() {
		stdout := string(stdoutRes.data)
		stderr := string(stderrRes.data)
		if stdout == "" && stderr == "" {
			stderr = fmt.Sprintf("Timeout Error. Exceeded %gs", timeout)
		}
		return types.Response{
			Stdout:      stdout,
			Stderr:      stderr,
			ExitCode:    types.ExitSupervisorFailure,
			ElapsedTime: elapsed,
		}
	}

	resp := types.Response{
		Stdout:      string(stdoutRes.data),
		Stderr:      string(stderrRes.data),
		ExitCode:    exitCodeFrom(waitErr, cmd.ProcessState),
		ElapsedTime: elapsed,
	}

	if stdoutRes.truncated || stderrRes.truncated {
		// OutputCapExceeded: the supervisor aborted the child before it
		// could finish, so whatever exit status the OS reports is not
		// trustworthy as "success".
		resp.ExitCode = types.ExitSupervisorFailure
	}

	if resp.ExitCode != 0 && resp.Stderr == "" {
		if lines, rerr := readLogLines(logPath); rerr == nil {
			nsjaillog.Demux(e.logger, lines, e.debug)
		}
	}

	return resp
}

// groupTerminator returns a function that sends SIGTERM to command's
// process group, then SIGKILL after the configured grace period if the
// process has not exited by then. Safe to call more than once or
// concurrently; only the first call has effect.
func (e *Executor) groupTerminator(cmd *exec.Cmd, done <-chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if cmd.Process == nil {
				return
			}
			pid := cmd.Process.Pid
			_ = syscall.Kill(-pid, syscall.SIGTERM)
			go func() {
				select {
				case <-done:
				case <-time.After(e.grace):
					_ = syscall.Kill(-pid, syscall.SIGKILL)
				}
			}()
		})
	}
}

func (e *Executor) spawnFailure(start time.Time, err error) types.Response {
	return types.Response{
		Stderr:      err.Error(),
		ExitCode:    types.ExitSupervisorFailure,
		ElapsedTime: time.Since(start).Seconds(),
	}
}

// exitCodeFrom converts an *exec.Cmd's wait outcome into sandboxd's exit
// code convention: the child's own exit status, or 128+N when it was
// terminated by signal N.
func exitCodeFrom(waitErr error, state *os.ProcessState) int {
	if state == nil {
		if waitErr != nil {
			return types.ExitSupervisorFailure
		}
		return 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			return types.ExitForSignal(int(ws.Signal()))
		}
		return ws.ExitStatus()
	}
	return state.ExitCode()
}

type capturedOutput struct {
	data      []byte
	truncated bool
}

// captureOutput drains r on a background goroutine up to maxBytes, reading
// chunkSize bytes at a time. Once the cumulative size would exceed
// maxBytes, it calls abort (idempotent) and keeps draining r to EOF
// without retaining further bytes, so the child's pipe never blocks on a
// full buffer.
func captureOutput(r io.Reader, maxBytes, chunkSize int, abort func()) <-chan capturedOutput {
	ch := make(chan capturedOutput, 1)
	go func() {
		buf := make([]byte, chunkSize)
		var out bytes.Buffer
		truncated := false
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if !truncated {
					remaining := maxBytes - out.Len()
					switch {
					case remaining <= 0:
						truncated = true
						abort()
					case n > remaining:
						out.Write(buf[:remaining])
						truncated = true
						abort()
					default:
						out.Write(buf[:n])
					}
				}
			}
			if err != nil {
				break
			}
		}
		ch <- capturedOutput{data: out.Bytes(), truncated: truncated}
	}()
	return ch
}

func readLogLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
