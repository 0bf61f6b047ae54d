package sandboxexec

import (
	"context"
	"testing"
	"time"

	"github.com/sandboxd/sandboxd/internal/shellsplit"
	"github.com/sandboxd/sandboxd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughBuilder bypasses nsjail entirely so these tests exercise the
// executor's own process-group, timeout, and output-cap behavior without
// requiring the real binary to be installed.
type passthroughBuilder struct{}

func (passthroughBuilder) ArgsFor(scratchPath, logPath, command string) ([]string, error) {
	return shellsplit.Split(command)
}

func newTestExecutor(opts ...Option) *Executor {
	return NewExecutor(passthroughBuilder{}, nil, opts...)
}

func TestExecute_Hello(t *testing.T) {
	e := newTestExecutor()
	resp := e.Execute(context.Background(), types.Command{Command: "/bin/echo 1 2 3", Timeout: 1}, t.TempDir())

	assert.Equal(t, "1 2 3\n", resp.Stdout)
	assert.Equal(t, "", resp.Stderr)
	assert.Equal(t, 0, resp.ExitCode)
}

func TestExecute_Timeout(t *testing.T) {
	e := newTestExecutor(WithGrace(20 * time.Millisecond))
	resp := e.Execute(context.Background(), types.Command{Command: "/bin/sleep 0.2", Timeout: 0.1}, t.TempDir())

	assert.Equal(t, types.ExitSupervisorFailure, resp.ExitCode)
	assert.Contains(t, resp.Stderr, "Timeout Error. Exceeded 0.1s")
	assert.Equal(t, "", resp.Stdout)
}

func TestExecute_NonZeroExit(t *testing.T) {
	e := newTestExecutor()
	resp := e.Execute(context.Background(), types.Command{Command: "/bin/sh -c \"exit 3\"", Timeout: 1}, t.TempDir())

	assert.Equal(t, 3, resp.ExitCode)
}

func TestExecute_StdinDelivered(t *testing.T) {
	e := newTestExecutor()
	resp := e.Execute(context.Background(), types.Command{Command: "/bin/cat", Stdin: "hello\n", Timeout: 1}, t.TempDir())

	assert.Equal(t, "hello\n", resp.Stdout)
	assert.Equal(t, 0, resp.ExitCode)
}

func TestExecute_SignalledChild(t *testing.T) {
	e := newTestExecutor()
	// kill -9 $$ sends SIGKILL to the shell itself.
	resp := e.Execute(context.Background(), types.Command{Command: "/bin/sh -c \"kill -9 $$\"", Timeout: 1}, t.TempDir())

	assert.Equal(t, types.ExitForSignal(9), resp.ExitCode)
}

func TestExecute_OutputCapTruncatesAndAborts(t *testing.T) {
	e := newTestExecutor(WithOutputCap(10, 4))
	resp := e.Execute(context.Background(), types.Command{Command: "/bin/sh -c \"yes x | head -c 1000000\"", Timeout: 2}, t.TempDir())

	assert.LessOrEqual(t, len(resp.Stdout), 10)
	assert.Equal(t, types.ExitSupervisorFailure, resp.ExitCode)
}

func TestExecute_SpawnFailure_NonexistentCommand(t *testing.T) {
	e := newTestExecutor()
	resp := e.Execute(context.Background(), types.Command{Command: "/no/such/binary", Timeout: 1}, t.TempDir())

	assert.Equal(t, types.ExitSupervisorFailure, resp.ExitCode)
	assert.NotEmpty(t, resp.Stderr)
}

func TestExecute_ElapsedTimeRecorded(t *testing.T) {
	e := newTestExecutor()
	resp := e.Execute(context.Background(), types.Command{Command: "/bin/echo hi", Timeout: 1}, t.TempDir())

	require.Greater(t, resp.ElapsedTime, 0.0)
	assert.Less(t, resp.ElapsedTime, 1.0)
}
