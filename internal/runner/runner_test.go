package runner

import (
	"context"
	"os"
	"testing"

	"github.com/sandboxd/sandboxd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor records the scratch directory each command ran against and
// returns a canned Response keyed off the command's shell line, so tests
// can assert the runner's orchestration without spawning real processes.
type fakeExecutor struct {
	responses map[string]types.Response
	scratches []string
}

func (f *fakeExecutor) Execute(_ context.Context, command types.Command, scratch string) types.Response {
	f.scratches = append(f.scratches, scratch)
	if r, ok := f.responses[command.Command]; ok {
		return r
	}
	return types.Response{ExitCode: 0}
}

func TestRunner_EmptyProject(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]types.Response{}}
	r := New(exec)

	got := r.Run(context.Background(), types.Sourcefiles{}, nil)
	assert.Empty(t, got)
}

func TestRunner_StagesThenRunsInOrder(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]types.Response{
		"/bin/cat main.py": {Stdout: "print(1)\n", ExitCode: 0},
		"/bin/cat lib/h.py": {Stdout: "print(2)\n", ExitCode: 0},
	}}
	r := New(exec)

	sources := types.Sourcefiles{"main.py": "print(1)\n", "lib/h.py": "print(2)\n"}
	commands := []types.Command{
		{Command: "/bin/cat main.py"},
		{Command: "/bin/cat lib/h.py"},
	}
	got := r.Run(context.Background(), sources, commands)

	require.Len(t, got, 2)
	assert.Equal(t, "print(1)\n", got[0].Stdout)
	assert.Equal(t, "print(2)\n", got[1].Stdout)

	// Every command ran against the same scratch directory, and it was
	// cleaned up after Run returned.
	require.Len(t, exec.scratches, 2)
	assert.Equal(t, exec.scratches[0], exec.scratches[1])
	_, statErr := os.Stat(exec.scratches[0])
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunner_PathEscapeShortCircuits(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]types.Response{}}
	r := New(exec)

	sources := types.Sourcefiles{"../../../etc/passwd": "x"}
	commands := []types.Command{{Command: "/bin/true"}}

	got := r.Run(context.Background(), sources, commands)

	require.Len(t, got, 1)
	assert.Equal(t, types.ExitSupervisorFailure, got[0].ExitCode)
	assert.Contains(t, got[0].Stderr, "Invalid file path: /etc/passwd")
	assert.Empty(t, exec.scratches, "no command should have run after a staging failure")
}

func TestRunner_DoesNotShortCircuitOnNonZeroExit(t *testing.T) {
	exec := &fakeExecutor{responses: map[string]types.Response{
		"/bin/false": {ExitCode: 1},
		"/bin/true":  {ExitCode: 0},
	}}
	r := New(exec)

	got := r.Run(context.Background(), types.Sourcefiles{}, []types.Command{
		{Command: "/bin/false"},
		{Command: "/bin/true"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].ExitCode)
	assert.Equal(t, 0, got[1].ExitCode)
}
