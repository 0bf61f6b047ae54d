// Package runner orchestrates one project end to end: it acquires a
// scratch directory, stages every source file into it, runs each command
// in order, and assembles the ordered Response vector, following
// app/codebox.py's run_project.
package runner

import (
	"context"

	"github.com/sandboxd/sandboxd/internal/stage"
	"github.com/sandboxd/sandboxd/pkg/types"
)

// Executor runs one Command against a staged scratch directory. In
// production this is *sandboxexec.Executor; the narrow interface keeps
// this package decoupled from nsjail argument assembly.
type Executor interface {
	Execute(ctx context.Context, command types.Command, scratch string) types.Response
}

// Runner ties the Source Stager and Command Executor together for one
// project. A single Runner is safe for concurrent use: it holds no
// per-request state, only references to its collaborators.
type Runner struct {
	executor Executor
}

// New builds a Runner backed by executor.
func New(executor Executor) *Runner {
	return &Runner{executor: executor}
}

// Run stages sources into a fresh scratch directory and runs commands
// against it in order, returning one Response per command.
//
// If any source fails to stage, Run returns a single Response describing
// the first failure and runs no commands at all — staging failures are
// the only errors that short-circuit a project.
func (r *Runner) Run(ctx context.Context, sources types.Sourcefiles, commands []types.Command) []types.Response {
	scratch, err := newScratchDir()
	if err != nil {
		return []types.Response{{
			Stderr:   err.Error(),
			ExitCode: types.ExitSupervisorFailure,
		}}
	}
	defer cleanupScratch(scratch)

	for path, contents := range sources {
		if err := stage.Stage(scratch, path, contents); err != nil {
			return []types.Response{{
				Stderr:   err.Error(),
				ExitCode: types.ExitSupervisorFailure,
			}}
		}
	}

	responses := make([]types.Response, 0, len(commands))
	for _, command := range commands {
		responses = append(responses, r.executor.Execute(ctx, command, scratch))
	}
	return responses
}
