// Package jailargs builds the nsjail argument vector for one sandboxed
// command invocation, folding in the cgroup decisions made once at process
// start (see pkg/system/cgroup).
package jailargs

import (
	"fmt"
	"strconv"

	"github.com/sandboxd/sandboxd/internal/shellsplit"
	"github.com/sandboxd/sandboxd/pkg/system/cgroup"
)

// Builder produces argument vectors for nsjail invocations. The fixed
// prefix (binary path, base config, resource caps, cgroup flags) is
// resolved once from Config and the cgroup Profile; ArgsFor only appends
// the per-call bind-mount, log path, and user command.
type Builder struct {
	nsjailBin     string
	nsjailCfg     string
	cgroupMemMax  int64
	cgroupPidsMax int64
	profile       cgroup.Profile

	cached []string
}

// Config carries the pieces of internal/config this builder needs; kept as
// a narrow struct rather than importing the config package wholesale, so
// this package depends only on the fields it actually uses.
type Config struct {
	NsjailBin     string
	NsjailCfg     string
	CgroupMemMax  int64
	CgroupPidsMax int64
}

// NewBuilder constructs a Builder. profile is normally the value returned
// by a process-wide cgroup.Controller's Profile() call.
func NewBuilder(cfg Config, profile cgroup.Profile) *Builder {
	b := &Builder{
		nsjailBin:     cfg.NsjailBin,
		nsjailCfg:     cfg.NsjailCfg,
		cgroupMemMax:  cfg.CgroupMemMax,
		cgroupPidsMax: cfg.CgroupPidsMax,
		profile:       profile,
	}
	b.cached = b.buildPrefix()
	return b
}

// buildPrefix assembles the portion of the argument vector that is
// identical across every invocation in this process: the binary, the base
// config, the resource caps, and the cgroup-version flag.
func (b *Builder) buildPrefix() []string {
	args := []string{
		b.nsjailBin,
		"--config", b.nsjailCfg,
		"--cgroup_mem_max", strconv.FormatInt(b.cgroupMemMax, 10),
		"--cgroup_pids_max", strconv.FormatInt(b.cgroupPidsMax, 10),
	}
	if b.profile.Version == 2 {
		args = append(args, "--use_cgroupv2")
	}
	if !b.profile.IgnoreSwapLimits {
		args = append(args, "--cgroup_mem_swap_max", strconv.FormatInt(b.cgroupMemMax, 10))
	}
	return args
}

// ArgsFor returns the full argument vector for one invocation: the cached
// prefix, the per-call bind-mount of scratchPath onto /sandbox, the log
// file path, the "--" terminator, and finally command split with POSIX
// shell-word rules.
func (b *Builder) ArgsFor(scratchPath, logPath, command string) ([]string, error) {
	words, err := shellsplit.Split(command)
	if err != nil {
		return nil, fmt.Errorf("split command %q: %w", command, err)
	}

	args := make([]string, 0, len(b.cached)+10+len(words))
	args = append(args, b.cached...)
	args = append(args,
		"--bindmount", fmt.Sprintf("%s:/sandbox", scratchPath),
		"--cwd", "/sandbox",
		"--env", "HOME=/sandbox",
		"--log", logPath,
		"--",
	)
	args = append(args, words...)
	return args, nil
}
