package jailargs

import (
	"testing"

	"github.com/sandboxd/sandboxd/pkg/system/cgroup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		NsjailBin:     "/usr/sbin/nsjail",
		NsjailCfg:     "/etc/sandboxd/nsjail.cfg",
		CgroupMemMax:  64_000_000,
		CgroupPidsMax: 12,
	}
}

func TestBuilder_ArgsFor_V2NoSwap(t *testing.T) {
	b := NewBuilder(testConfig(), cgroup.Profile{Version: 2, IgnoreSwapLimits: true})

	args, err := b.ArgsFor("/tmp/sandbox_abc", "/tmp/sandbox_abc.log", "/bin/echo 1 2 3")
	require.NoError(t, err)

	assert.Contains(t, args, "--use_cgroupv2")
	assert.NotContains(t, args, "--cgroup_mem_swap_max")
	assert.Contains(t, args, "/tmp/sandbox_abc:/sandbox")
	assert.Equal(t, []string{"/bin/echo", "1", "2", "3"}, args[len(args)-4:])
	assert.Equal(t, "--", args[len(args)-5])
}

func TestBuilder_ArgsFor_V1WithSwap(t *testing.T) {
	b := NewBuilder(testConfig(), cgroup.Profile{Version: 1, IgnoreSwapLimits: false})

	args, err := b.ArgsFor("/tmp/sandbox_xyz", "/tmp/sandbox_xyz.log", "/bin/true")
	require.NoError(t, err)

	assert.NotContains(t, args, "--use_cgroupv2")
	assert.Contains(t, args, "--cgroup_mem_swap_max")
}

func TestBuilder_ArgsFor_QuotedCommand(t *testing.T) {
	b := NewBuilder(testConfig(), cgroup.Profile{Version: 2, IgnoreSwapLimits: true})

	args, err := b.ArgsFor("/tmp/s", "/tmp/s.log", `/bin/sh -c "echo hello world"`)
	require.NoError(t, err)

	assert.Equal(t, []string{"/bin/sh", "-c", "echo hello world"}, args[len(args)-3:])
}

func TestBuilder_PrefixCachedAcrossCalls(t *testing.T) {
	b := NewBuilder(testConfig(), cgroup.Profile{Version: 2, IgnoreSwapLimits: true})

	first, err := b.ArgsFor("/tmp/a", "/tmp/a.log", "/bin/true")
	require.NoError(t, err)
	second, err := b.ArgsFor("/tmp/b", "/tmp/b.log", "/bin/true")
	require.NoError(t, err)

	assert.Equal(t, first[:len(b.cached)], second[:len(b.cached)])
}
