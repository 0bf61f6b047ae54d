//go:build linux

package cgroup

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Default mountpoints for the controllers sandboxd cares about. These match
// a stock Linux distribution's cgroupfs layout and can be overridden in
// tests by assigning Controller's mounts field.
const (
	defaultCgroupV2Mount  = "/sys/fs/cgroup"
	defaultMemMount       = "/sys/fs/cgroup/memory"
	defaultPidsMount      = "/sys/fs/cgroup/pids"
	defaultNetClsMount    = "/sys/fs/cgroup/net_cls"
	defaultCPUMount       = "/sys/fs/cgroup/cpu"
	initChildName         = "init"
	subtreeControlFile    = "cgroup.subtree_control"
	controllersFile       = "cgroup.controllers"
	procsFile             = "cgroup.procs"
	v2SwapLimitFile       = "memory.swap.max"
	v1SwapLimitFile       = "memory.memsw.max_usage_in_bytes"
	meminfoPath           = "/proc/meminfo"
)

// Profile describes the cgroup facilities available on this host, decided
// once per process and reused by every subsequent sandbox invocation.
type Profile struct {
	// Version is 1 or 2 (Hybrid hosts are resolved to 2; see
	// Controller.detectVersion).
	Version int

	// IgnoreSwapLimits is true when the kernel lacks a working
	// swap-accounting controller; the jail argument builder omits
	// swap-limit flags in that case.
	IgnoreSwapLimits bool

	// ParentName is the fixed cgroup name under which nsjail creates one
	// child cgroup per invocation.
	ParentName string
}

// mounts is the set of cgroupfs paths Controller consults; overridable for
// tests so they never have to touch the real /sys/fs/cgroup.
type mounts struct {
	v2Root  string
	memV1   string
	pidsV1  string
	netCls  string
	cpuV1   string
	meminfo string
}

func defaultMounts() mounts {
	return mounts{
		v2Root:  defaultCgroupV2Mount,
		memV1:   defaultMemMount,
		pidsV1:  defaultPidsMount,
		netCls:  defaultNetClsMount,
		cpuV1:   defaultCPUMount,
		meminfo: meminfoPath,
	}
}

// Controller memoizes a Profile behind a sync.Once barrier: the first call
// to Profile performs all cgroup filesystem side effects (creating the
// parent cgroup, enabling controllers, probing swap accounting); every
// later call, from any goroutine, returns the cached result.
type Controller struct {
	once       sync.Once
	profile    Profile
	err        error
	parentName string
	memMaxByte int64
	mounts     mounts
	logger     *slog.Logger

	// detect performs the actual v1/v2/hybrid detection driving
	// detectVersion; it defaults to Detect (which parses
	// /proc/self/mountinfo) and is swapped out in tests for a stub that
	// reads the injected mounts instead of the real host.
	detect func() (Version, string, error)
}

// NewController builds a Controller for the given parent cgroup name and
// configured memory cap (used only to decide whether swap accounting must
// be probed at all: a non-positive cap means swap is never limited).
func NewController(parentName string, memMaxBytes int64, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		parentName: parentName,
		memMaxByte: memMaxBytes,
		mounts:     defaultMounts(),
		logger:     logger,
		detect:     Detect,
	}
}

// Profile returns the memoized cgroup Profile, performing first-call
// initialization (mount detection, v1/v2 setup, swap probe) exactly once.
func (c *Controller) Profile() (Profile, error) {
	c.once.Do(func() {
		c.profile, c.err = c.detectAndInit()
	})
	return c.profile, c.err
}

// MemoryDir returns the cgroupfs directory holding this profile's memory
// accounting files under its ParentName: the v2 unified hierarchy's parent
// directory, or the v1 memory controller's parent directory. Used by
// telemetry to locate the counters to sample after a command runs.
func (p Profile) MemoryDir() string {
	if p.Version == 2 {
		return filepath.Join(defaultCgroupV2Mount, p.ParentName)
	}
	return filepath.Join(defaultMemMount, p.ParentName)
}

func (c *Controller) detectAndInit() (Profile, error) {
	version := c.detectVersion()

	switch version {
	case 1:
		if err := c.initV1(); err != nil {
			c.logger.Warn("cgroup v1 init failed", "error", err)
		}
	default:
		version = 2
		if err := c.initV2(); err != nil {
			c.logger.Warn("cgroup v2 init failed", "error", err)
		}
	}

	ignoreSwap := c.decideIgnoreSwap(version)

	return Profile{
		Version:          version,
		IgnoreSwapLimits: ignoreSwap,
		ParentName:       c.parentName,
	}, nil
}

// detectVersion resolves c.detect's mount scan into the 1-or-2 decision
// the rest of Controller acts on, preferring v2 on a Hybrid host or when
// detection itself fails, since that is nsjail's own default.
func (c *Controller) detectVersion() int {
	ver, detail, err := c.detect()
	if err != nil {
		c.logger.Warn("cgroup mount detection failed; defaulting to v2", "error", err)
		return 2
	}

	switch ver {
	case V1:
		c.logger.Debug("detected cgroup v1", "detail", detail)
		return 1
	case V2:
		c.logger.Debug("detected cgroup v2", "detail", detail)
		return 2
	case Hybrid:
		c.logger.Debug("detected hybrid cgroup mounts; preferring v2", "detail", detail)
		return 2
	default:
		c.logger.Warn("no cgroup mounts found; defaulting to v2", "detail", detail)
		return 2
	}
}

// detectFromMounts implements Detect's mount-presence scan against an
// injected mounts set instead of the real /proc/self/mountinfo, so tests
// can exercise Controller's v1/v2 decision without touching the host.
func detectFromMounts(m mounts) (Version, string, error) {
	v1Present := pathExists(m.memV1) || pathExists(m.pidsV1) ||
		pathExists(m.netCls) || pathExists(m.cpuV1)
	v2Present := pathExists(filepath.Join(m.v2Root, controllersFile))

	switch {
	case v1Present && v2Present:
		return Hybrid, fmt.Sprintf("cgroup2 on %s; cgroup v1 on %s", m.v2Root, m.memV1), nil
	case v2Present:
		return V2, fmt.Sprintf("cgroup2 on %s", m.v2Root), nil
	case v1Present:
		return V1, fmt.Sprintf("cgroup v1 on %s", m.memV1), nil
	default:
		return Unsupported, "no cgroup mounts found", nil
	}
}

// initV1 creates the parent cgroup directory under the pids and memory
// hierarchies. nsjail itself lacks the privilege to do this, so the host
// process must.
func (c *Controller) initV1() error {
	pidsParent := filepath.Join(c.mounts.pidsV1, c.parentName)
	memParent := filepath.Join(c.mounts.memV1, c.parentName)

	if err := os.MkdirAll(pidsParent, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", pidsParent, err)
	}
	if err := os.MkdirAll(memParent, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", memParent, err)
	}
	return nil
}

// initV2 ensures the unified hierarchy has controllers enabled for child
// cgroups. If the root already delegates controllers, this is a no-op.
func (c *Controller) initV2() error {
	root := c.mounts.v2Root
	subtreePath := filepath.Join(root, subtreeControlFile)

	existing, err := os.ReadFile(subtreePath)
	if err != nil {
		return fmt.Errorf("read %s: %w", subtreePath, err)
	}
	if strings.TrimSpace(string(existing)) != "" {
		return nil
	}

	initCgroup := filepath.Join(root, initChildName)
	if err := os.MkdirAll(initCgroup, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", initCgroup, err)
	}

	procsPath := filepath.Join(root, procsFile)
	procsRaw, err := os.ReadFile(procsPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", procsPath, err)
	}
	initProcsPath := filepath.Join(initCgroup, procsFile)
	for _, pid := range strings.Fields(string(procsRaw)) {
		// One PID per write: the kernel rejects a write of more than one.
		if err := os.WriteFile(initProcsPath, []byte(pid), 0o644); err != nil {
			return fmt.Errorf("migrate pid %s to %s: %w", pid, initProcsPath, err)
		}
	}

	controllersRaw, err := os.ReadFile(filepath.Join(root, controllersFile))
	if err != nil {
		return fmt.Errorf("read %s: %w", controllersFile, err)
	}
	for _, ctrl := range strings.Fields(string(controllersRaw)) {
		if err := os.WriteFile(subtreePath, []byte("+"+ctrl), 0o644); err != nil {
			return fmt.Errorf("enable controller %q: %w", ctrl, err)
		}
	}
	return nil
}

// decideIgnoreSwap probes swap accounting by creating a
// throwaway child cgroup, check whether the swap-limit file exists in it,
// then remove the probe. If the controller is missing but the host has
// swap enabled, a warning is logged and swap limits are disabled rather
// than letting nsjail fail trying to write a nonexistent file.
func (c *Controller) decideIgnoreSwap(version int) bool {
	if c.memMaxByte <= 0 {
		return true
	}

	probeDir, probeFile := c.swapProbePaths(version)
	if probeDir == "" {
		return true
	}

	if err := os.MkdirAll(probeDir, 0o755); err != nil {
		c.logger.Warn("cgroup swap probe: cannot create probe cgroup", "error", err)
		return c.swapFallback()
	}
	defer func() { _ = os.Remove(probeDir) }()

	_, statErr := os.Stat(probeFile)
	controllerPresent := statErr == nil
	if controllerPresent {
		return false
	}
	return c.swapFallback()
}

func (c *Controller) swapProbePaths(version int) (dir, file string) {
	switch version {
	case 2:
		dir = filepath.Join(c.mounts.v2Root, c.parentName+"-swapprobe")
		file = filepath.Join(dir, v2SwapLimitFile)
	case 1:
		dir = filepath.Join(c.mounts.memV1, c.parentName+"-swapprobe")
		file = filepath.Join(dir, v1SwapLimitFile)
	}
	return dir, file
}

// swapFallback inspects /proc/meminfo; if swap is enabled on the host, the
// missing controller is worth a warning since limits silently won't apply.
func (c *Controller) swapFallback() bool {
	swapTotal, err := readSwapTotal(c.mounts.meminfo)
	if err != nil {
		c.logger.Warn("cgroup swap probe: cannot read meminfo", "error", err)
		return true
	}
	if swapTotal > 0 {
		c.logger.Warn("swap accounting controller not available; swap limits will not be enforced")
	}
	return true
}

func readSwapTotal(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "SwapTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed SwapTotal line: %q", line)
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse SwapTotal: %w", err)
		}
		return kb * 1024, nil
	}
	return 0, sc.Err()
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
