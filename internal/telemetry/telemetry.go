// Package telemetry best-effort samples one cgroup directory (in sandboxd,
// the parent cgroup nsjail's per-invocation cgroups live under) for peak
// memory and process-count usage after commands run, for structured
// logging only — it never gates pass/fail and is skipped outside debug
// verbosity. Adapted from pkg/system/proc's cgroup file-reading idiom,
// narrowed from whole-system sampling to a single cgroup.
package telemetry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sample is a point-in-time read of one cgroup's resource counters.
// Any field left at zero means the corresponding file was unavailable or
// unreadable on this kernel — never treated as an error.
type Sample struct {
	PeakMemoryBytes uint64
	PIDsPeak        uint64
}

// ReadV2 reads memory.peak (falling back to memory.current) and pids.peak
// (falling back to pids.current) from a cgroup v2 child directory.
func ReadV2(cgroupDir string) Sample {
	return Sample{
		PeakMemoryBytes: readFirstUint(
			filepath.Join(cgroupDir, "memory.peak"),
			filepath.Join(cgroupDir, "memory.current"),
		),
		PIDsPeak: readFirstUint(
			filepath.Join(cgroupDir, "pids.peak"),
			filepath.Join(cgroupDir, "pids.current"),
		),
	}
}

// ReadV1 reads memory.max_usage_in_bytes from a cgroup v1 memory
// directory; v1 exposes no equivalent PID high-water mark.
func ReadV1(memoryCgroupDir string) Sample {
	return Sample{
		PeakMemoryBytes: readFirstUint(
			filepath.Join(memoryCgroupDir, "memory.max_usage_in_bytes"),
		),
	}
}

// LogSample emits one structured record for a completed command's
// telemetry, labeled with the command line it ran. capBytes is the
// configured cgroup memory cap (Config.CgroupMemMax); when positive, the
// record also carries how close the peak came to that cap, since a bare
// byte count says nothing about how much headroom a sandboxed run had.
func LogSample(logger *slog.Logger, command string, s Sample, capBytes int64) {
	attrs := []any{
		"command", command,
		"peak_memory", humanizeBytes(s.PeakMemoryBytes),
		"pids_peak", s.PIDsPeak,
	}
	if capBytes > 0 {
		pct := float64(s.PeakMemoryBytes) / float64(capBytes) * 100
		attrs = append(attrs, "peak_memory_pct_of_cap", fmt.Sprintf("%.1f%%", pct))
	}
	logger.Debug("sandbox telemetry", attrs...)
}

// humanizeBytes renders b with the coarsest unit that keeps at least one
// significant digit, for log output only — sandboxd's own memory caps run
// from bytes up to a few gigabytes, so nothing past GB is needed.
func humanizeBytes(b uint64) string {
	const unit = 1024
	v := float64(b)
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.2f GB", v/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.2f MB", v/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.2f KB", v/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// readFirstUint reads the first of paths whose contents parse as a
// non-negative integer, treating a literal "max" (cgroup v2's
// unbounded-value sentinel) and any unreadable/malformed file as "try the
// next path", returning 0 if none succeed.
func readFirstUint(paths ...string) uint64 {
	for _, p := range paths {
		v, err := readUintFile(p)
		if err == nil {
			return v
		}
	}
	return 0
}

func readUintFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" || s == "max" {
		return 0, fmt.Errorf("telemetry: %q has no usable value", path)
	}
	return strconv.ParseUint(s, 10, 64)
}
