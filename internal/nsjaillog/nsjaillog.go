// Package nsjaillog demultiplexes nsjail's own structured log lines into
// the host's slog logger, translating nsjail's single-letter severities
// and, outside debug mode, dropping known-chatty lines of any severity
// (see blacklistedPrefixes). See app/nsjail/nsjail.py's parse_log for the reference behavior
// this package reproduces.
package nsjaillog

import (
	"log/slog"
	"regexp"
	"strings"
)

// blacklistedPrefixes are message prefixes dropped at non-debug verbosity.
var blacklistedPrefixes = []string{"Process will be "}

// logLinePattern matches nsjail's log format:
//
//	[L][timestamp][pid] func:line message     (non-info levels)
//	[I][timestamp] message                    (info level, no func/line)
//
// Go's RE2 engine has no conditional groups, so the two shapes are
// expressed as named alternatives instead of Python's (?(2)|...) branch.
var logLinePattern = regexp.MustCompile(
	`^\[(?P<level>[DWEF])\]\[[^]]*\](?P<func>\[\d+\] .+?:\d+) ?(?P<dmsg>.+)$|` +
		`^\[(?P<ilevel>I)\]\[[^]]*\] ?(?P<imsg>.+)$`,
)

// Demux translates one batch of nsjail log lines into slog records on
// logger. debug controls both the blacklist filter and whether the
// "[pid] func:line" prefix is retained in the forwarded message.
func Demux(logger *slog.Logger, lines []string, debug bool) {
	for _, line := range lines {
		demuxLine(logger, line, debug)
	}
}

func demuxLine(logger *slog.Logger, line string, debug bool) {
	m := logLinePattern.FindStringSubmatch(line)
	if m == nil {
		logger.Warn("failed to parse nsjail log line", "line", line)
		return
	}

	names := logLinePattern.SubexpNames()
	group := func(name string) string {
		for i, n := range names {
			if n == name && i < len(m) {
				return m[i]
			}
		}
		return ""
	}

	level := group("level")
	msg := group("dmsg")
	fn := group("func")
	if level == "" {
		level = group("ilevel")
		msg = group("imsg")
	}

	if !debug && hasBlacklistedPrefix(msg) {
		return
	}
	if debug && fn != "" {
		msg = fn + " " + msg
	}

	switch level {
	case "D":
		logger.Debug(msg)
	case "I":
		if debug || strings.HasPrefix(msg, "pid=") {
			logger.Info(msg)
		}
	case "W":
		logger.Warn(msg)
	case "E", "F":
		logger.Error(msg)
	default:
		logger.Warn("nsjail log line with unknown severity", "line", line)
	}
}

func hasBlacklistedPrefix(msg string) bool {
	for _, p := range blacklistedPrefixes {
		if strings.HasPrefix(msg, p) {
			return true
		}
	}
	return false
}
