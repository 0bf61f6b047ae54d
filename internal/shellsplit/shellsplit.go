// Package shellsplit splits a command line into argv words using POSIX
// shell quoting rules, the same semantics src/codebox.py relies on via
// Python's shlex.split before handing a command to the isolation tool.
package shellsplit

import "github.com/mattn/go-shellwords"

// Split parses line into argv words. Quoting, escaping, and whitespace
// collapsing follow POSIX shell-word rules.
func Split(line string) ([]string, error) {
	return shellwords.Parse(line)
}
