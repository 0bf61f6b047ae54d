package runner

import (
	"fmt"
	"os"
)

// scratchPrefix names every scratch directory sandboxd creates, so stray
// ones are easy to spot and sweep after a crash.
const scratchPrefix = "sandbox_"

// newScratchDir creates a fresh, uniquely named directory under the system
// temp root with mode 0o777: the unprivileged user nsjail runs the child
// as needs to read and write inside it.
func newScratchDir() (string, error) {
	dir, err := os.MkdirTemp("", scratchPrefix)
	if err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	if err := os.Chmod(dir, 0o777); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("chmod scratch directory: %w", err)
	}
	return dir, nil
}

// cleanupScratch removes a scratch directory unconditionally; callers
// defer it immediately after a successful newScratchDir so it runs on
// every exit path, including a panic unwinding through Run.
func cleanupScratch(dir string) {
	_ = os.RemoveAll(dir)
}
