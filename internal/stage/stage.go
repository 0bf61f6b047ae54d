// Package stage writes a project's source files into a scratch directory,
// rejecting any virtual path that would escape it once resolved.
package stage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned (wrapped with the offending resolved path)
// when a virtual file path, once joined onto the scratch directory and
// canonicalized, does not remain a strict descendant of it. Its text is
// the exact client-facing message surfaced in Response.Stderr, not just an
// internal diagnostic.
var ErrInvalidPath = errors.New("Invalid file path")

// Stage writes one file's contents into scratch at the location named by
// path. path may carry a leading "/", which is stripped before joining.
//
// The containment check canonicalizes the resolved absolute path (resolving
// ".." segments first, and symlinks once the parent directory exists) and
// compares it against the canonicalized scratch root; a string-prefix check
// against the unresolved input would be defeated by a staged symlink or a
// ".." segment inside a subdirectory.
func Stage(scratch, path, contents string) error {
	rel := strings.TrimPrefix(path, "/")
	if rel == "" {
		return fmt.Errorf("%w: %s", ErrInvalidPath, path)
	}

	scratchClean := filepath.Clean(scratch)
	joined := filepath.Join(scratchClean, rel)

	// filepath.Join already lexically collapses ".." segments, so an
	// escape attempt is visible here without touching the filesystem
	// outside scratch at all.
	if !isStrictDescendant(scratchClean, joined) {
		return fmt.Errorf("%w: %s", ErrInvalidPath, joined)
	}

	if err := os.MkdirAll(filepath.Dir(joined), 0o777); err != nil {
		return fmt.Errorf("create parent directories for %q: %w", path, err)
	}

	// Re-resolve through symlinks now that the parent directory tree
	// exists: a staged symlink elsewhere in the project could still point
	// the final component outside scratch even though the lexical path
	// looked contained.
	scratchReal, err := filepath.EvalSymlinks(scratchClean)
	if err != nil {
		return fmt.Errorf("resolve scratch root %q: %w", scratch, err)
	}
	parentReal, err := filepath.EvalSymlinks(filepath.Dir(joined))
	if err != nil {
		return fmt.Errorf("resolve parent of %q: %w", path, err)
	}
	resolved := filepath.Join(parentReal, filepath.Base(joined))

	if !isStrictDescendant(scratchReal, resolved) {
		return fmt.Errorf("%w: %s", ErrInvalidPath, resolved)
	}

	if err := os.WriteFile(resolved, []byte(contents), 0o666); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	return nil
}

// isStrictDescendant reports whether child is strictly beneath root once
// both are canonical absolute paths.
func isStrictDescendant(root, child string) bool {
	rel, err := filepath.Rel(root, child)
	if err != nil {
		return false
	}
	if rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
