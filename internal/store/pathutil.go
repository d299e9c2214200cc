package store

import "path/filepath"

// CanonicalizePath resolves symlinks and relative segments so that every
// operation keyed by repository path maps to the same row regardless of how
// the caller spelled the path (spec.md §4.6, §4.7). Falls back to the
// absolute (non-symlink-resolved) path when the target does not exist yet —
// e.g. a repository path supplied before its directory is created.
func CanonicalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs, nil
	}
	return resolved, nil
}
