package gitops

import (
	"context"
	"os/exec"
	"sort"
	"strings"
)

// ChangedFile is one entry of ChangedFiles' result.
type ChangedFile struct {
	Path   string
	Status string // "added", "modified", "deleted", "renamed"
}

// ChangedFiles computes the union of parent...HEAD, staged, and unstaged
// diffs plus untracked files, deduplicated by path with "staged before
// unstaged" winning on status conflicts (spec.md §4.2).
func (g *GitOps) ChangedFiles(ctx context.Context, worktreePath, parentBranch string) ([]ChangedFile, error) {
	byPath := make(map[string]ChangedFile)

	apply := func(entries []ChangedFile) {
		for _, e := range entries {
			if _, exists := byPath[e.Path]; !exists {
				byPath[e.Path] = e
			}
		}
	}

	rangeDiff, err := nameStatus(ctx, worktreePath, parentBranch+"...HEAD")
	if err != nil {
		return nil, err
	}
	apply(rangeDiff)

	staged, err := nameStatus(ctx, worktreePath, "--cached")
	if err != nil {
		return nil, err
	}
	apply(staged)

	unstaged, err := nameStatus(ctx, worktreePath)
	if err != nil {
		return nil, err
	}
	apply(unstaged)

	untracked, err := untrackedFiles(ctx, worktreePath)
	if err != nil {
		return nil, err
	}
	for _, path := range untracked {
		if _, exists := byPath[path]; !exists {
			byPath[path] = ChangedFile{Path: path, Status: "added"}
		}
	}

	result := make([]ChangedFile, 0, len(byPath))
	for _, f := range byPath {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

func nameStatus(ctx context.Context, worktreePath string, diffArgs ...string) ([]ChangedFile, error) {
	args := append([]string{"diff", "--name-status"}, diffArgs...)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = worktreePath
	out, err := cmd.Output()
	if err != nil {
		return nil, nil
	}
	var result []ChangedFile
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		result = append(result, ChangedFile{Path: fields[len(fields)-1], Status: classifyStatusCode(fields[0])})
	}
	return result, nil
}

func classifyStatusCode(code string) string {
	switch {
	case code == "A":
		return "added"
	case code == "D":
		return "deleted"
	case strings.HasPrefix(code, "R"):
		return "renamed"
	default:
		return "modified"
	}
}

func untrackedFiles(ctx context.Context, worktreePath string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "ls-files", "--others", "--exclude-standard")
	cmd.Dir = worktreePath
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// HasUncommitted reports whether a worktree has staged, unstaged, or
// untracked changes.
func (g *GitOps) HasUncommitted(ctx context.Context, worktreePath string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = worktreePath
	out, err := cmd.Output()
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(out))) > 0, nil
}

// UncommittedPaths returns up to limit offending paths for precondition
// error reporting (spec.md §4.3, §7 Precondition carries up to 5 paths).
func (g *GitOps) UncommittedPaths(ctx context.Context, worktreePath string, limit int) ([]string, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = worktreePath
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		if len(paths) >= limit {
			break
		}
		fields := strings.Fields(line)
		paths = append(paths, fields[len(fields)-1])
	}
	return paths, nil
}

// CommitAll stages every change and commits it with msg, used by
// mark_reviewed's auto_commit path (spec.md §4.1).
func (g *GitOps) CommitAll(ctx context.Context, worktreePath, msg string) error {
	if _, err := runGit(ctx, worktreePath, "add", "-A"); err != nil {
		return err
	}
	_, err := runGit(ctx, worktreePath, "commit", "-m", msg)
	return err
}
