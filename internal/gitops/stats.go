package gitops

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Stats is the aggregate result of git_stats_fast (spec.md §4.2, §3 GitStats).
type Stats struct {
	FilesChanged   int
	LinesAdded     int
	LinesRemoved   int
	HasUncommitted bool
}

// cacheKey identifies a (worktree, parent) pair's last-computed fingerprint.
type cacheKey struct {
	worktreePath string
	parentBranch string
}

type cacheEntry struct {
	headOID         string
	indexSignature  string
	statusSignature string
	stats           Stats
}

// statsCache is process-global per GitOps instance, unbounded by design —
// one entry per worktree is acceptable (spec.md §5).
type statsCache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

func newStatsCache() *statsCache {
	return &statsCache{entries: make(map[cacheKey]cacheEntry)}
}

// GitStatsFast computes (or returns the cached) aggregate diff stats for a
// worktree against its parent branch: base_tree↔head_tree (via go-git, this
// corpus's substitute for the original's libgit2 call — see DESIGN.md),
// overlaid with the index↔workdir delta (shelled out, since go-git has no
// working-tree-aware diff). Cached in-process keyed on
// (head_oid, index_signature, status_signature); a cache hit skips both the
// go-git tree diff and the shell diff entirely (spec.md §4.2).
func (g *GitOps) GitStatsFast(ctx context.Context, worktreePath, parentBranch string) (Stats, error) {
	repo, err := git.PlainOpenWithOptions(worktreePath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %s", ErrNotGitRepo, err)
	}

	headRef, err := repo.Head()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	headOID := headRef.Hash().String()

	indexSig, err := indexSignature(worktreePath)
	if err != nil {
		return Stats{}, err
	}
	statusSig, err := statusSignature(ctx, worktreePath)
	if err != nil {
		return Stats{}, err
	}

	key := cacheKey{worktreePath: worktreePath, parentBranch: parentBranch}
	g.stats.mu.Lock()
	if cached, ok := g.stats.entries[key]; ok && cached.headOID == headOID && cached.indexSignature == indexSig && cached.statusSignature == statusSig {
		g.stats.mu.Unlock()
		return cached.stats, nil
	}
	g.stats.mu.Unlock()

	committed, err := committedDiffStats(repo, headRef.Hash(), parentBranch)
	if err != nil {
		return Stats{}, err
	}
	dirtyFiles, dirtyAdded, dirtyRemoved, hasUncommitted, err := workdirDiffStats(ctx, worktreePath)
	if err != nil {
		return Stats{}, err
	}

	paths := make(map[string]struct{}, len(committed.paths)+len(dirtyFiles))
	for p := range committed.paths {
		paths[p] = struct{}{}
	}
	for p := range dirtyFiles {
		paths[p] = struct{}{}
	}

	result := Stats{
		FilesChanged:   len(paths),
		LinesAdded:     committed.added + dirtyAdded,
		LinesRemoved:   committed.removed + dirtyRemoved,
		HasUncommitted: hasUncommitted,
	}

	g.stats.mu.Lock()
	g.stats.entries[key] = cacheEntry{headOID: headOID, indexSignature: indexSig, statusSignature: statusSig, stats: result}
	g.stats.mu.Unlock()

	return result, nil
}

type treeDiffStats struct {
	added   int
	removed int
	paths   map[string]struct{}
}

// committedDiffStats diffs parentBranch's tree against headHash's tree via
// go-git, giving exact line stats for fully committed changes.
func committedDiffStats(repo *git.Repository, headHash plumbing.Hash, parentBranch string) (treeDiffStats, error) {
	result := treeDiffStats{paths: make(map[string]struct{})}

	parentHash, err := repo.ResolveRevision(plumbing.Revision(parentBranch))
	if err != nil {
		return result, fmt.Errorf("failed to resolve parent branch %q: %w", parentBranch, err)
	}

	headCommit, err := repo.CommitObject(headHash)
	if err != nil {
		return result, err
	}
	parentCommit, err := repo.CommitObject(*parentHash)
	if err != nil {
		return result, err
	}

	headTree, err := headCommit.Tree()
	if err != nil {
		return result, err
	}
	parentTree, err := parentCommit.Tree()
	if err != nil {
		return result, err
	}

	changes, err := parentTree.Diff(headTree)
	if err != nil {
		return result, err
	}
	patch, err := changes.Patch()
	if err != nil {
		return result, err
	}
	for _, fs := range patch.Stats() {
		result.added += fs.Addition
		result.removed += fs.Deletion
		result.paths[fs.Name] = struct{}{}
	}
	return result, nil
}

// workdirDiffStats covers the index↔workdir and HEAD↔index deltas that
// go-git cannot diff directly: staged + unstaged changes via
// `git diff --numstat HEAD`, plus untracked files counted as pure additions.
func workdirDiffStats(ctx context.Context, worktreePath string) (files map[string]struct{}, added, removed int, hasUncommitted bool, err error) {
	files = make(map[string]struct{})

	cmd := exec.CommandContext(ctx, "git", "diff", "--numstat", "HEAD")
	cmd.Dir = worktreePath
	out, diffErr := cmd.Output()
	if diffErr != nil {
		return nil, 0, 0, false, diffErr
	}
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		// Binary files report "-" for both counts; they still count as a
		// changed file with zero added/removed lines (spec.md §4.2).
		a, _ := strconv.Atoi(fields[0])
		d, _ := strconv.Atoi(fields[1])
		added += a
		removed += d
		files[fields[2]] = struct{}{}
	}

	untracked, untrackedErr := untrackedFiles(ctx, worktreePath)
	if untrackedErr != nil {
		return nil, 0, 0, false, untrackedErr
	}
	for _, path := range untracked {
		files[path] = struct{}{}
		lines, countErr := countFileLines(filepath.Join(worktreePath, path))
		if countErr == nil {
			added += lines
		}
	}

	hasUncommitted = len(files) > 0
	return files, added, removed, hasUncommitted, nil
}

func countFileLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count := 0
	for scanner.Scan() {
		count++
	}
	return count, scanner.Err()
}

// indexSignature is a cheap fingerprint of the repository's index file
// (mtime + size), used to short-circuit GitStatsFast when nothing has
// touched the index since the last computation.
func indexSignature(worktreePath string) (string, error) {
	gitDir, err := resolveGitDir(worktreePath)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(filepath.Join(gitDir, "index"))
	if err != nil {
		if os.IsNotExist(err) {
			return "no-index", nil
		}
		return "", err
	}
	return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size()), nil
}

// statusSignature hashes `git status --porcelain`, which is cheaper than a
// full numstat diff, as a second cache-validity input alongside the index
// file signature (spec.md §4.2: cached on head_oid/index_signature/status_signature).
func statusSignature(ctx context.Context, worktreePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = worktreePath
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(bytes.TrimSpace(out))
	return hex.EncodeToString(sum[:]), nil
}

// resolveGitDir follows a worktree's ".git" file (gitdir: <path>) or returns
// the ordinary ".git" directory path directly.
func resolveGitDir(worktreePath string) (string, error) {
	gitPath := filepath.Join(worktreePath, ".git")
	info, err := os.Stat(gitPath)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return gitPath, nil
	}
	content, err := os.ReadFile(gitPath)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(content))
	gitdir, ok := strings.CutPrefix(line, "gitdir:")
	if !ok {
		return "", fmt.Errorf("unrecognized .git file at %s", gitPath)
	}
	gitdir = strings.TrimSpace(gitdir)
	if !filepath.IsAbs(gitdir) {
		gitdir = filepath.Join(worktreePath, gitdir)
	}
	return gitdir, nil
}
