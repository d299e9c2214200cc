package gitops

import (
	"crypto/rand"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// DefaultBranchPrefix is used when a project has not configured its own
// (spec.md §3: branch defaults to "schaltwerk" but is per-project
// configurable).
const DefaultBranchPrefix = "schaltwerk"

// WorktreePath returns the fixed worktree location spec.md §3 mandates:
// <repo>/.schaltwerk/worktrees/<name>. Unlike the teacher's generic
// BasePath scheme, this path is not configurable.
func WorktreePath(repoPath, sessionName string) string {
	return filepath.Join(repoPath, ".schaltwerk", "worktrees", sessionName)
}

// BranchName returns <prefix>/<name>, the fixed branch-name format
// (spec.md §3).
func BranchName(prefix, sessionName string) string {
	return NormalizeBranchPrefix(prefix) + "/" + sessionName
}

// ArchivedBranchName returns the timestamped archive location a cancelled
// session's branch is moved to (spec.md §4.1 cancel, §6 on-disk layout):
// <prefix>/archived/<YYYYMMDD_HHMMSS>/<name>.
func ArchivedBranchName(prefix, sessionName, timestamp string) string {
	return NormalizeBranchPrefix(prefix) + "/archived/" + timestamp + "/" + sessionName
}

// NormalizeBranchPrefix trims and falls back to the default prefix.
func NormalizeBranchPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return DefaultBranchPrefix
	}
	return trimmed
}

// ValidateBranchPrefix ensures a prefix contains only safe branch
// characters and no path-traversal or reflog-syntax tricks.
func ValidateBranchPrefix(prefix string) error {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return nil
	}
	for _, r := range trimmed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '/' || r == '-' || r == '_' || r == '.' {
			continue
		}
		return fmt.Errorf("invalid branch prefix: %q", prefix)
	}
	if strings.Contains(trimmed, "..") || strings.Contains(trimmed, "@{") {
		return fmt.Errorf("invalid branch prefix: %q", prefix)
	}
	return nil
}

var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ValidateSessionName enforces spec.md §4.1's create_session name pattern.
func ValidateSessionName(name string) error {
	if !sessionNamePattern.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[A-Za-z0-9_-]{1,100}$", name)
	}
	return nil
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// RandomSuffix returns a short random token used to disambiguate a
// colliding session name (spec.md §4.1 step 1: "-<suffix>").
func RandomSuffix(n int) string {
	if n <= 0 {
		return ""
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return strings.Repeat("x", n)
	}
	for i := range buf {
		buf[i] = suffixAlphabet[int(buf[i])%len(suffixAlphabet)]
	}
	return string(buf)
}

// SanitizeForBranch converts arbitrary text (an agent-generated name, a
// task title) into a valid git branch-name component: lowercase,
// non-alphanumeric runs collapsed to a single hyphen, trimmed, truncated.
func SanitizeForBranch(text string, maxLen int) string {
	if text == "" {
		return ""
	}

	var sb strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('-')
		}
	}
	result := collapseHyphens.ReplaceAllString(sb.String(), "-")
	result = strings.Trim(result, "-")

	if len(result) > maxLen {
		result = strings.TrimRight(result[:maxLen], "-")
	}
	return result
}

var collapseHyphens = regexp.MustCompile(`-+`)
