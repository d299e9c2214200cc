package agent

import (
	"regexp"
	"strings"
)

var nonAlnumRun = regexp.MustCompile(`[^a-z0-9]+`)
var nameCandidateLine = regexp.MustCompile(`^[a-z0-9-]+$`)

const maxGeneratedNameLen = 30

// SanitizeGeneratedName normalizes a model-proposed session name (spec.md
// §4.5 Name-generation mode): lowercase, collapse runs of non-alphanumeric
// characters to a single hyphen, trim leading/trailing hyphens, truncate
// to 30 characters.
func SanitizeGeneratedName(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	collapsed := nonAlnumRun.ReplaceAllString(lower, "-")
	trimmed := strings.Trim(collapsed, "-")
	if len(trimmed) > maxGeneratedNameLen {
		trimmed = strings.TrimRight(trimmed[:maxGeneratedNameLen], "-")
	}
	return trimmed
}

// FirstCandidateLine passes each non-blank line of an agent's raw stdout
// through SanitizeGeneratedName and returns the first non-empty result
// (lowercase letters, digits, and hyphens only). Returns "" if every line
// sanitizes to nothing.
func FirstCandidateLine(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		candidate := SanitizeGeneratedName(line)
		if candidate != "" && nameCandidateLine.MatchString(candidate) {
			return candidate
		}
	}
	return ""
}
