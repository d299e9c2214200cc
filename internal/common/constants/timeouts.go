// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// SessionCreateTimeout is the maximum time to wait for session creation,
	// including worktree creation and setup script execution.
	SessionCreateTimeout = 6 * time.Minute

	// SetupScriptTimeout is the maximum time to wait for a setup script to complete.
	SetupScriptTimeout = 5 * time.Minute

	// CleanupScriptTimeout is the maximum time to wait for a cleanup script to complete.
	CleanupScriptTimeout = 5 * time.Minute

	// SessionCancelTimeout is the maximum time to wait for session cancellation,
	// including branch archival and worktree removal.
	SessionCancelTimeout = 2 * time.Minute

	// MergeTimeout is the hard wall-clock timeout on a merge operation
	// (spec.md §4.3/§5): on expiry the in-progress rebase is aborted.
	MergeTimeout = 180 * time.Second

	// GitStatsFreshness is how long a cached GitStats entry is considered
	// fresh before list_enriched recomputes it (spec.md §3).
	GitStatsFreshness = 60 * time.Second
)
