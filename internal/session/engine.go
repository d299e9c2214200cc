// Package session implements the session lifecycle engine (spec.md §4.1):
// create/start/convert/cancel/rename/list, each coordinating the git
// integration layer and the persistent store; the operations that touch
// worktrees or branches run under a per-repository lock.
//
// Grounded on the teacher's internal/worktree/manager.go: the
// getRepoLock/releaseRepoLock refcounted mutex is generalized from
// "worktree mutation" to "session mutation" (repolock.go), and the
// collision-suffixing idea behind buildWorktreeNames becomes
// resolveUniqueName (names.go). Everything that decides WHAT a session
// transition means — state machine, GitStats freshness, setup-script
// rollback — is authored directly against spec.md §3/§4.1, which the
// teacher's generic worktree abstraction has no equivalent for.
package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/schaltwerk/internal/apperr"
	"github.com/kandev/schaltwerk/internal/common/constants"
	"github.com/kandev/schaltwerk/internal/common/logger"
	"github.com/kandev/schaltwerk/internal/events"
	"github.com/kandev/schaltwerk/internal/events/bus"
	"github.com/kandev/schaltwerk/internal/gitops"
	"github.com/kandev/schaltwerk/internal/store"
)

// Engine runs the session lifecycle state machine for one repository.
type Engine struct {
	logger *logger.Logger
	store  store.Store
	git    *gitops.GitOps
	events bus.EventBus

	repoLocks    *repoLocks
	reservations *nameReservations
}

// New constructs an Engine. eventBus may be nil, in which case lifecycle
// transitions are not published (tests, headless use).
func New(log *logger.Logger, st store.Store, git *gitops.GitOps, eventBus bus.EventBus) *Engine {
	return &Engine{
		logger:       log.WithFields(zap.String("component", "session-engine")),
		store:        st,
		git:          git,
		events:       eventBus,
		repoLocks:    newRepoLocks(),
		reservations: newNameReservations(),
	}
}

// CreateParams parametrizes CreateSession.
type CreateParams struct {
	RepositoryPath   string
	RepositoryName   string
	Name             string
	InitialPrompt    string
	BaseBranch       string
	WasAutoGenerated bool
	AgentType        string
	SkipPermissions  bool
	BranchPrefix     string
	SetupScript      string
}

// CreateSession runs spec.md §4.1 create_session end to end.
func (e *Engine) CreateSession(ctx context.Context, p CreateParams) (*store.Session, error) {
	if err := gitops.ValidateSessionName(p.Name); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "invalid session name")
	}

	ctx, cancel := context.WithTimeout(ctx, constants.SessionCreateTimeout)
	defer cancel()

	var result *store.Session
	var resultErr error
	e.repoLocks.withRepoLock(p.RepositoryPath, func() {
		result, resultErr = e.createSessionLocked(ctx, p)
	})
	return result, resultErr
}

func (e *Engine) createSessionLocked(ctx context.Context, p CreateParams) (*store.Session, error) {
	name, err := e.resolveUniqueName(ctx, p.RepositoryPath, p.Name)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to resolve a unique session name")
	}
	defer e.reservations.release(p.RepositoryPath, name)

	prefix := gitops.NormalizeBranchPrefix(p.BranchPrefix)
	branch := gitops.BranchName(prefix, name)
	worktreePath := gitops.WorktreePath(p.RepositoryPath, name)

	if gitops.IsValid(worktreePath) {
		_ = e.git.WorktreeRemove(ctx, p.RepositoryPath, worktreePath)
	}

	parentBranch := p.BaseBranch
	if parentBranch == "" {
		parentBranch, err = e.git.DefaultBranch(ctx, p.RepositoryPath)
		if err != nil {
			return nil, apperr.Wrap(apperr.Git, err, "failed to detect default branch")
		}
	}

	if !e.git.HasCommits(ctx, p.RepositoryPath) {
		return nil, apperr.New(apperr.Precondition, "repository %s has no commits yet; create an initial commit first", p.RepositoryPath)
	}

	if err := e.git.WorktreeAdd(ctx, p.RepositoryPath, branch, worktreePath, parentBranch); err != nil {
		return nil, apperr.Wrap(apperr.Git, err, "failed to create worktree for session %q", name)
	}

	if strings.TrimSpace(p.SetupScript) != "" {
		if err := e.runSetupScript(ctx, p.SetupScript, worktreePath, p.RepositoryPath, name, branch); err != nil {
			e.rollbackWorktree(ctx, p.RepositoryPath, branch, worktreePath)
			return nil, apperr.Wrap(apperr.Precondition, err, "setup script failed for session %q", name)
		}
	}

	now := time.Now().UTC()
	sess := &store.Session{
		ID:                      newSessionID(),
		Name:                    name,
		RepositoryPath:          p.RepositoryPath,
		RepositoryName:          p.RepositoryName,
		Branch:                  branch,
		ParentBranch:            parentBranch,
		WorktreePath:            worktreePath,
		Status:                  store.StatusActive,
		SessionState:            store.StateRunning,
		InitialPrompt:           nilIfEmpty(p.InitialPrompt),
		OriginalAgentType:       nilIfEmpty(p.AgentType),
		OriginalSkipPermissions: p.SkipPermissions,
		WasAutoGenerated:        p.WasAutoGenerated,
		PendingNameGeneration:   p.WasAutoGenerated,
		ResumeAllowed:           true,
		CreatedAt:               now,
		UpdatedAt:               now,
		LastActivity:            now,
	}

	if err := e.store.CreateSession(ctx, sess); err != nil {
		e.rollbackWorktree(ctx, p.RepositoryPath, branch, worktreePath)
		return nil, err
	}

	if stats, err := e.git.GitStatsFast(ctx, worktreePath, parentBranch); err == nil {
		_ = e.store.UpsertGitStats(ctx, &store.GitStats{
			SessionID:      sess.ID,
			FilesChanged:   stats.FilesChanged,
			LinesAdded:     stats.LinesAdded,
			LinesRemoved:   stats.LinesRemoved,
			HasUncommitted: stats.HasUncommitted,
		})
	} else {
		e.logger.Warn("failed to compute initial git stats", zap.String("session", name), zap.Error(err))
	}

	e.publish(ctx, events.SessionAdded, events.SessionAddedPayload{
		Name: name, Branch: branch, WorktreePath: worktreePath, ParentBranch: parentBranch,
	})

	return sess, nil
}

func (e *Engine) rollbackWorktree(ctx context.Context, repoPath, branch, worktreePath string) {
	if err := e.git.WorktreeRemove(ctx, repoPath, worktreePath); err != nil {
		e.logger.Warn("rollback worktree remove failed", zap.String("worktree", worktreePath), zap.Error(err))
	}
	if err := e.git.DeleteBranch(ctx, repoPath, branch); err != nil {
		e.logger.Warn("rollback branch delete failed", zap.String("branch", branch), zap.Error(err))
	}
}

// runSetupScript executes the project's setup script synchronously with
// the env vars spec.md §4.1 step 6 names, bounded by
// constants.SetupScriptTimeout.
func (e *Engine) runSetupScript(ctx context.Context, script, worktreePath, repoPath, name, branch string) error {
	scriptCtx, cancel := context.WithTimeout(ctx, constants.SetupScriptTimeout)
	defer cancel()

	cmd := exec.CommandContext(scriptCtx, "sh", "-c", script)
	cmd.Dir = worktreePath
	cmd.Env = append(os.Environ(),
		"WORKTREE_PATH="+worktreePath,
		"REPO_PATH="+repoPath,
		"SESSION_NAME="+name,
		"BRANCH_NAME="+branch,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("setup script exited with error: %w (output: %s)", err, string(output))
	}
	return nil
}

// CreateSpec runs spec.md §4.1 create_spec: a session row with no
// worktree or branch yet.
func (e *Engine) CreateSpec(ctx context.Context, repoPath, repoName, name, specContent string) (*store.Session, error) {
	if err := gitops.ValidateSessionName(name); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "invalid session name")
	}

	var result *store.Session
	var resultErr error
	e.repoLocks.withRepoLock(repoPath, func() {
		uniqueName, err := e.resolveUniqueName(ctx, repoPath, name)
		if err != nil {
			resultErr = apperr.Wrap(apperr.Internal, err, "failed to resolve a unique session name")
			return
		}
		defer e.reservations.release(repoPath, uniqueName)

		now := time.Now().UTC()
		sess := &store.Session{
			ID:             newSessionID(),
			Name:           uniqueName,
			RepositoryPath: repoPath,
			RepositoryName: repoName,
			Status:         store.StatusSpec,
			SessionState:   store.StateSpec,
			SpecContent:    nilIfEmpty(specContent),
			ResumeAllowed:  true,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastActivity:   now,
		}
		if err := e.store.CreateSession(ctx, sess); err != nil {
			resultErr = err
			return
		}
		result = sess
	})
	return result, resultErr
}

// StartSpec runs spec.md §4.1 start_spec: promotes a spec session into a
// running one by performing the same worktree/branch/setup-script/stats
// steps as CreateSession, then clears the "already prompted" marker.
func (e *Engine) StartSpec(ctx context.Context, repoPath, name, baseBranch, branchPrefix, setupScript, agentType string, skipPermissions bool) (*store.Session, error) {
	sess, err := e.store.GetSessionByName(ctx, repoPath, name)
	if err != nil {
		return nil, err
	}
	if sess.SessionState != store.StateSpec {
		return nil, apperr.New(apperr.Precondition, "session %q is not in spec state", name)
	}

	ctx, cancel := context.WithTimeout(ctx, constants.SessionCreateTimeout)
	defer cancel()

	var result *store.Session
	var resultErr error
	e.repoLocks.withRepoLock(repoPath, func() {
		result, resultErr = e.startSpecLocked(ctx, sess, baseBranch, branchPrefix, setupScript, agentType, skipPermissions)
	})
	return result, resultErr
}

func (e *Engine) startSpecLocked(ctx context.Context, sess *store.Session, baseBranch, branchPrefix, setupScript, agentType string, skipPermissions bool) (*store.Session, error) {
	prefix := gitops.NormalizeBranchPrefix(branchPrefix)
	branch := gitops.BranchName(prefix, sess.Name)
	worktreePath := gitops.WorktreePath(sess.RepositoryPath, sess.Name)

	if gitops.IsValid(worktreePath) {
		_ = e.git.WorktreeRemove(ctx, sess.RepositoryPath, worktreePath)
	}

	parentBranch := baseBranch
	var err error
	if parentBranch == "" {
		parentBranch, err = e.git.DefaultBranch(ctx, sess.RepositoryPath)
		if err != nil {
			return nil, apperr.Wrap(apperr.Git, err, "failed to detect default branch")
		}
	}

	if !e.git.HasCommits(ctx, sess.RepositoryPath) {
		return nil, apperr.New(apperr.Precondition, "repository %s has no commits yet", sess.RepositoryPath)
	}

	if err := e.git.WorktreeAdd(ctx, sess.RepositoryPath, branch, worktreePath, parentBranch); err != nil {
		return nil, apperr.Wrap(apperr.Git, err, "failed to create worktree for session %q", sess.Name)
	}

	if strings.TrimSpace(setupScript) != "" {
		if err := e.runSetupScript(ctx, setupScript, worktreePath, sess.RepositoryPath, sess.Name, branch); err != nil {
			e.rollbackWorktree(ctx, sess.RepositoryPath, branch, worktreePath)
			return nil, apperr.Wrap(apperr.Precondition, err, "setup script failed for session %q", sess.Name)
		}
	}

	initialPrompt := sess.SpecContent
	sess.Branch = branch
	sess.ParentBranch = parentBranch
	sess.WorktreePath = worktreePath
	sess.InitialPrompt = initialPrompt
	sess.OriginalAgentType = nilIfEmpty(agentType)
	sess.OriginalSkipPermissions = skipPermissions
	sess.Status = store.StatusActive
	sess.SessionState = store.StateRunning

	if err := e.store.UpdateSession(ctx, sess); err != nil {
		e.rollbackWorktree(ctx, sess.RepositoryPath, branch, worktreePath)
		return nil, err
	}

	clearAlreadyPromptedMarker(worktreePath)

	if stats, err := e.git.GitStatsFast(ctx, worktreePath, parentBranch); err == nil {
		_ = e.store.UpsertGitStats(ctx, &store.GitStats{
			SessionID: sess.ID, FilesChanged: stats.FilesChanged,
			LinesAdded: stats.LinesAdded, LinesRemoved: stats.LinesRemoved, HasUncommitted: stats.HasUncommitted,
		})
	}

	e.publish(ctx, events.SessionAdded, events.SessionAddedPayload{
		Name: sess.Name, Branch: branch, WorktreePath: worktreePath, ParentBranch: parentBranch,
	})
	return sess, nil
}

// alreadyPromptedMarkerName is the sentinel file StartSpec removes from the
// new worktree (spec.md §9 open question 2). Nothing in this repository
// creates or reads the file.
const alreadyPromptedMarkerName = ".schaltwerk-prompted"

func clearAlreadyPromptedMarker(worktreePath string) {
	_ = os.Remove(worktreePath + string(os.PathSeparator) + alreadyPromptedMarkerName)
}

// ConvertToSpec runs spec.md §4.1 convert_to_spec.
func (e *Engine) ConvertToSpec(ctx context.Context, repoPath, name string) (*store.Session, error) {
	var result *store.Session
	var resultErr error
	e.repoLocks.withRepoLock(repoPath, func() {
		sess, err := e.store.GetSessionByName(ctx, repoPath, name)
		if err != nil {
			resultErr = err
			return
		}
		if sess.SessionState != store.StateRunning {
			resultErr = apperr.New(apperr.Precondition, "session %q is not running", name)
			return
		}

		if err := e.git.WorktreeRemove(ctx, repoPath, sess.WorktreePath); err != nil {
			e.logger.Warn("convert_to_spec worktree remove failed", zap.String("session", name), zap.Error(err))
		}
		if err := e.git.DeleteBranch(ctx, repoPath, sess.Branch); err != nil {
			e.logger.Warn("convert_to_spec branch delete failed", zap.String("session", name), zap.Error(err))
		}

		sess.WorktreePath = ""
		sess.Branch = ""
		sess.Status = store.StatusSpec
		sess.SessionState = store.StateSpec
		if err := e.store.UpdateSession(ctx, sess); err != nil {
			resultErr = err
			return
		}
		result = sess
	})
	return result, resultErr
}

// Cancel runs spec.md §4.1 cancel.
func (e *Engine) Cancel(ctx context.Context, repoPath, name, branchPrefix string) error {
	ctx, cancel := context.WithTimeout(ctx, constants.SessionCancelTimeout)
	defer cancel()

	var resultErr error
	e.repoLocks.withRepoLock(repoPath, func() {
		sess, err := e.store.GetSessionByName(ctx, repoPath, name)
		if err != nil {
			resultErr = err
			return
		}

		if sess.WorktreePath != "" {
			if err := e.git.WorktreeRemove(ctx, repoPath, sess.WorktreePath); err != nil {
				e.logger.Warn("cancel worktree remove failed", zap.String("session", name), zap.Error(err))
			}
		}

		if sess.Branch != "" {
			archived := gitops.ArchivedBranchName(branchPrefix, sess.Name, time.Now().UTC().Format("20060102_150405"))
			if err := e.git.ArchiveBranch(ctx, repoPath, sess.Branch, archived); err != nil {
				e.logger.Warn("cancel branch archive failed", zap.String("session", name), zap.Error(err))
			}
		}

		sess.Status = store.StatusCancelled
		if err := e.store.UpdateSession(ctx, sess); err != nil {
			resultErr = err
			return
		}
		e.publish(ctx, events.SessionRemoved, events.SessionRemovedPayload{Name: name})
	})
	return resultErr
}

// MarkReviewed runs spec.md §4.1 mark_reviewed.
func (e *Engine) MarkReviewed(ctx context.Context, repoPath, name string, autoCommit bool) (*store.Session, error) {
	var result *store.Session
	var resultErr error
	e.repoLocks.withRepoLock(repoPath, func() {
		result, resultErr = e.markReviewedLocked(ctx, repoPath, name, autoCommit)
	})
	return result, resultErr
}

func (e *Engine) markReviewedLocked(ctx context.Context, repoPath, name string, autoCommit bool) (*store.Session, error) {
	sess, err := e.store.GetSessionByName(ctx, repoPath, name)
	if err != nil {
		return nil, err
	}

	if autoCommit && sess.WorktreePath != "" {
		dirty, err := e.git.HasUncommitted(ctx, sess.WorktreePath)
		if err != nil {
			return nil, apperr.Wrap(apperr.Git, err, "failed to check worktree status for %q", name)
		}
		if dirty {
			if err := e.git.CommitAll(ctx, sess.WorktreePath, fmt.Sprintf("Mark session %s as reviewed", name)); err != nil {
				return nil, apperr.Wrap(apperr.Git, err, "auto-commit failed for %q", name)
			}
		}
	}

	sess.ReadyToMerge = true
	sess.SessionState = store.StateReviewed
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// UnmarkReviewed runs spec.md §4.1 unmark_reviewed.
func (e *Engine) UnmarkReviewed(ctx context.Context, repoPath, name string) (*store.Session, error) {
	sess, err := e.store.GetSessionByName(ctx, repoPath, name)
	if err != nil {
		return nil, err
	}
	sess.ReadyToMerge = false
	sess.SessionState = store.StateRunning
	if err := e.store.UpdateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// RenameSpec runs spec.md §4.1 rename_spec.
func (e *Engine) RenameSpec(ctx context.Context, repoPath, oldName, newName string) (*store.Session, error) {
	if err := gitops.ValidateSessionName(newName); err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "invalid session name")
	}

	var result *store.Session
	var resultErr error
	e.repoLocks.withRepoLock(repoPath, func() {
		sess, err := e.store.GetSessionByName(ctx, repoPath, oldName)
		if err != nil {
			resultErr = err
			return
		}
		if sess.SessionState != store.StateSpec {
			resultErr = apperr.New(apperr.Precondition, "session %q is not a spec", oldName)
			return
		}
		exists, err := e.store.NameExists(ctx, repoPath, newName)
		if err != nil {
			resultErr = err
			return
		}
		if exists {
			resultErr = apperr.New(apperr.Conflict, "session %q already exists", newName)
			return
		}

		sess.Name = newName
		sess.WorktreePath = gitops.WorktreePath(repoPath, newName)
		if err := e.store.UpdateSession(ctx, sess); err != nil {
			resultErr = err
			return
		}
		result = sess
	})
	return result, resultErr
}

// FilterMode/SortMode select list_enriched's output (spec.md §4.1).
type FilterMode string
type SortMode string

const (
	FilterAll      FilterMode = "all"
	FilterSpec     FilterMode = "spec"
	FilterRunning  FilterMode = "running"
	FilterReviewed FilterMode = "reviewed"

	SortName         SortMode = "name"
	SortCreated      SortMode = "created"
	SortLastEdited   SortMode = "last-edited"
	SortLastActivity SortMode = "last-activity"
)

// Enriched pairs a Session with its (possibly just-recomputed) GitStats.
type Enriched struct {
	Session *store.Session
	Stats   *store.GitStats
}

// ListEnriched runs spec.md §4.1 list_enriched: joins sessions with
// cached GitStats, recomputing any entry older than
// constants.GitStatsFreshness in-line.
func (e *Engine) ListEnriched(ctx context.Context, repoPath string, filter FilterMode, sort SortMode) ([]Enriched, error) {
	sessions, err := e.store.ListSessions(ctx, repoPath)
	if err != nil {
		return nil, err
	}

	out := make([]Enriched, 0, len(sessions))
	now := time.Now().UTC()
	for _, sess := range sessions {
		if !matchesFilter(sess, filter) {
			continue
		}

		stats, err := e.store.GetGitStats(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		if !stats.IsFresh(constants.GitStatsFreshness, now) && sess.WorktreePath != "" {
			if fresh, err := e.git.GitStatsFast(ctx, sess.WorktreePath, sess.ParentBranch); err == nil {
				stats = &store.GitStats{
					SessionID: sess.ID, FilesChanged: fresh.FilesChanged,
					LinesAdded: fresh.LinesAdded, LinesRemoved: fresh.LinesRemoved,
					HasUncommitted: fresh.HasUncommitted, CalculatedAt: now,
				}
				_ = e.store.UpsertGitStats(ctx, stats)
			}
		}
		out = append(out, Enriched{Session: sess, Stats: stats})
	}

	sortEnriched(out, sort)
	return out, nil
}

func matchesFilter(sess *store.Session, filter FilterMode) bool {
	switch filter {
	case FilterSpec:
		return sess.SessionState == store.StateSpec
	case FilterRunning:
		return sess.SessionState == store.StateRunning
	case FilterReviewed:
		return sess.SessionState == store.StateReviewed
	default:
		return true
	}
}

func sortEnriched(items []Enriched, mode SortMode) {
	less := func(i, j int) bool {
		a, b := items[i].Session, items[j].Session
		switch mode {
		case SortName:
			return a.Name < b.Name
		case SortLastEdited:
			return a.UpdatedAt.After(b.UpdatedAt)
		case SortLastActivity:
			return a.LastActivity.After(b.LastActivity)
		default: // SortCreated
			return a.CreatedAt.After(b.CreatedAt)
		}
	}
	insertionSort(items, less)
}

// insertionSort avoids pulling in sort.Slice's reflection-based closure
// for a list that is always small (a single repository's open sessions).
func insertionSort(items []Enriched, less func(i, j int) bool) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func (e *Engine) publish(ctx context.Context, subject string, payload any) {
	if e.events == nil {
		return
	}
	data, _ := toEventData(payload)
	if err := e.events.Publish(ctx, subject, bus.NewEvent(subject, "session-engine", data)); err != nil {
		e.logger.Debug("event publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
