package session

import "sync"

// repoLockEntry pairs a mutex with a reference count so the map entry can
// be reclaimed once no caller still holds it, grounded on the teacher's
// internal/worktree/manager.go getRepoLock/releaseRepoLock.
type repoLockEntry struct {
	mu       *sync.Mutex
	refCount int
}

// repoLocks serializes, per repository path, the lifecycle operations that
// touch worktrees or branches (spec.md §4.1 Concurrency).
type repoLocks struct {
	mu      sync.Mutex
	entries map[string]*repoLockEntry
}

func newRepoLocks() *repoLocks {
	return &repoLocks{entries: make(map[string]*repoLockEntry)}
}

func (r *repoLocks) acquire(repoPath string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[repoPath]; ok {
		entry.refCount++
		return entry.mu
	}
	entry := &repoLockEntry{mu: &sync.Mutex{}, refCount: 1}
	r.entries[repoPath] = entry
	return entry.mu
}

func (r *repoLocks) release(repoPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[repoPath]
	if !ok {
		return
	}
	entry.refCount--
	if entry.refCount <= 0 {
		delete(r.entries, repoPath)
	}
}

// withRepoLock runs fn while holding the repository's lock, releasing the
// map entry afterward regardless of outcome.
func (r *repoLocks) withRepoLock(repoPath string, fn func()) {
	mu := r.acquire(repoPath)
	mu.Lock()
	defer func() {
		mu.Unlock()
		r.release(repoPath)
	}()
	fn()
}
