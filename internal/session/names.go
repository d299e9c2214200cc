package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/kandev/schaltwerk/internal/gitops"
)

// nameReservations tracks names reserved mid-flight by create_session
// calls that have not yet committed a row, so two concurrent creates for
// the same base name cannot both resolve to the same suffix (spec.md
// §4.1 step 1).
type nameReservations struct {
	mu        sync.Mutex
	reserved  map[string]map[string]bool // repoPath -> name -> true
}

func newNameReservations() *nameReservations {
	return &nameReservations{reserved: make(map[string]map[string]bool)}
}

func (n *nameReservations) isReserved(repoPath, name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reserved[repoPath][name]
}

func (n *nameReservations) reserve(repoPath, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.reserved[repoPath] == nil {
		n.reserved[repoPath] = make(map[string]bool)
	}
	n.reserved[repoPath][name] = true
}

func (n *nameReservations) release(repoPath, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.reserved[repoPath], name)
}

// resolveUniqueName appends "-<suffix>" (an incrementing integer, after
// the first random-token attempt) until it finds a name that is neither
// already persisted nor reserved by a concurrent in-flight create
// (spec.md §4.1 step 1).
func (e *Engine) resolveUniqueName(ctx context.Context, repoPath, base string) (string, error) {
	candidate := base
	for attempt := 0; attempt < 50; attempt++ {
		if attempt > 0 {
			if attempt == 1 {
				candidate = fmt.Sprintf("%s-%s", base, gitops.RandomSuffix(2))
			} else {
				candidate = fmt.Sprintf("%s-%d", base, attempt)
			}
		}

		if e.reservations.isReserved(repoPath, candidate) {
			continue
		}
		exists, err := e.store.NameExists(ctx, repoPath, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			e.reservations.reserve(repoPath, candidate)
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not find a free name for %q after 50 attempts", base)
}
