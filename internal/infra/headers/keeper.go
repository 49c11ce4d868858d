// Package headers keeps the task headers known to this node: tasks
// advertised by owners that this node may request work from. Headers
// expire with their task deadline and are pruned.
package headers

import (
	"sort"
	"sync"
	"time"

	"github.com/krill-network/krill/internal/domain"
)

// Keeper is a mutex-guarded header store. All accessors return copies.
type Keeper struct {
	mu      sync.Mutex
	headers map[string]domain.TaskHeader
}

// NewKeeper builds an empty keeper.
func NewKeeper() *Keeper {
	return &Keeper{headers: make(map[string]domain.TaskHeader)}
}

// Add records or refreshes a header under its task ID.
func (k *Keeper) Add(h domain.TaskHeader) {
	k.mu.Lock()
	k.headers[h.TaskID] = h
	k.mu.Unlock()
}

// Get returns the header for a task.
func (k *Keeper) Get(taskID string) (domain.TaskHeader, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	h, ok := k.headers[taskID]
	return h, ok
}

// Remove forgets a task's header. Removing an unknown task is a no-op.
func (k *Keeper) Remove(taskID string) {
	k.mu.Lock()
	delete(k.headers, taskID)
	k.mu.Unlock()
}

// List returns every known header, newest deadline first.
func (k *Keeper) List() []domain.TaskHeader {
	k.mu.Lock()
	out := make([]domain.TaskHeader, 0, len(k.headers))
	for _, h := range k.headers {
		out = append(out, h)
	}
	k.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.After(out[j].Deadline) })
	return out
}

// Prune drops headers whose task deadline has passed and returns how
// many were removed.
func (k *Keeper) Prune(now time.Time) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for id, h := range k.headers {
		if h.Expired(now) {
			delete(k.headers, id)
			n++
		}
	}
	return n
}

// Len reports the number of known headers.
func (k *Keeper) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.headers)
}
