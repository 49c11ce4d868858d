// Package dispatch implements the subtask dispatch registry: the single
// source of truth for which subtasks are outstanding for one task.
//
// The registry is the linchpin of the at-most-one-dispatch guarantee.
// Peer-facing handlers run on many session goroutines and race on it;
// every mutating operation takes the registry mutex, so dispatch,
// completion and expiry are linearizable per task. Registries of
// different tasks never contend.
package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/krill-network/krill/internal/domain"
)

// NewSubtaskID derives a fresh subtask identifier from the parent task
// id plus an entropy suffix. Identifiers are never reused, even after
// expiry or rejection.
func NewSubtaskID(taskID string) string {
	return fmt.Sprintf("%s.%s", taskID, uuid.NewString()[:13])
}

// Registry tracks in-flight subtask assignments for a single task. It
// also owns unit assignment: each dispatch binds exactly one declared
// unit index, and a unit freed by rejection or expiry goes back into
// the pool so the same work is recomputed, never a unit past the
// declared range.
type Registry struct {
	mu     sync.Mutex
	taskID string
	total  int // declared units of work
	done   int // units verified

	next  int   // next never-assigned unit index
	freed []int // units returned by rejection/expiry, handed out first

	records map[string]*domain.SubtaskRecord // subtaskID → Dispatched record
	issued  map[string]struct{}              // every id ever issued, for uniqueness
}

// New creates a registry for a task with the given declared work count.
func New(taskID string, totalUnits int) *Registry {
	if totalUnits < 0 {
		totalUnits = 0
	}
	return &Registry{
		taskID:  taskID,
		total:   totalUnits,
		records: make(map[string]*domain.SubtaskRecord),
		issued:  make(map[string]struct{}),
	}
}

// ExtraDataBuilder cuts the payload for an assigned unit index. Called
// inside the dispatch critical section, so unit assignment and payload
// are atomic; builders must be pure.
type ExtraDataBuilder func(unit int) domain.ExtraData

// Dispatch atomically assigns one unit of work: picks a freed unit
// first (so failed work is recomputed) and a never-assigned one
// otherwise, generates a fresh subtask identifier and inserts a
// Dispatched record, returning a copy. Fails with ErrNoMoreWork once
// every remaining unit is either verified or outstanding.
func (r *Registry) Dispatch(nodeID string, buildExtra ExtraDataBuilder, deadline time.Time, now time.Time) (domain.SubtaskRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remainingLocked() <= 0 {
		return domain.SubtaskRecord{}, domain.ErrNoMoreWork
	}

	var unit int
	if n := len(r.freed); n > 0 {
		unit = r.freed[n-1]
		r.freed = r.freed[:n-1]
	} else {
		unit = r.next
		r.next++
	}

	id := NewSubtaskID(r.taskID)
	for {
		if _, dup := r.issued[id]; !dup {
			break
		}
		id = NewSubtaskID(r.taskID)
	}
	r.issued[id] = struct{}{}

	var extra domain.ExtraData
	if buildExtra != nil {
		extra = buildExtra(unit).Clone()
	}

	rec := &domain.SubtaskRecord{
		SubtaskID:  id,
		TaskID:     r.taskID,
		NodeID:     nodeID,
		Unit:       unit,
		ExtraData:  extra,
		AssignedAt: now,
		Deadline:   deadline,
		Status:     domain.SubtaskDispatched,
	}
	r.records[id] = rec
	return *rec, nil
}

// Complete removes the record for subtaskID and returns it with the
// given terminal status. Verified counts the unit as done; Rejected
// frees the slot for re-dispatch. Duplicate or late completions fail
// with ErrUnknownSubtask and must be dropped by the caller, not treated
// as fatal.
func (r *Registry) Complete(subtaskID string, status domain.SubtaskStatus) (domain.SubtaskRecord, error) {
	if status != domain.SubtaskVerified && status != domain.SubtaskRejected {
		return domain.SubtaskRecord{}, fmt.Errorf("complete with non-terminal status %s", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[subtaskID]
	if !ok {
		return domain.SubtaskRecord{}, domain.ErrUnknownSubtask
	}
	delete(r.records, subtaskID)

	rec.Status = status
	if status == domain.SubtaskVerified {
		r.done++
	} else {
		r.freed = append(r.freed, rec.Unit)
	}
	return *rec, nil
}

// Expire transitions every Dispatched record whose effective deadline
// has passed to Expired, releasing its slot. Runs on a periodic sweep,
// concurrently with any in-flight Dispatch or Complete.
func (r *Registry) Expire(now time.Time) []domain.SubtaskRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.SubtaskRecord
	for id, rec := range r.records {
		if rec.Expired(now) {
			delete(r.records, id)
			rec.Status = domain.SubtaskExpired
			r.freed = append(r.freed, rec.Unit)
			expired = append(expired, *rec)
		}
	}
	return expired
}

// ExpireOne forces a single Dispatched record to Expired out of band,
// re-offering its unit of work.
func (r *Registry) ExpireOne(subtaskID string) (domain.SubtaskRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[subtaskID]
	if !ok {
		return domain.SubtaskRecord{}, domain.ErrUnknownSubtask
	}
	delete(r.records, subtaskID)
	rec.Status = domain.SubtaskExpired
	r.freed = append(r.freed, rec.Unit)
	return *rec, nil
}

// Reset clears all in-flight records and verified progress, re-seeding
// the full declared work count. Issued identifiers are retained so no
// id is ever handed out twice across restarts.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*domain.SubtaskRecord)
	r.done = 0
	r.next = 0
	r.freed = nil
}

// Clear drops every in-flight record without re-offering the work.
// Used by task abort.
func (r *Registry) Clear() []domain.SubtaskRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []domain.SubtaskRecord
	for id, rec := range r.records {
		delete(r.records, id)
		rec.Status = domain.SubtaskExpired
		r.freed = append(r.freed, rec.Unit)
		dropped = append(dropped, *rec)
	}
	return dropped
}

// ─── Read-Only Queries ──────────────────────────────────────────────────────

// OutstandingCount returns the number of Dispatched records.
func (r *Registry) OutstandingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// CompletedUnits returns how many units have been verified.
func (r *Registry) CompletedUnits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// TotalUnits returns the declared work count.
func (r *Registry) TotalUnits() int { return r.total }

// RemainingUnits returns how many units are still dispatchable.
func (r *Registry) RemainingUnits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remainingLocked()
}

// IsExhausted reports that no unit of work is currently dispatchable.
func (r *Registry) IsExhausted() bool {
	return r.RemainingUnits() <= 0
}

// IsEmpty reports that nothing is outstanding.
func (r *Registry) IsEmpty() bool {
	return r.OutstandingCount() == 0
}

// WasIssued reports whether an identifier was ever handed out.
func (r *Registry) WasIssued(subtaskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.issued[subtaskID]
	return ok
}

// Snapshot returns copies of all in-flight records.
func (r *Registry) Snapshot() []domain.SubtaskRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.SubtaskRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}

func (r *Registry) remainingLocked() int {
	return r.total - r.done - len(r.records)
}
