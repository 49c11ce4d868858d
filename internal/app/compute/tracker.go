// Package compute tracks the work this node computes for others:
// granted subtasks, their failures, and the rewards peers have paid.
// Execution itself happens in an external sandbox; the tracker is the
// negotiation core's view of it.
package compute

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krill-network/krill/internal/domain"
)

// AssignmentStatus tracks one granted subtask locally.
type AssignmentStatus string

const (
	AssignmentComputing AssignmentStatus = "COMPUTING"
	AssignmentFailed    AssignmentStatus = "FAILED"
	AssignmentRewarded  AssignmentStatus = "REWARDED"
)

// Assignment is one granted subtask as seen by this node.
type Assignment struct {
	Def       domain.ComputeTaskDef
	Status    AssignmentStatus
	Message   string // failure detail, when failed
	Reward    *domain.Payment
	GrantedAt time.Time
}

// Tracker implements domain.TaskComputer and domain.RewardListener.
type Tracker struct {
	mu          sync.Mutex
	assignments map[string]*Assignment // by subtask ID
	logger      *zap.Logger
}

// NewTracker builds an empty tracker.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		assignments: make(map[string]*Assignment),
		logger:      logger,
	}
}

// TaskGiven records a granted subtask.
func (t *Tracker) TaskGiven(def domain.ComputeTaskDef) {
	t.mu.Lock()
	t.assignments[def.SubtaskID] = &Assignment{
		Def:       def,
		Status:    AssignmentComputing,
		GrantedAt: time.Now(),
	}
	t.mu.Unlock()
	t.logger.Info("subtask granted",
		zap.String("subtask_id", def.SubtaskID),
		zap.String("description", def.ShortDescription),
		zap.Time("deadline", def.Deadline))
}

// TaskRequestRejected records a refused work request.
func (t *Tracker) TaskRequestRejected(taskID string, reason domain.TaskRequestRejection) {
	t.logger.Info("work request refused",
		zap.String("task_id", taskID),
		zap.String("reason", string(reason)))
}

// SubtaskFailed marks a granted subtask as failed.
func (t *Tracker) SubtaskFailed(subtaskID, message string) {
	t.mu.Lock()
	if a, ok := t.assignments[subtaskID]; ok {
		a.Status = AssignmentFailed
		a.Message = message
	}
	t.mu.Unlock()
	t.logger.Warn("subtask failed",
		zap.String("subtask_id", subtaskID),
		zap.String("message", message))
}

// SessionClosed notes that a peer session went away. Assignments stay;
// results can be delivered over a fresh session.
func (t *Tracker) SessionClosed(peerKey string) {
	t.logger.Debug("peer session closed", zap.String("peer", peerKey))
}

// RewardPaid records a verified payment announcement for a computed
// subtask.
func (t *Tracker) RewardPaid(subtaskID string, reward *domain.Payment) {
	t.mu.Lock()
	a, ok := t.assignments[subtaskID]
	if ok {
		a.Status = AssignmentRewarded
		a.Reward = reward
	}
	t.mu.Unlock()
	if !ok {
		t.logger.Warn("reward for unknown subtask",
			zap.String("subtask_id", subtaskID))
		return
	}
	t.logger.Info("subtask reward received",
		zap.String("subtask_id", subtaskID),
		zap.String("transaction_id", reward.TransactionID),
		zap.Int64("block", reward.BlockNumber))
}

// Assignment returns one assignment by subtask ID.
func (t *Tracker) Assignment(subtaskID string) (Assignment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.assignments[subtaskID]
	if !ok {
		return Assignment{}, false
	}
	return *a, true
}

// Assignments returns a snapshot of every tracked assignment.
func (t *Tracker) Assignments() []Assignment {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Assignment, 0, len(t.assignments))
	for _, a := range t.assignments {
		out = append(out, *a)
	}
	return out
}

var (
	_ domain.TaskComputer   = (*Tracker)(nil)
	_ domain.RewardListener = (*Tracker)(nil)
)
