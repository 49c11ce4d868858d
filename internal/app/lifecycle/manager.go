package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krill-network/krill/internal/domain"
	"github.com/krill-network/krill/internal/infra/metrics"
	"github.com/krill-network/krill/internal/infra/verify"
)

// SweepInterval is how often the manager reclaims expired subtasks.
const SweepInterval = 10 * time.Second

// Manager holds every live task controller and routes subtask-scoped
// events to the task that issued the subtask. It is the single owner of
// the subtask → task mapping: subtask IDs carry no routing information
// of their own.
type Manager struct {
	mu           sync.RWMutex
	tasks        map[string]*Controller
	subtaskOwner map[string]string // subtaskID → taskID

	store     domain.TaskStore      // optional
	resources domain.ResourceClient // optional
	logger    *zap.Logger
}

// NewManager builds an empty manager. store may be nil when no
// persistence surface is wired.
func NewManager(store domain.TaskStore, logger *zap.Logger) *Manager {
	return &Manager{
		tasks:        make(map[string]*Controller),
		subtaskOwner: make(map[string]string),
		store:        store,
		logger:       logger,
	}
}

// SetResourceClient wires the pull client so task abort can cancel
// in-flight downloads.
func (m *Manager) SetResourceClient(rc domain.ResourceClient) {
	m.resources = rc
}

// Add registers a new task. Replacing an existing controller under the
// same ID is not allowed.
func (m *Manager) Add(ctrl *Controller) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ctrl.Header().TaskID
	if _, ok := m.tasks[id]; ok {
		return domain.ErrTaskExists
	}
	m.tasks[id] = ctrl
	metrics.TasksActive.Set(float64(len(m.tasks)))
	m.persist(ctrl)
	return nil
}

// Get returns the controller for a task, or nil when unknown.
func (m *Manager) Get(taskID string) *Controller {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tasks[taskID]
}

// List returns summaries of every held task.
func (m *Manager) List() []domain.TaskSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TaskSummary, 0, len(m.tasks))
	for _, ctrl := range m.tasks {
		out = append(out, ctrl.Summary())
	}
	return out
}

// TaskForSubtask resolves the task that issued a subtask ID.
func (m *Manager) TaskForSubtask(subtaskID string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	taskID, ok := m.subtaskOwner[subtaskID]
	if !ok {
		return nil, domain.ErrUnknownSubtask
	}
	ctrl, ok := m.tasks[taskID]
	if !ok {
		return nil, domain.ErrUnknownTask
	}
	return ctrl, nil
}

// ─── Event routing ──────────────────────────────────────────────────────────

// QueryExtraData dispatches one unit of work from the named task and
// records the issued subtask so later events route back to it.
func (m *Manager) QueryExtraData(taskID string, perfIndex float64, numCores int, nodeID string) (domain.ComputeTaskDef, error) {
	ctrl := m.Get(taskID)
	if ctrl == nil {
		return domain.ComputeTaskDef{}, domain.ErrUnknownTask
	}
	ctd, err := ctrl.QueryExtraData(perfIndex, numCores, nodeID)
	if err != nil {
		return domain.ComputeTaskDef{}, err
	}

	m.mu.Lock()
	m.subtaskOwner[ctd.SubtaskID] = taskID
	m.mu.Unlock()

	m.persist(ctrl)
	return ctd, nil
}

// ResultReceived routes a downloaded result to its task for
// verification.
func (m *Manager) ResultReceived(ctx context.Context, subtaskID string, result domain.TaskResult) (verify.Outcome, error) {
	ctrl, err := m.TaskForSubtask(subtaskID)
	if err != nil {
		return verify.WrongAnswer, err
	}
	outcome, err := ctrl.ResultReceived(ctx, subtaskID, result)
	m.persist(ctrl)
	return outcome, err
}

// ComputationFailed reclaims a subtask whose peer reported failure.
// Unknown subtasks are dropped silently: the report may race an expiry
// sweep.
func (m *Manager) ComputationFailed(subtaskID string) {
	ctrl, err := m.TaskForSubtask(subtaskID)
	if err != nil {
		m.logger.Debug("failure report for unknown subtask",
			zap.String("subtask_id", subtaskID))
		return
	}
	ctrl.ComputationFailed(subtaskID)
	m.persist(ctrl)
}

// ─── Operator actions ───────────────────────────────────────────────────────

// Abort aborts the named task and cancels any in-flight resource or
// result-package pulls for it.
func (m *Manager) Abort(taskID string) error {
	ctrl := m.Get(taskID)
	if ctrl == nil {
		return domain.ErrUnknownTask
	}
	ctrl.Abort()
	if m.resources != nil {
		m.resources.CancelTask(taskID)
	}
	m.persist(ctrl)
	return nil
}

// Restart puts the named task back to full remaining work.
func (m *Manager) Restart(taskID string) error {
	ctrl := m.Get(taskID)
	if ctrl == nil {
		return domain.ErrUnknownTask
	}
	ctrl.Restart()
	m.persist(ctrl)
	return nil
}

// RestartSubtask reclaims a single outstanding subtask.
func (m *Manager) RestartSubtask(subtaskID string) error {
	ctrl, err := m.TaskForSubtask(subtaskID)
	if err != nil {
		return err
	}
	if err := ctrl.RestartSubtask(subtaskID); err != nil {
		return err
	}
	m.persist(ctrl)
	return nil
}

// ─── Background sweep ───────────────────────────────────────────────────────

// Run sweeps expired subtasks until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Sweep reclaims expired subtasks across every task.
func (m *Manager) Sweep(now time.Time) {
	m.mu.RLock()
	ctrls := make([]*Controller, 0, len(m.tasks))
	for _, ctrl := range m.tasks {
		ctrls = append(ctrls, ctrl)
	}
	m.mu.RUnlock()

	for _, ctrl := range ctrls {
		if expired := ctrl.ExpireSubtasks(now); len(expired) > 0 {
			m.logger.Info("expired subtasks reclaimed",
				zap.String("task_id", ctrl.Header().TaskID),
				zap.Int("count", len(expired)))
			m.persist(ctrl)
		}
	}
}

func (m *Manager) persist(ctrl *Controller) {
	if m.store == nil {
		return
	}
	if err := m.store.UpsertTask(ctrl.Summary()); err != nil {
		m.logger.Warn("task summary persist failed",
			zap.String("task_id", ctrl.Header().TaskID), zap.Error(err))
	}
}
