package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/krill-network/krill/internal/domain"
	"github.com/krill-network/krill/internal/infra/dispatch"
	"github.com/krill-network/krill/internal/infra/metrics"
	"github.com/krill-network/krill/internal/infra/verify"
)

// Controller owns one task: its immutable header, dispatch registry and
// verification capability. All methods are safe for concurrent use from
// many peer-session goroutines; the registry provides the linearization
// point for dispatch state, the controller mutex guards the rest.
type Controller struct {
	header domain.TaskHeader
	def    domain.TaskDefinition
	ttype  TaskType

	srcCode string
	images  []domain.DockerImage

	reg *dispatch.Registry

	mu          sync.Mutex
	state       domain.TaskState
	aborted     bool
	pulling     map[string]bool // subtaskID → result package download in flight
	stdout      map[string]string
	stderr      map[string]string
	maxProgress float64
	createdAt   time.Time

	logger *zap.Logger
	now    func() time.Time
}

// NewController builds the controller for a validated task. The
// environment supplies the program source and container images shipped
// in every ComputeTaskDef.
func NewController(header domain.TaskHeader, def domain.TaskDefinition, env domain.Environment, logger *zap.Logger) (*Controller, error) {
	ttype, err := ForKind(def.Kind)
	if err != nil {
		return nil, err
	}
	src, err := env.MainProgramSource()
	if err != nil {
		return nil, err
	}

	c := &Controller{
		header:    header,
		def:       def,
		ttype:     ttype,
		srcCode:   src,
		images:    env.DockerImages(),
		reg:       dispatch.New(header.TaskID, header.SubtasksCount),
		state:     domain.StateNeedsComputation,
		pulling:   make(map[string]bool),
		stdout:    make(map[string]string),
		stderr:    make(map[string]string),
		createdAt: time.Now(),
		logger:    logger.With(zap.String("task_id", header.TaskID)),
		now:       time.Now,
	}
	if header.SubtasksCount == 0 {
		// Zero declared work: born finished.
		c.state = domain.StateFinished
		c.maxProgress = 1.0
	}
	return c, nil
}

// Header returns the immutable task descriptor.
func (c *Controller) Header() domain.TaskHeader { return c.header }

// Resources lists the input resources peers must pull before
// computing.
func (c *Controller) Resources() []string {
	out := make([]string, len(c.def.Resources))
	copy(out, c.def.Resources)
	return out
}

// ─── Dispatch ───────────────────────────────────────────────────────────────

// QueryExtraData assigns one unit of work to a requesting peer and
// builds the wire artifact. The effective deadline is the tighter of
// the task deadline and now + subtask timeout. Fails with ErrNoMoreWork
// when nothing is dispatchable and ErrTaskAborted after an abort.
func (c *Controller) QueryExtraData(perfIndex float64, numCores int, nodeID string) (domain.ComputeTaskDef, error) {
	now := c.now()

	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return domain.ComputeTaskDef{}, domain.ErrTaskAborted
	}
	if c.header.Expired(now) {
		c.mu.Unlock()
		return domain.ComputeTaskDef{}, domain.ErrNoMoreWork
	}
	c.mu.Unlock()

	// Unit assignment lives in the registry's critical section, so a
	// unit freed by rejection or expiry is the one re-offered here.
	rec, err := c.reg.Dispatch(nodeID, func(unit int) domain.ExtraData {
		return c.ttype.BuildExtraData(c.def, unit)
	}, c.header.EffectiveDeadline(now), now)
	if err != nil {
		return domain.ComputeTaskDef{}, err
	}

	c.mu.Lock()
	if c.reg.IsExhausted() && c.state == domain.StateNeedsComputation {
		c.state = domain.StateAwaitingResults
	}
	c.mu.Unlock()

	metrics.SubtasksDispatched.WithLabelValues(string(c.def.Kind)).Inc()
	c.logger.Debug("subtask dispatched",
		zap.String("subtask_id", rec.SubtaskID),
		zap.String("node_id", nodeID),
		zap.Time("deadline", rec.Deadline))

	return domain.ComputeTaskDef{
		TaskID:           c.header.TaskID,
		SubtaskID:        rec.SubtaskID,
		ExtraData:        rec.ExtraData,
		ShortDescription: c.ttype.ShortDescription(rec.ExtraData),
		SrcCode:          c.srcCode,
		Performance:      perfIndex,
		DockerImages:     c.images,
		Deadline:         rec.Deadline,
	}, nil
}

// ─── Results ────────────────────────────────────────────────────────────────

// ResultReceived verifies a delivered result and finalizes the subtask.
// Verified completes the dispatch record and advances progress; a wrong
// answer rejects the record and frees its unit for re-dispatch under a
// fresh identifier. Unknown or already-finalized subtasks return
// ErrUnknownSubtask and must be dropped by the caller.
func (c *Controller) ResultReceived(ctx context.Context, subtaskID string, result domain.TaskResult) (verify.Outcome, error) {
	c.ResultPullDone(subtaskID)

	verifier := c.ttype.NewVerifier()
	start := time.Now()
	outcome := verifier.Verify(ctx, result)
	metrics.VerificationSeconds.Observe(time.Since(start).Seconds())

	status := domain.SubtaskRejected
	if outcome == verify.Verified {
		status = domain.SubtaskVerified
	}

	rec, err := c.reg.Complete(subtaskID, status)
	if err != nil {
		// Late or duplicate completion: drop locally, never surface to the peer.
		c.logger.Debug("completion dropped", zap.String("subtask_id", subtaskID), zap.Error(err))
		return outcome, err
	}

	c.mu.Lock()
	c.stdout[subtaskID] = result.Stdout
	c.stderr[subtaskID] = result.Stderr
	switch outcome {
	case verify.Verified:
		metrics.SubtasksVerified.WithLabelValues(string(c.def.Kind)).Inc()
		if p := c.progressLocked(); p > c.maxProgress {
			c.maxProgress = p
		}
		if c.reg.CompletedUnits() >= c.reg.TotalUnits() && c.reg.IsEmpty() {
			c.state = domain.StateFinished
			c.maxProgress = 1.0
			c.logger.Info("task finished", zap.Int("units", c.reg.TotalUnits()))
		}
	default:
		metrics.SubtasksRejected.WithLabelValues(string(c.def.Kind)).Inc()
		if c.state == domain.StateAwaitingResults {
			c.state = domain.StateNeedsComputation
		}
		c.logger.Info("result rejected by verification",
			zap.String("subtask_id", subtaskID),
			zap.String("node_id", rec.NodeID))
	}
	c.mu.Unlock()

	return outcome, nil
}

// ComputationFailed marks one subtask attempt as failed and releases
// its slot for re-dispatch. Fatal for the attempt, recoverable for the
// task; only Abort ends the task itself.
func (c *Controller) ComputationFailed(subtaskID string) {
	rec, err := c.reg.ExpireOne(subtaskID)
	if err != nil {
		c.logger.Debug("failure for unknown subtask dropped", zap.String("subtask_id", subtaskID))
		return
	}
	metrics.SubtasksFailed.WithLabelValues(string(c.def.Kind)).Inc()
	c.logger.Warn("subtask computation failed",
		zap.String("subtask_id", subtaskID),
		zap.String("node_id", rec.NodeID))

	c.mu.Lock()
	if c.state == domain.StateAwaitingResults {
		c.state = domain.StateNeedsComputation
	}
	c.mu.Unlock()
}

// ExpireSubtasks sweeps dispatched records past their effective
// deadline, silently reclaiming their slots.
func (c *Controller) ExpireSubtasks(now time.Time) []domain.SubtaskRecord {
	expired := c.reg.Expire(now)
	if len(expired) == 0 {
		return nil
	}
	metrics.SubtasksExpired.WithLabelValues(string(c.def.Kind)).Add(float64(len(expired)))

	c.mu.Lock()
	if c.state == domain.StateAwaitingResults && !c.aborted {
		c.state = domain.StateNeedsComputation
	}
	c.mu.Unlock()

	for _, rec := range expired {
		c.logger.Info("subtask expired",
			zap.String("subtask_id", rec.SubtaskID),
			zap.Time("deadline", rec.Deadline))
	}
	return expired
}

// ─── Peer Admission ─────────────────────────────────────────────────────────

// ShouldAcceptPeer is the backpressure signal for a requesting peer:
// Accepted when work is available — or when the task is already finished
// so the peer learns not to retry — and ShouldWait otherwise.
func (c *Controller) ShouldAcceptPeer(nodeID string) domain.AcceptVerdict {
	if c.NeedsComputation() || c.Finished() {
		return domain.VerdictAccepted
	}
	return domain.VerdictShouldWait
}

// ─── Queries ────────────────────────────────────────────────────────────────

// NeedsComputation reports whether a unit of work is dispatchable now.
func (c *Controller) NeedsComputation() bool {
	c.mu.Lock()
	aborted := c.aborted
	c.mu.Unlock()
	if aborted || c.header.Expired(c.now()) {
		return false
	}
	return !c.reg.IsExhausted()
}

// Finished reports whether all declared work is verified (or the task
// was aborted). Never inferred from elapsed time.
func (c *Controller) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == domain.StateFinished
}

// Aborted reports whether Finished was forced by an abort; downstream
// payment logic must not pay for partial work on an aborted task.
func (c *Controller) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// State returns the coarse lifecycle state.
func (c *Controller) State() domain.TaskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress returns completedCount/totalCount in [0, 1], monotonically
// non-decreasing across every operation except Restart.
func (c *Controller) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p := c.progressLocked(); p > c.maxProgress {
		c.maxProgress = p
	}
	return c.maxProgress
}

func (c *Controller) progressLocked() float64 {
	total := c.reg.TotalUnits()
	if total == 0 {
		return 1.0
	}
	return float64(c.reg.CompletedUnits()) / float64(total)
}

// TrustMod returns the trust modifier applied to the computing node
// after this subtask settles.
func (c *Controller) TrustMod(subtaskID string) int { return 1 }

// Stdout returns captured stdout for a finalized subtask, or "".
func (c *Controller) Stdout(subtaskID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stdout[subtaskID]
}

// Stderr returns captured stderr for a finalized subtask, or "".
func (c *Controller) Stderr(subtaskID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stderr[subtaskID]
}

// Summary returns the owner-facing view of the task.
func (c *Controller) Summary() domain.TaskSummary {
	c.mu.Lock()
	state := c.state
	aborted := c.aborted
	created := c.createdAt
	c.mu.Unlock()

	return domain.TaskSummary{
		TaskID:        c.header.TaskID,
		Name:          c.def.Name,
		Kind:          c.def.Kind,
		State:         state,
		Aborted:       aborted,
		SubtasksCount: c.header.SubtasksCount,
		Completed:     c.reg.CompletedUnits(),
		Outstanding:   c.reg.OutstandingCount(),
		Progress:      c.Progress(),
		Deadline:      c.header.Deadline,
		CreatedAt:     created,
	}
}

// ─── Result-Pull Tracking ───────────────────────────────────────────────────

// ResultIncoming marks that a result package for subtaskID is being
// pulled; task requests answer DOWNLOADING_RESULT while any pull is in
// flight.
func (c *Controller) ResultIncoming(subtaskID string) {
	c.mu.Lock()
	c.pulling[subtaskID] = true
	c.mu.Unlock()
}

// ResultPullDone clears the pull marker for subtaskID.
func (c *Controller) ResultPullDone(subtaskID string) {
	c.mu.Lock()
	delete(c.pulling, subtaskID)
	c.mu.Unlock()
}

// DownloadingResult reports whether any result pull is in flight.
func (c *Controller) DownloadingResult() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pulling) > 0
}

// ─── Terminal Operations ────────────────────────────────────────────────────

// Restart drops every in-flight record and all verified progress,
// re-seeding NeedsComputation from the original declared work count.
// Previously issued subtask identifiers stay burned.
func (c *Controller) Restart() {
	c.reg.Reset()

	c.mu.Lock()
	c.aborted = false
	c.maxProgress = 0
	c.pulling = make(map[string]bool)
	if c.header.SubtasksCount == 0 {
		c.state = domain.StateFinished
		c.maxProgress = 1.0
	} else {
		c.state = domain.StateNeedsComputation
	}
	c.mu.Unlock()

	c.logger.Info("task restarted")
}

// RestartSubtask expires one dispatched record out of band and
// re-offers its unit of work.
func (c *Controller) RestartSubtask(subtaskID string) error {
	if _, err := c.reg.ExpireOne(subtaskID); err != nil {
		return err
	}
	c.mu.Lock()
	if c.state == domain.StateAwaitingResults {
		c.state = domain.StateNeedsComputation
	}
	c.mu.Unlock()
	c.logger.Info("subtask restarted", zap.String("subtask_id", subtaskID))
	return nil
}

// Abort clears the registry and forces Finished with the aborted flag
// set. Idempotent; the sole externally triggered task-level cancel.
func (c *Controller) Abort() {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return
	}
	c.aborted = true
	c.state = domain.StateFinished
	c.mu.Unlock()

	dropped := c.reg.Clear()
	c.logger.Info("task aborted", zap.Int("dropped_subtasks", len(dropped)))
}
