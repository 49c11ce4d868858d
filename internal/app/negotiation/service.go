// Package negotiation implements the peer protocol: task requests,
// work grants, result delivery and payment settlement. One Service
// handles both roles — owner of local tasks and computing peer for
// remote ones.
package negotiation

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/krill-network/krill/internal/app/lifecycle"
	"github.com/krill-network/krill/internal/app/payment"
	"github.com/krill-network/krill/internal/domain"
	"github.com/krill-network/krill/internal/infra/headers"
	"github.com/krill-network/krill/internal/infra/metrics"
	"github.com/krill-network/krill/internal/infra/p2p"
	"github.com/krill-network/krill/internal/infra/verify"
)

// Config carries the node-level knobs the service needs.
type Config struct {
	// LocalKey is this node's hex public key.
	LocalKey string

	// EthAccount receives rewards for work this node computes.
	EthAccount string

	// OutputRoot is where pulled result packages land, one directory
	// per subtask.
	OutputRoot string
}

// Service routes negotiation messages between the lifecycle manager,
// the payment ledger and the local computer.
type Service struct {
	cfg       Config
	manager   *lifecycle.Manager
	headers   *headers.Keeper
	payments  *payment.Service
	resources domain.ResourceClient
	computer  domain.TaskComputer
	rewards   domain.RewardListener
	table     *p2p.Table
	dialer    p2p.Dialer
	logger    *zap.Logger
}

// NewService wires the negotiation service.
func NewService(cfg Config, manager *lifecycle.Manager, keeper *headers.Keeper,
	payments *payment.Service, resources domain.ResourceClient,
	computer domain.TaskComputer, rewards domain.RewardListener,
	dialer p2p.Dialer, logger *zap.Logger) *Service {
	return &Service{
		cfg:       cfg,
		manager:   manager,
		headers:   keeper,
		payments:  payments,
		resources: resources,
		computer:  computer,
		rewards:   rewards,
		table:     p2p.NewTable(),
		dialer:    dialer,
		logger:    logger,
	}
}

// Sessions exposes the live session table.
func (s *Service) Sessions() *p2p.Table { return s.table }

// ServeSession registers a session and pumps its messages until the
// peer goes away. Runs on the caller's goroutine; the daemon spawns one
// per accepted connection.
func (s *Service) ServeSession(ctx context.Context, sess *p2p.Session) {
	s.table.Put(sess)
	defer func() {
		s.table.Remove(sess)
		sess.Close()
		s.computer.SessionClosed(sess.PeerKey())
	}()

	for {
		msg, err := sess.Recv()
		if err != nil {
			if !errors.Is(err, domain.ErrSessionClosed) && ctx.Err() == nil {
				s.logger.Warn("session receive failed",
					zap.String("peer", sess.PeerKey()), zap.Error(err))
			}
			return
		}
		s.Handle(ctx, sess, msg)
		if ctx.Err() != nil {
			return
		}
	}
}

// Handle dispatches one inbound message to its handler.
func (s *Service) Handle(ctx context.Context, sess *p2p.Session, msg domain.Message) {
	switch m := msg.(type) {
	case *domain.TaskRequest:
		s.handleTaskRequest(sess, m)
	case *domain.RejectTaskRequest:
		s.handleRejectTaskRequest(sess, m)
	case *domain.Task:
		s.handleTask(ctx, sess, m)
	case *domain.RejectTask:
		s.handleRejectTask(m)
	case *domain.Result:
		s.handleResult(ctx, sess, m)
	case *domain.RejectResult:
		s.handleRejectResult(m)
	case *domain.PaymentRequest:
		s.handlePaymentRequest(sess, m)
	case *domain.Payment:
		s.handlePayment(m)
	default:
		s.logger.Warn("unhandled message kind",
			zap.String("kind", msg.Kind().String()),
			zap.String("peer", sess.PeerKey()))
	}
}

// ─── Owner Side ─────────────────────────────────────────────────────────────

// handleTaskRequest answers a peer asking for work on a task this node
// owns. Every refusal carries a typed reason; the request never fails
// silently.
func (s *Service) handleTaskRequest(sess *p2p.Session, m *domain.TaskRequest) {
	ctrl := s.manager.Get(m.TaskID)
	if ctrl == nil {
		s.rejectTaskRequest(sess, m.TaskID, domain.RequestRejectTaskIDUnknown)
		return
	}
	if ctrl.DownloadingResult() {
		s.rejectTaskRequest(sess, m.TaskID, domain.RequestRejectDownloadingResult)
		return
	}
	if !ctrl.Aborted() && ctrl.ShouldAcceptPeer(sess.PeerKey()) == domain.VerdictShouldWait {
		// All units are out being computed. The transient reason tells
		// the peer to keep the header and ask again later, because a
		// failed unit may yet come back to the pool. Aborted tasks fall
		// through to a final refusal instead.
		s.rejectTaskRequest(sess, m.TaskID, domain.RequestRejectDownloadingResult)
		return
	}

	ctd, err := s.manager.QueryExtraData(m.TaskID, m.Performance, m.MaxCPUs, sess.PeerKey())
	if err != nil {
		// Aborted and exhausted tasks both have no more subtasks to give.
		s.rejectTaskRequest(sess, m.TaskID, domain.RequestRejectNoMoreSubtasks)
		return
	}

	task := &domain.Task{
		Def:             ctd,
		Resources:       ctrl.Resources(),
		ResourceOptions: domain.ResourceOptions{},
	}
	if err := sess.Send(task); err != nil {
		s.logger.Warn("task grant send failed",
			zap.String("subtask_id", ctd.SubtaskID), zap.Error(err))
		s.manager.ComputationFailed(ctd.SubtaskID)
	}
}

func (s *Service) rejectTaskRequest(sess *p2p.Session, taskID string, reason domain.TaskRequestRejection) {
	metrics.RejectionsSent.WithLabelValues("task_request", string(reason)).Inc()
	s.logger.Debug("task request rejected",
		zap.String("task_id", taskID),
		zap.String("reason", string(reason)),
		zap.String("peer", sess.PeerKey()))
	if err := sess.Send(&domain.RejectTaskRequest{TaskID: taskID, Reason: reason}); err != nil {
		s.logger.Warn("rejection send failed", zap.Error(err))
	}
}

// handleResult accepts a result announcement for a subtask this node
// dispatched, pulls the package, verifies it and settles payment.
func (s *Service) handleResult(ctx context.Context, sess *p2p.Session, m *domain.Result) {
	ctrl, err := s.manager.TaskForSubtask(m.SubtaskID)
	if err != nil {
		s.rejectResult(sess, m.SubtaskID, domain.ResultRejectSubtaskIDUnknown)
		return
	}

	taskID := ctrl.Header().TaskID
	ctrl.ResultIncoming(m.SubtaskID)
	outputDir := filepath.Join(s.cfg.OutputRoot, taskID, m.SubtaskID)

	subtaskID := m.SubtaskID
	ethAccount := m.EthAccount
	compTime := m.ComputationTime
	s.resources.PullResultPackage(ctx, m.ResourceHash, taskID, subtaskID, m.ResourceSecret,
		m.ResourceOptions, outputDir,
		func(result domain.TaskResult) {
			result.ComputationTime = compTime
			outcome, err := s.manager.ResultReceived(ctx, subtaskID, result)
			if err != nil {
				// Late or duplicate delivery: already dropped by the manager.
				return
			}
			if outcome == verify.Verified && !ctrl.Aborted() {
				s.settle(ctrl, subtaskID, ethAccount, compTime)
			}
		},
		func(err error) {
			ctrl.ResultPullDone(subtaskID)
			s.logger.Warn("result package download failed",
				zap.String("subtask_id", subtaskID), zap.Error(err))
			s.rejectResult(sess, subtaskID, domain.ResultRejectDownloadFailed)
		})
}

func (s *Service) settle(ctrl *lifecycle.Controller, subtaskID, payee string, compTime float64) {
	value := RewardFor(ctrl.Header().MaxPrice, compTime)
	err := s.payments.Settle(subtaskID, ctrl.Header().TaskID, payee, value)
	if err != nil && !errors.Is(err, domain.ErrPaymentExists) {
		s.logger.Error("payment settle failed",
			zap.String("subtask_id", subtaskID), zap.Error(err))
	}
}

func (s *Service) rejectResult(sess *p2p.Session, subtaskID string, reason domain.ResultRejection) {
	metrics.RejectionsSent.WithLabelValues("result", string(reason)).Inc()
	if err := sess.Send(&domain.RejectResult{SubtaskID: subtaskID, Reason: reason}); err != nil {
		s.logger.Warn("result rejection send failed", zap.Error(err))
	}
}

// handlePaymentRequest answers a settlement query. An unsettled or
// unknown payment gets no reply at all: silence is the provider's
// signal to ask again later.
func (s *Service) handlePaymentRequest(sess *p2p.Session, m *domain.PaymentRequest) {
	rec, err := s.payments.Lookup(m.SubtaskID)
	if err != nil {
		s.logger.Debug("payment request for unsettled subtask",
			zap.String("subtask_id", m.SubtaskID),
			zap.String("peer", sess.PeerKey()))
		return
	}

	reply := &domain.Payment{
		SubtaskID:     rec.SubtaskID,
		TransactionID: rec.TransactionID,
		Remuneration:  rec.Value,
		BlockNumber:   rec.BlockNumber,
	}
	if err := sess.Send(reply); err != nil {
		s.logger.Warn("payment reply send failed",
			zap.String("subtask_id", m.SubtaskID), zap.Error(err))
	}
}

// handleRejectTask processes a peer's refusal of a granted subtask. If
// the subtask belongs to a task this node owns, its unit goes back to
// the pool; otherwise the refusal concerns work this node computes and
// is surfaced to the computer.
func (s *Service) handleRejectTask(m *domain.RejectTask) {
	metrics.RejectionsSent.WithLabelValues("task", string(m.Reason)).Inc()
	if _, err := s.manager.TaskForSubtask(m.SubtaskID); err == nil {
		s.logger.Info("granted subtask refused by peer",
			zap.String("subtask_id", m.SubtaskID),
			zap.String("reason", string(m.Reason)))
		s.manager.ComputationFailed(m.SubtaskID)
		return
	}
	s.computer.SubtaskFailed(m.SubtaskID, "Subtask computation rejected: "+string(m.Reason))
}

// ─── Computing Side ─────────────────────────────────────────────────────────

// handleRejectTaskRequest processes a refusal of this node's request
// for work. DOWNLOADING_RESULT is transient: the header stays and the
// session survives for a later retry. The other reasons are final for
// this task.
func (s *Service) handleRejectTaskRequest(sess *p2p.Session, m *domain.RejectTaskRequest) {
	s.logger.Info("task request refused",
		zap.String("task_id", m.TaskID),
		zap.String("reason", string(m.Reason)))

	if m.Reason == domain.RequestRejectDownloadingResult {
		return
	}

	s.computer.TaskRequestRejected(m.TaskID, m.Reason)
	s.headers.Remove(m.TaskID)
	s.computer.SessionClosed(sess.PeerKey())
	s.table.Remove(sess)
	sess.Close()
}

// handleTask accepts a work grant, hands it to the computer and starts
// pulling the task's input resources.
func (s *Service) handleTask(ctx context.Context, sess *p2p.Session, m *domain.Task) {
	now := time.Now()
	if err := m.Def.Validate(now); err != nil {
		s.logger.Warn("malformed work grant refused",
			zap.String("task_id", m.Def.TaskID), zap.Error(err))
		reason := domain.TaskRejectEnvironmentFailed
		if m.Def.Deadline.Before(now) {
			reason = domain.TaskRejectDeadlinePassed
		}
		if err := sess.Send(&domain.RejectTask{SubtaskID: m.Def.SubtaskID, Reason: reason}); err != nil {
			s.logger.Warn("task refusal send failed", zap.Error(err))
		}
		return
	}

	s.computer.TaskGiven(m.Def)

	taskID := m.Def.TaskID
	subtaskID := m.Def.SubtaskID
	s.resources.PullResources(ctx, taskID, m.Resources, m.ResourceOptions, func(err error) {
		if err == nil {
			return
		}
		s.logger.Warn("input resource pull failed",
			zap.String("task_id", taskID), zap.Error(err))
		s.computer.SubtaskFailed(subtaskID, "resource pull failed: "+err.Error())
		if live := s.table.Get(sess.PeerKey()); live != nil {
			if err := live.Send(&domain.RejectTask{SubtaskID: subtaskID, Reason: domain.TaskRejectResourcesFailed}); err != nil {
				s.logger.Warn("task refusal send failed", zap.Error(err))
			}
		}
	})
}

// handleRejectResult logs a refused result delivery. Retrying the
// upload is the computer's call, made on its own schedule.
func (s *Service) handleRejectResult(m *domain.RejectResult) {
	s.logger.Warn("result delivery refused",
		zap.String("subtask_id", m.SubtaskID),
		zap.String("reason", string(m.Reason)))
}

// handlePayment processes a payment announcement. Without both a
// transaction ID and a block number the announcement proves nothing
// and is dropped; the reward listener only ever sees verifiable
// payments.
func (s *Service) handlePayment(m *domain.Payment) {
	if m.TransactionID == "" || m.BlockNumber == 0 {
		s.logger.Debug("unverifiable payment announcement dropped",
			zap.String("subtask_id", m.SubtaskID))
		return
	}
	s.rewards.RewardPaid(m.SubtaskID, m)
}

// ─── Outbound ───────────────────────────────────────────────────────────────

// RequestTask asks a connected peer for one unit of work on a task,
// quoting this node's capabilities.
func (s *Service) RequestTask(peerKey string, req *domain.TaskRequest) error {
	sess := s.table.Get(peerKey)
	if sess == nil {
		return domain.ErrSessionClosed
	}
	return sess.Send(req)
}

// SendResult announces a finished subtask's result package to the
// task's owner.
func (s *Service) SendResult(peerKey string, res *domain.Result) error {
	sess := s.table.Get(peerKey)
	if sess == nil {
		return domain.ErrSessionClosed
	}
	res.EthAccount = s.cfg.EthAccount
	return sess.Send(res)
}

// RequestPayment asks the task owner whether a subtask's payment has
// settled. No reply means not settled yet.
func (s *Service) RequestPayment(peerKey, subtaskID string) error {
	sess := s.table.Get(peerKey)
	if sess == nil {
		return domain.ErrSessionClosed
	}
	return sess.Send(&domain.PaymentRequest{SubtaskID: subtaskID})
}

// RewardFor prices a subtask: the hourly rate applied to the reported
// computation time, rounded down to the smallest currency unit.
func RewardFor(hourlyRate *big.Int, seconds float64) *big.Int {
	if hourlyRate == nil || seconds <= 0 {
		return big.NewInt(0)
	}
	rate := new(big.Float).SetInt(hourlyRate)
	reward := new(big.Float).Quo(
		new(big.Float).Mul(rate, big.NewFloat(seconds)),
		big.NewFloat(3600),
	)
	out, _ := reward.Int(nil)
	return out
}
