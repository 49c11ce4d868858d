// Package payment tracks what this node owes for verified subtask
// results and answers settlement queries from computing peers.
package payment

import (
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/krill-network/krill/internal/domain"
	"github.com/krill-network/krill/internal/infra/metrics"
)

// Ledger is the persistence surface the service writes through,
// implemented by the sqlite layer.
type Ledger interface {
	InsertPayment(p domain.PaymentRecord) error
	UpdatePayment(p domain.PaymentRecord) error
	GetPayment(subtaskID string) (*domain.PaymentRecord, error)
	ListPayments(taskID string) ([]domain.PaymentRecord, error)
}

// Service owns the subtask payment ledger.
type Service struct {
	ledger Ledger
	logger *zap.Logger
	now    func() time.Time
}

// NewService builds the payment service.
func NewService(ledger Ledger, logger *zap.Logger) *Service {
	return &Service{ledger: ledger, logger: logger, now: time.Now}
}

// Settle records the obligation for one verified subtask and marks it
// settled. Each subtask settles at most once; a duplicate settle is
// reported as ErrPaymentExists and changes nothing.
func (s *Service) Settle(subtaskID, taskID, payee string, value *big.Int) error {
	now := s.now()
	rec := domain.PaymentRecord{
		SubtaskID: subtaskID,
		TaskID:    taskID,
		Payee:     payee,
		Value:     value,
		Status:    domain.PaymentSettled,
		CreatedAt: now,
		SettledAt: now,
	}
	if err := s.ledger.InsertPayment(rec); err != nil {
		return err
	}
	metrics.PaymentsSettled.Inc()
	s.logger.Info("subtask payment settled",
		zap.String("subtask_id", subtaskID),
		zap.String("payee", payee),
		zap.String("value", value.String()))
	return nil
}

// Lookup returns the settled payment for a subtask. Absent or
// not-yet-settled payments fail with ErrPaymentNotSettled; the caller
// answers such queries with silence, never a fabricated payment.
func (s *Service) Lookup(subtaskID string) (*domain.PaymentRecord, error) {
	rec, err := s.ledger.GetPayment(subtaskID)
	if err != nil {
		return nil, err
	}
	if rec == nil || !rec.Settled() {
		return nil, domain.ErrPaymentNotSettled
	}
	return rec, nil
}

// RecordConfirmation stores the on-chain facts a paying peer announced
// for a payment this node is owed. Announcements without both a
// transaction ID and a block number carry no verifiable claim and are
// dropped.
func (s *Service) RecordConfirmation(subtaskID, transactionID string, blockNumber int64) error {
	if transactionID == "" || blockNumber == 0 {
		s.logger.Debug("unverifiable payment announcement dropped",
			zap.String("subtask_id", subtaskID))
		return nil
	}

	rec, err := s.ledger.GetPayment(subtaskID)
	if err != nil {
		return err
	}
	if rec == nil {
		return domain.ErrUnknownSubtask
	}
	rec.TransactionID = transactionID
	rec.BlockNumber = blockNumber
	rec.Status = domain.PaymentConfirmed
	if err := s.ledger.UpdatePayment(*rec); err != nil {
		return err
	}
	metrics.RewardsConfirmed.Inc()
	return nil
}

// History lists payments for one task, or every task when taskID is "".
func (s *Service) History(taskID string) ([]domain.PaymentRecord, error) {
	return s.ledger.ListPayments(taskID)
}
