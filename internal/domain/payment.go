package domain

import (
	"math/big"
	"time"
)

// PaymentStatus tracks a subtask payment through settlement.
type PaymentStatus string

const (
	PaymentAwaiting  PaymentStatus = "AWAITING"  // verified result, not yet settled
	PaymentSettled   PaymentStatus = "SETTLED"   // ledger transaction issued
	PaymentConfirmed PaymentStatus = "CONFIRMED" // peer acknowledged on-chain payment
)

// PaymentRecord is one subtask's settlement state in the local ledger.
type PaymentRecord struct {
	SubtaskID     string        `json:"subtask_id"`
	TaskID        string        `json:"task_id"`
	Payee         string        `json:"payee"` // peer account the reward goes to
	Value         *big.Int      `json:"value"` // smallest currency unit
	TransactionID string        `json:"transaction_id,omitempty"`
	BlockNumber   int64         `json:"block_number,omitempty"`
	Status        PaymentStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	SettledAt     time.Time     `json:"settled_at,omitempty"`
}

// Settled reports whether the payment can be announced to the payee.
func (p PaymentRecord) Settled() bool {
	return p.Status == PaymentSettled || p.Status == PaymentConfirmed
}

// TaskState is the lifecycle controller's coarse per-task state.
type TaskState string

const (
	StateNeedsComputation TaskState = "NEEDS_COMPUTATION"
	StateAwaitingResults  TaskState = "AWAITING_RESULTS"
	StateFinished         TaskState = "FINISHED"
)

// TaskSummary is the owner-facing view of one task, exposed through the
// control API and persisted by the task store.
type TaskSummary struct {
	TaskID        string    `json:"id"`
	Name          string    `json:"name"`
	Kind          TaskKind  `json:"kind"`
	State         TaskState `json:"state"`
	Aborted       bool      `json:"aborted,omitempty"`
	SubtasksCount int       `json:"subtasks_count"`
	Completed     int       `json:"completed"`
	Outstanding   int       `json:"outstanding"`
	Progress      float64   `json:"progress"`
	Deadline      time.Time `json:"deadline"`
	CreatedAt     time.Time `json:"created_at"`
}
