package domain

import (
	"fmt"
	"math/big"
	"time"
)

// Negotiation message set. Conceptual fields only — framing and
// encryption belong to the session layer. Request/response pairs except
// Payment, which is a notification.

// MessageKind discriminates the eight negotiation messages on the wire.
type MessageKind uint8

const (
	MsgTaskRequest MessageKind = iota + 1
	MsgRejectTaskRequest
	MsgTask
	MsgRejectTask
	MsgResult
	MsgRejectResult
	MsgPaymentRequest
	MsgPayment
)

// String returns the protocol name of the message kind.
func (k MessageKind) String() string {
	switch k {
	case MsgTaskRequest:
		return "task_request"
	case MsgRejectTaskRequest:
		return "reject_task_request"
	case MsgTask:
		return "task"
	case MsgRejectTask:
		return "reject_task"
	case MsgResult:
		return "result"
	case MsgRejectResult:
		return "reject_result"
	case MsgPaymentRequest:
		return "payment_request"
	case MsgPayment:
		return "payment"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Message is implemented by every negotiation payload.
type Message interface {
	Kind() MessageKind
}

// DockerImage identifies one container image a subtask may run in.
type DockerImage struct {
	Repository string `cbor:"repository" json:"repository"`
	Tag        string `cbor:"tag" json:"tag"`
}

// String returns the repository:tag form.
func (i DockerImage) String() string { return i.Repository + ":" + i.Tag }

// ResourceOptions carries transfer-layer client options opaquely through
// the negotiation core.
type ResourceOptions struct {
	ClientID string            `cbor:"client_id" json:"client_id"`
	Version  int               `cbor:"version" json:"version"`
	Options  map[string]string `cbor:"options" json:"options,omitempty"`
}

// ComputeTaskDef is the outbound negotiation payload: everything a peer
// needs to compute one subtask. Deadline is the effective deadline,
// already merged against the parent task's.
type ComputeTaskDef struct {
	TaskID           string        `cbor:"task_id" json:"task_id"`
	SubtaskID        string        `cbor:"subtask_id" json:"subtask_id"`
	ExtraData        ExtraData     `cbor:"extra_data" json:"extra_data"`
	ShortDescription string        `cbor:"short_description" json:"short_description"`
	SrcCode          string        `cbor:"src_code" json:"src_code"`
	Performance      float64       `cbor:"performance" json:"performance"`
	DockerImages     []DockerImage `cbor:"docker_images,omitempty" json:"docker_images,omitempty"`
	Deadline         time.Time     `cbor:"deadline" json:"deadline"`
}

// Validate checks the structural integrity of a received definition.
func (d ComputeTaskDef) Validate(now time.Time) error {
	if d.TaskID == "" || d.SubtaskID == "" {
		return fmt.Errorf("compute task def missing identifiers")
	}
	if !d.Deadline.After(now) {
		return fmt.Errorf("compute task def deadline already passed")
	}
	return nil
}

// ─── Messages ───────────────────────────────────────────────────────────────

// TaskRequest asks the task owner for a subtask to compute.
type TaskRequest struct {
	TaskID      string   `cbor:"task_id" json:"task_id"`
	Performance float64  `cbor:"performance" json:"performance"`
	Price       *big.Int `cbor:"price" json:"price"`
	MaxDisk     int64    `cbor:"max_disk" json:"max_disk"`
	MaxMemory   int64    `cbor:"max_memory" json:"max_memory"`
	MaxCPUs     int      `cbor:"max_cpus" json:"max_cpus"`
}

func (TaskRequest) Kind() MessageKind { return MsgTaskRequest }

// RejectTaskRequest refuses a TaskRequest with a typed reason.
type RejectTaskRequest struct {
	TaskID string               `cbor:"task_id" json:"task_id"`
	Reason TaskRequestRejection `cbor:"reason" json:"reason"`
}

func (RejectTaskRequest) Kind() MessageKind { return MsgRejectTaskRequest }

// Task grants a subtask: the definition plus the resource references
// needed to pull its inputs.
type Task struct {
	Def             ComputeTaskDef  `cbor:"def" json:"def"`
	Resources       []string        `cbor:"resources" json:"resources"`
	ResourceOptions ResourceOptions `cbor:"resource_options" json:"resource_options"`
}

func (Task) Kind() MessageKind { return MsgTask }

// RejectTask refuses a granted subtask with a typed reason.
type RejectTask struct {
	SubtaskID string        `cbor:"subtask_id" json:"subtask_id"`
	Reason    TaskRejection `cbor:"reason" json:"reason"`
}

func (RejectTask) Kind() MessageKind { return MsgRejectTask }

// Result announces a computed subtask result available for pull.
type Result struct {
	SubtaskID       string          `cbor:"subtask_id" json:"subtask_id"`
	ComputationTime float64         `cbor:"computation_time" json:"computation_time"`
	ResourceHash    string          `cbor:"resource_hash" json:"resource_hash"`
	ResourceSecret  string          `cbor:"resource_secret" json:"resource_secret"`
	ResourceOptions ResourceOptions `cbor:"resource_options" json:"resource_options"`
	EthAccount      string          `cbor:"eth_account" json:"eth_account"`
}

func (Result) Kind() MessageKind { return MsgResult }

// RejectResult refuses an announced result with a typed reason.
type RejectResult struct {
	SubtaskID string          `cbor:"subtask_id" json:"subtask_id"`
	Reason    ResultRejection `cbor:"reason" json:"reason"`
}

func (RejectResult) Kind() MessageKind { return MsgRejectResult }

// PaymentRequest asks the requestor whether a subtask has been paid.
// Silence means "not settled yet"; the peer may retry later.
type PaymentRequest struct {
	SubtaskID string `cbor:"subtask_id" json:"subtask_id"`
}

func (PaymentRequest) Kind() MessageKind { return MsgPaymentRequest }

// Payment notifies the provider that a subtask reward has been paid
// on-chain. Ignored unless both TransactionID and BlockNumber are set.
type Payment struct {
	SubtaskID     string   `cbor:"subtask_id" json:"subtask_id"`
	TransactionID string   `cbor:"transaction_id" json:"transaction_id"`
	Remuneration  *big.Int `cbor:"remuneration" json:"remuneration"`
	BlockNumber   int64    `cbor:"block_number" json:"block_number"`
}

func (Payment) Kind() MessageKind { return MsgPayment }
