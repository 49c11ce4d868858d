// Package domain — task descriptor and negotiation types.
// A task is a unit of declared work that flows through the marketplace:
// advertise → request → dispatch → compute → result → verify → settle.
package domain

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// TaskKind is the closed set of task types the node understands.
// Each kind binds a capability (verifier, extra-data builder) at the
// lifecycle layer; there is no open-ended type registry.
type TaskKind string

const (
	KindCompute   TaskKind = "COMPUTE"   // generic sandboxed computation
	KindTranscode TaskKind = "TRANSCODE" // media transcoding with domain checks
)

// Valid reports whether k names a known task kind.
func (k TaskKind) Valid() bool {
	return k == KindCompute || k == KindTranscode
}

// PriceDecimals converts a decimal bid into the network's smallest
// currency unit (18 fractional digits, wei-style).
const PriceDecimals = 18

// TaskDefinition is the caller-supplied description of a task.
// It is validated once at submission; a TaskHeader is derived from it
// and never mutated afterwards.
type TaskDefinition struct {
	Name            string            `toml:"name" json:"name"`
	Kind            TaskKind          `toml:"kind" json:"kind"`
	Timeout         string            `toml:"timeout" json:"timeout"`                 // e.g. "2h"
	SubtaskTimeout  string            `toml:"subtask_timeout" json:"subtask_timeout"` // e.g. "15m"
	SubtasksCount   int               `toml:"subtasks_count" json:"subtasks_count"`
	Bid             string            `toml:"bid" json:"bid"` // decimal, whole currency units
	EstimatedMemory int64             `toml:"estimated_memory" json:"estimated_memory"`
	ResourceSize    int64             `toml:"resource_size" json:"resource_size"`
	Resources       []string          `toml:"resources" json:"resources"`
	ConcentEnabled  bool              `toml:"concent_enabled" json:"concent_enabled"`
	Options         map[string]string `toml:"options" json:"options,omitempty"`
}

// TaskHeader holds the immutable per-task facts exchanged at negotiation
// start. Created once from a validated definition, read-only thereafter.
type TaskHeader struct {
	TaskID          string        `cbor:"task_id" json:"task_id"`
	Owner           string        `cbor:"owner" json:"owner"` // owning node identity (pubkey hex)
	Environment     string        `cbor:"environment" json:"environment"`
	Deadline        time.Time     `cbor:"deadline" json:"deadline"`
	SubtaskTimeout  time.Duration `cbor:"subtask_timeout" json:"subtask_timeout"`
	SubtasksCount   int           `cbor:"subtasks_count" json:"subtasks_count"`
	ResourceSize    int64         `cbor:"resource_size" json:"resource_size"`
	EstimatedMemory int64         `cbor:"estimated_memory" json:"estimated_memory"`
	MaxPrice        *big.Int      `cbor:"max_price" json:"max_price"`
	ConcentEnabled  bool          `cbor:"concent_enabled" json:"concent_enabled"`
}

// NewTaskHeader validates a definition and builds the immutable header.
// Timeout strings are parsed into deadlines and the bid is converted to
// the smallest currency unit. Fails with ErrInvalidDefinition wrapped
// around the specific cause; a failed task never enters the registry.
func NewTaskHeader(taskID, owner, environment string, def TaskDefinition, now time.Time) (TaskHeader, error) {
	if taskID == "" {
		return TaskHeader{}, fmt.Errorf("%w: empty task id", ErrInvalidDefinition)
	}
	if !def.Kind.Valid() {
		return TaskHeader{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidDefinition, def.Kind)
	}
	if def.SubtasksCount < 0 {
		return TaskHeader{}, fmt.Errorf("%w: negative subtasks count %d", ErrInvalidDefinition, def.SubtasksCount)
	}

	timeout, err := ParseTimeout(def.Timeout)
	if err != nil {
		return TaskHeader{}, fmt.Errorf("%w: task timeout: %v", ErrInvalidDefinition, err)
	}
	subtaskTimeout, err := ParseTimeout(def.SubtaskTimeout)
	if err != nil {
		return TaskHeader{}, fmt.Errorf("%w: subtask timeout: %v", ErrInvalidDefinition, err)
	}

	maxPrice, err := ParseBid(def.Bid)
	if err != nil {
		return TaskHeader{}, fmt.Errorf("%w: bid: %v", ErrInvalidDefinition, err)
	}

	return TaskHeader{
		TaskID:          taskID,
		Owner:           owner,
		Environment:     environment,
		Deadline:        now.Add(timeout),
		SubtaskTimeout:  subtaskTimeout,
		SubtasksCount:   def.SubtasksCount,
		ResourceSize:    def.ResourceSize,
		EstimatedMemory: def.EstimatedMemory,
		MaxPrice:        maxPrice,
		ConcentEnabled:  def.ConcentEnabled,
	}, nil
}

// EffectiveDeadline merges the subtask timeout window with the task
// deadline. A subtask may never outlive its parent task.
func (h TaskHeader) EffectiveDeadline(now time.Time) time.Time {
	d := now.Add(h.SubtaskTimeout)
	if d.After(h.Deadline) {
		return h.Deadline
	}
	return d
}

// Expired reports whether the whole task deadline has passed.
func (h TaskHeader) Expired(now time.Time) bool {
	return now.After(h.Deadline)
}

// ParseTimeout parses a timeout string such as "15m" or "2h30m".
// Zero and negative timeouts are rejected.
func ParseTimeout(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty timeout")
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", d)
	}
	return d, nil
}

// ParseBid converts a decimal bid ("0.25") into the smallest currency
// unit as a big integer. Rejects non-numeric and negative bids.
func ParseBid(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty bid")
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return nil, fmt.Errorf("bid %q is not numeric", s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("bid %q is negative", s)
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceDecimals), nil)
	r.Mul(r, new(big.Rat).SetInt(denom))
	// Sub-unit dust truncates, matching integer conversion on the wire.
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}
