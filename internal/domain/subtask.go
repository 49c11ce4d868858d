package domain

import "time"

// SubtaskStatus tracks one dispatched unit of work.
type SubtaskStatus string

const (
	SubtaskDispatched     SubtaskStatus = "DISPATCHED"
	SubtaskResultReceived SubtaskStatus = "RESULT_RECEIVED"
	SubtaskVerified       SubtaskStatus = "VERIFIED"
	SubtaskRejected       SubtaskStatus = "REJECTED"
	SubtaskExpired        SubtaskStatus = "EXPIRED"
)

// Terminal reports whether the status removes the record from its registry.
func (s SubtaskStatus) Terminal() bool {
	return s == SubtaskVerified || s == SubtaskRejected || s == SubtaskExpired
}

// ExtraData is the opaque payload handed to the compute side of a subtask.
type ExtraData map[string]string

// Clone returns an independent copy of the payload.
func (e ExtraData) Clone() ExtraData {
	if e == nil {
		return nil
	}
	cp := make(ExtraData, len(e))
	for k, v := range e {
		cp[k] = v
	}
	return cp
}

// SubtaskRecord is one in-flight subtask assignment. Records are owned
// exclusively by the dispatch registry of their parent task: created on
// dispatch, removed on terminal state.
type SubtaskRecord struct {
	SubtaskID  string        `json:"subtask_id"`
	TaskID     string        `json:"task_id"`
	NodeID     string        `json:"node_id,omitempty"` // peer the work was assigned to
	Unit       int           `json:"unit"`              // declared-work index this record computes
	ExtraData  ExtraData     `json:"extra_data"`
	AssignedAt time.Time     `json:"assigned_at"`
	Deadline   time.Time     `json:"deadline"` // effective deadline, merged
	Status     SubtaskStatus `json:"status"`
}

// Expired reports whether the record's effective deadline has passed.
func (r SubtaskRecord) Expired(now time.Time) bool {
	return now.After(r.Deadline)
}

// TaskResult is a delivered subtask result after the package pull.
type TaskResult struct {
	SubtaskID       string            `json:"subtask_id"`
	Files           []string          `json:"files"`
	Stdout          string            `json:"stdout,omitempty"`
	Stderr          string            `json:"stderr,omitempty"`
	ComputationTime float64           `json:"computation_time"` // seconds, peer-declared
	Meta            map[string]string `json:"meta,omitempty"`   // kind-specific output facts
}
