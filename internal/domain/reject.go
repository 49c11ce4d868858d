package domain

// Structured rejection reasons for each negotiation stage. The three
// sets are disjoint and closed; values are wire-stable identifiers,
// never free-form strings. Rejections are protocol events, not errors.

// ─── Task-Request Stage ─────────────────────────────────────────────────────

// TaskRequestRejection is sent in reply to a TaskRequest that cannot be
// granted.
type TaskRequestRejection string

const (
	RequestRejectTaskIDUnknown     TaskRequestRejection = "TASK_ID_UNKNOWN"
	RequestRejectDownloadingResult TaskRequestRejection = "DOWNLOADING_RESULT"
	RequestRejectNoMoreSubtasks    TaskRequestRejection = "NO_MORE_SUBTASKS"
)

// Valid reports whether r belongs to the closed task-request set.
func (r TaskRequestRejection) Valid() bool {
	switch r {
	case RequestRejectTaskIDUnknown, RequestRejectDownloadingResult, RequestRejectNoMoreSubtasks:
		return true
	}
	return false
}

// ─── Task-Delivery Stage ────────────────────────────────────────────────────

// TaskRejection is sent by a provider refusing a delivered ComputeTaskDef.
type TaskRejection string

const (
	TaskRejectDeadlinePassed    TaskRejection = "DEADLINE_PASSED"
	TaskRejectEnvironmentFailed TaskRejection = "ENVIRONMENT_FAILED"
	TaskRejectResourcesFailed   TaskRejection = "RESOURCES_FAILED"
)

// Valid reports whether r belongs to the closed task-delivery set.
func (r TaskRejection) Valid() bool {
	switch r {
	case TaskRejectDeadlinePassed, TaskRejectEnvironmentFailed, TaskRejectResourcesFailed:
		return true
	}
	return false
}

// ─── Result Stage ───────────────────────────────────────────────────────────

// ResultRejection is sent in reply to a Result that cannot be accepted.
type ResultRejection string

const (
	ResultRejectSubtaskIDUnknown ResultRejection = "SUBTASK_ID_UNKNOWN"
	ResultRejectDownloadFailed   ResultRejection = "DOWNLOAD_FAILED"
)

// Valid reports whether r belongs to the closed result set.
func (r ResultRejection) Valid() bool {
	switch r {
	case ResultRejectSubtaskIDUnknown, ResultRejectDownloadFailed:
		return true
	}
	return false
}

// ─── Peer Admission ─────────────────────────────────────────────────────────

// AcceptVerdict is the backpressure signal for a peer asking to compute.
type AcceptVerdict int

const (
	VerdictAccepted   AcceptVerdict = iota // work available, or task finished (stop retrying)
	VerdictShouldWait                      // all slots busy, retry later
)

// String returns a wire-stable label for the verdict.
func (v AcceptVerdict) String() string {
	if v == VerdictAccepted {
		return "ACCEPTED"
	}
	return "SHOULD_WAIT"
}
