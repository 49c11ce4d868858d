package domain

import "context"

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// Boundaries to the systems this core negotiates on behalf of.
// Infrastructure implements them; the application layer depends on them.

// Environment supplies the executable payload and container identity
// embedded in a ComputeTaskDef. Sandboxed execution itself is an
// external concern.
type Environment interface {
	// ID returns the environment identifier advertised in task headers.
	ID() string

	// MainProgramSource returns the program source shipped to peers.
	MainProgramSource() (string, error)

	// DockerImages lists the container images the payload may run in.
	DockerImages() []DockerImage
}

// ResourceClient pulls task inputs and result packages. Both operations
// are asynchronous: they return immediately and complete via callback on
// a separate goroutine. Pulls for a task are cancelled when it aborts.
type ResourceClient interface {
	// PullResources fetches a task's input resources.
	PullResources(ctx context.Context, taskID string, resources []string, opts ResourceOptions, done func(error))

	// PullResultPackage fetches a computed result package by hash.
	PullResultPackage(ctx context.Context, hash, taskID, subtaskID, secret string,
		opts ResourceOptions, outputDir string, success func(result TaskResult), failure func(error))

	// CancelTask aborts any in-flight pulls for the task.
	CancelTask(taskID string)
}

// TaskComputer is the local compute side: it receives granted subtasks
// and negotiation outcomes for work this node requested from others.
type TaskComputer interface {
	// TaskGiven hands a granted subtask definition to the computer.
	TaskGiven(def ComputeTaskDef)

	// TaskRequestRejected reports that a task request was refused.
	TaskRequestRejected(taskID string, reason TaskRequestRejection)

	// SubtaskFailed marks a local subtask as failed with a message.
	SubtaskFailed(subtaskID, message string)

	// SessionClosed reports that the session backing a request went away.
	SessionClosed(peerKey string)
}

// RewardListener is notified when a peer confirms an on-chain payment
// for a subtask this node computed.
type RewardListener interface {
	RewardPaid(subtaskID string, reward *Payment)
}

// TaskStore persists task summaries for the control surface. The
// negotiation core itself is in-memory; persistence is a surrounding
// collaborator.
type TaskStore interface {
	UpsertTask(summary TaskSummary) error
	GetTask(taskID string) (*TaskSummary, error)
	ListTasks() ([]TaskSummary, error)
}
