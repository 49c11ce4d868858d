package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Protocol-level
// rejections are NOT errors; they live in reject.go as typed values.

var (
	// Definition errors — fail fast at task construction.
	ErrInvalidDefinition = errors.New("invalid task definition")

	// Lookup errors
	ErrUnknownTask    = errors.New("task not found")
	ErrUnknownSubtask = errors.New("subtask not found")
	ErrTaskExists     = errors.New("task already registered")

	// Dispatch registry errors
	ErrNoMoreWork  = errors.New("no more subtasks to dispatch")
	ErrTaskAborted = errors.New("task has been aborted")

	// Session / connect errors
	ErrSessionClosed  = errors.New("peer session closed")
	ErrNoRouteToPeer  = errors.New("no candidate address reachable")
	ErrUnknownMessage = errors.New("unknown negotiation message kind")

	// Payment errors
	ErrPaymentNotSettled = errors.New("payment not settled")
	ErrPaymentExists     = errors.New("payment already recorded")
)
