// Package verify implements the pluggable result verification engine.
//
// A Verifier instance is bound to a single subtask's result: created
// when the result arrives, finalized exactly once, never shared across
// concurrent evaluations. Verification never blocks indefinitely — a
// check that exceeds its budget yields WrongAnswer, not Waiting.
package verify

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/krill-network/krill/internal/domain"
)

// Outcome is the closed verification verdict set. Waiting is only the
// pre-evaluation default; callers observe Verified or WrongAnswer.
type Outcome string

const (
	Waiting     Outcome = "WAITING"
	Verified    Outcome = "VERIFIED"
	WrongAnswer Outcome = "WRONG_ANSWER"
)

// DefaultBudget bounds a single verification run.
const DefaultBudget = 30 * time.Second

// Verifier judges one delivered result. Implementations wrap the core
// structural check and may add domain assertions, but must not widen
// the outcome set.
type Verifier interface {
	Verify(ctx context.Context, result domain.TaskResult) Outcome
}

// ─── Core Verifier ──────────────────────────────────────────────────────────

// CoreVerifier performs structural checks only: the result is well
// formed, non-empty and its declared files exist.
type CoreVerifier struct {
	Budget    time.Duration
	CheckDisk bool // stat declared files; off in unit tests

	state Outcome
}

// NewCoreVerifier creates a structural verifier with the default budget.
func NewCoreVerifier() *CoreVerifier {
	return &CoreVerifier{Budget: DefaultBudget, CheckDisk: true, state: Waiting}
}

// State returns the verifier's last outcome (Waiting before any run).
func (v *CoreVerifier) State() Outcome { return v.state }

// Verify runs the structural check within the budget.
func (v *CoreVerifier) Verify(ctx context.Context, result domain.TaskResult) Outcome {
	v.state = v.run(ctx, func() bool { return v.structural(result) })
	return v.state
}

// run executes check under the verifier budget. A timeout or cancelled
// context is a WrongAnswer for any caller-visible outcome, never a
// crash and never Waiting.
func (v *CoreVerifier) run(ctx context.Context, check func() bool) Outcome {
	budget := v.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	done := make(chan bool, 1)
	go func() { done <- check() }()

	select {
	case ok := <-done:
		if ok {
			return Verified
		}
		return WrongAnswer
	case <-ctx.Done():
		return WrongAnswer
	}
}

func (v *CoreVerifier) structural(result domain.TaskResult) bool {
	if result.SubtaskID == "" {
		return false
	}
	if len(result.Files) == 0 {
		return false
	}
	for _, f := range result.Files {
		if f == "" {
			return false
		}
		if v.CheckDisk {
			info, err := os.Stat(f)
			if err != nil || info.Size() == 0 {
				return false
			}
		}
	}
	return result.ComputationTime >= 0
}

// ─── Transcode Verifier ─────────────────────────────────────────────────────

// TranscodeVerifier wraps the core structural check with media sanity
// assertions on the declared output metadata.
type TranscodeVerifier struct {
	Core *CoreVerifier

	MinDuration time.Duration // reject outputs shorter than this
}

// NewTranscodeVerifier creates a transcoding verifier over a fresh core.
func NewTranscodeVerifier() *TranscodeVerifier {
	return &TranscodeVerifier{Core: NewCoreVerifier(), MinDuration: time.Second}
}

// Verify runs the core check first, then the domain assertions. The
// outcome set stays {Verified, WrongAnswer}.
func (v *TranscodeVerifier) Verify(ctx context.Context, result domain.TaskResult) Outcome {
	if out := v.Core.Verify(ctx, result); out != Verified {
		return out
	}
	if !v.mediaSane(result.Meta) {
		v.Core.state = WrongAnswer
		return WrongAnswer
	}
	return Verified
}

// mediaSane checks the peer-declared output facts: a positive duration
// and, when declared, a plausible resolution.
func (v *TranscodeVerifier) mediaSane(meta map[string]string) bool {
	dur, err := time.ParseDuration(meta["duration"])
	if err != nil || dur < v.MinDuration {
		return false
	}
	for _, k := range []string{"width", "height"} {
		s, ok := meta[k]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 16384 {
			return false
		}
	}
	return true
}
