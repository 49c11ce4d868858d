// Package lifecycle drives a task from NeedsComputation through result
// collection to Finished. One Controller owns each task's dispatch
// registry and verification capability; a Manager holds the controllers
// for every active task and runs the expiry sweep.
package lifecycle

import (
	"fmt"
	"strconv"

	"github.com/krill-network/krill/internal/domain"
	"github.com/krill-network/krill/internal/infra/verify"
)

// TaskType is the per-kind capability the controller holds: how to cut
// extra-data for a unit of work, how to describe it, and how to verify
// a result. The set of implementations is closed over domain.TaskKind —
// the controller never branches on a type switch.
type TaskType interface {
	Kind() domain.TaskKind

	// BuildExtraData cuts the payload for one assigned unit index.
	// The registry picks the unit; a freed unit is rebuilt identically
	// when its work is re-dispatched.
	BuildExtraData(def domain.TaskDefinition, unit int) domain.ExtraData

	// ShortDescription returns a short task description for logging and
	// the wire artifact.
	ShortDescription(extra domain.ExtraData) string

	// NewVerifier creates a fresh verifier bound to one result.
	NewVerifier() verify.Verifier
}

// ForKind resolves the capability for a task kind.
func ForKind(kind domain.TaskKind) (TaskType, error) {
	switch kind {
	case domain.KindCompute:
		return ComputeType{}, nil
	case domain.KindTranscode:
		return TranscodeType{}, nil
	}
	return nil, fmt.Errorf("%w: kind %q", domain.ErrInvalidDefinition, kind)
}

// ─── Generic Computation ────────────────────────────────────────────────────

// ComputeType is the generic sandboxed-computation capability.
type ComputeType struct{}

func (ComputeType) Kind() domain.TaskKind { return domain.KindCompute }

func (ComputeType) BuildExtraData(def domain.TaskDefinition, unit int) domain.ExtraData {
	extra := domain.ExtraData{"unit": strconv.Itoa(unit)}
	for k, v := range def.Options {
		extra[k] = v
	}
	return extra
}

func (ComputeType) ShortDescription(extra domain.ExtraData) string {
	return "compute unit " + extra["unit"]
}

func (ComputeType) NewVerifier() verify.Verifier {
	return verify.NewCoreVerifier()
}

// ─── Media Transcoding ──────────────────────────────────────────────────────

// TranscodeType splits media work into segments and verifies output
// duration and resolution sanity on top of the structural check.
type TranscodeType struct{}

func (TranscodeType) Kind() domain.TaskKind { return domain.KindTranscode }

func (TranscodeType) BuildExtraData(def domain.TaskDefinition, unit int) domain.ExtraData {
	extra := domain.ExtraData{
		"unit":     strconv.Itoa(unit),
		"segment":  strconv.Itoa(unit),
		"segments": strconv.Itoa(def.SubtasksCount),
	}
	for k, v := range def.Options {
		extra[k] = v
	}
	return extra
}

func (TranscodeType) ShortDescription(extra domain.ExtraData) string {
	return fmt.Sprintf("transcode segment %s/%s", extra["segment"], extra["segments"])
}

func (TranscodeType) NewVerifier() verify.Verifier {
	return verify.NewTranscodeVerifier()
}
