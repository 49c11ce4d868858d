package domain

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

func validDefinition() TaskDefinition {
	return TaskDefinition{
		Name:           "render-job",
		Kind:           KindCompute,
		Timeout:        "2h",
		SubtaskTimeout: "15m",
		SubtasksCount:  4,
		Bid:            "0.25",
	}
}

func TestNewTaskHeader(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	h, err := NewTaskHeader("task-1", "owner-key", "env.compute", validDefinition(), now)
	if err != nil {
		t.Fatalf("NewTaskHeader: %v", err)
	}
	if got := h.Deadline; !got.Equal(now.Add(2 * time.Hour)) {
		t.Errorf("deadline = %v, want now+2h", got)
	}
	if h.SubtaskTimeout != 15*time.Minute {
		t.Errorf("subtask timeout = %v, want 15m", h.SubtaskTimeout)
	}

	// 0.25 with 18 decimals
	want, _ := new(big.Int).SetString("250000000000000000", 10)
	if h.MaxPrice.Cmp(want) != 0 {
		t.Errorf("max price = %s, want %s", h.MaxPrice, want)
	}
}

func TestNewTaskHeader_InvalidDefinition(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name   string
		mutate func(*TaskDefinition)
	}{
		{"bad timeout", func(d *TaskDefinition) { d.Timeout = "soon" }},
		{"empty timeout", func(d *TaskDefinition) { d.Timeout = "" }},
		{"negative timeout", func(d *TaskDefinition) { d.SubtaskTimeout = "-5m" }},
		{"non-numeric bid", func(d *TaskDefinition) { d.Bid = "cheap" }},
		{"negative bid", func(d *TaskDefinition) { d.Bid = "-1" }},
		{"unknown kind", func(d *TaskDefinition) { d.Kind = "ORIGAMI" }},
		{"negative count", func(d *TaskDefinition) { d.SubtasksCount = -1 }},
	}

	for _, tc := range cases {
		def := validDefinition()
		tc.mutate(&def)
		_, err := NewTaskHeader("task-1", "owner", "env", def, now)
		if !errors.Is(err, ErrInvalidDefinition) {
			t.Errorf("%s: err = %v, want ErrInvalidDefinition", tc.name, err)
		}
	}
}

func TestEffectiveDeadline_Merge(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := TaskHeader{
		Deadline:       now.Add(10 * time.Minute),
		SubtaskTimeout: time.Hour,
	}

	// Subtask window would exceed the task deadline — clamp to it.
	if got := h.EffectiveDeadline(now); !got.Equal(h.Deadline) {
		t.Errorf("effective = %v, want task deadline %v", got, h.Deadline)
	}

	// Plenty of task time left — subtask window wins.
	h.Deadline = now.Add(24 * time.Hour)
	if got := h.EffectiveDeadline(now); !got.Equal(now.Add(time.Hour)) {
		t.Errorf("effective = %v, want now+1h", got)
	}
}

func TestParseBid(t *testing.T) {
	got, err := ParseBid("1")
	if err != nil {
		t.Fatalf("ParseBid(1): %v", err)
	}
	want, _ := new(big.Int).SetString("1000000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Errorf("ParseBid(1) = %s, want %s", got, want)
	}

	if _, err := ParseBid("1.2.3"); err == nil {
		t.Error("ParseBid(1.2.3) should fail")
	}
}

func TestRejectionSets_Closed(t *testing.T) {
	if !RequestRejectNoMoreSubtasks.Valid() {
		t.Error("NO_MORE_SUBTASKS should be valid")
	}
	if TaskRequestRejection("WHATEVER").Valid() {
		t.Error("free-form reason should not validate")
	}
	if !ResultRejectSubtaskIDUnknown.Valid() {
		t.Error("SUBTASK_ID_UNKNOWN should be valid")
	}
	if !TaskRejectDeadlinePassed.Valid() {
		t.Error("DEADLINE_PASSED should be valid")
	}
}

func TestComputeTaskDefValidate(t *testing.T) {
	now := time.Now()
	def := ComputeTaskDef{TaskID: "t", SubtaskID: "s", Deadline: now.Add(time.Minute)}
	if err := def.Validate(now); err != nil {
		t.Errorf("valid def rejected: %v", err)
	}

	def.Deadline = now.Add(-time.Second)
	if err := def.Validate(now); err == nil {
		t.Error("expired def accepted")
	}

	def = ComputeTaskDef{SubtaskID: "s", Deadline: now.Add(time.Minute)}
	if err := def.Validate(now); err == nil {
		t.Error("def without task id accepted")
	}
}
