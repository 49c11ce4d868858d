package headers

import (
	"testing"
	"time"

	"github.com/krill-network/krill/internal/domain"
)

func header(t *testing.T, id, timeout string) domain.TaskHeader {
	t.Helper()
	def := domain.TaskDefinition{
		Name:           "render",
		Kind:           domain.KindCompute,
		Timeout:        timeout,
		SubtaskTimeout: "5m",
		SubtasksCount:  4,
		Bid:            "0.1",
	}
	h, err := domain.NewTaskHeader(id, "owner-key", "krill/compute:1", def, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestKeeperAddGetRemove(t *testing.T) {
	k := NewKeeper()
	h := header(t, "task-1", "1h")
	k.Add(h)

	got, ok := k.Get("task-1")
	if !ok || got.TaskID != "task-1" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
	if _, ok := k.Get("task-2"); ok {
		t.Fatal("Get invented a header")
	}

	k.Remove("task-1")
	k.Remove("task-1") // no-op
	if k.Len() != 0 {
		t.Fatalf("Len after remove = %d", k.Len())
	}
}

func TestKeeperListOrder(t *testing.T) {
	k := NewKeeper()
	k.Add(header(t, "short", "10m"))
	k.Add(header(t, "long", "2h"))

	list := k.List()
	if len(list) != 2 {
		t.Fatalf("List len = %d", len(list))
	}
	if list[0].TaskID != "long" {
		t.Fatalf("List[0] = %s, want the later deadline first", list[0].TaskID)
	}
}

func TestKeeperPrune(t *testing.T) {
	k := NewKeeper()
	k.Add(header(t, "short", "10m"))
	k.Add(header(t, "long", "2h"))

	if n := k.Prune(time.Now()); n != 0 {
		t.Fatalf("premature prune removed %d", n)
	}
	if n := k.Prune(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("prune removed %d, want 1", n)
	}
	if _, ok := k.Get("short"); ok {
		t.Fatal("expired header survived prune")
	}
	if _, ok := k.Get("long"); !ok {
		t.Fatal("live header pruned")
	}
}
