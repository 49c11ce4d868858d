package peers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type dialRecorder struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newDialRecorder() *dialRecorder {
	return &dialRecorder{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (d *dialRecorder) dial(ctx context.Context, addr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[addr]++
	if d.fail[addr] {
		return errors.New("connection refused")
	}
	return nil
}

func (d *dialRecorder) count(addr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[addr]
}

func testConfig() Config {
	return Config{BaseDelay: time.Millisecond, MaxDelay: 8 * time.Millisecond}
}

func TestSweepConnectsSeeds(t *testing.T) {
	rec := newDialRecorder()
	r := New([]string{"a:1", "b:2", ""}, testConfig(), rec.dial, zap.NewNop())

	r.sweep(context.Background())

	if got := rec.count("a:1"); got != 1 {
		t.Fatalf("dial a:1 = %d, want 1", got)
	}
	if got := rec.count("b:2"); got != 1 {
		t.Fatalf("dial b:2 = %d, want 1", got)
	}
	if got := len(r.Connected()); got != 2 {
		t.Fatalf("connected = %d, want 2", got)
	}

	// Connected entries are not redialed.
	r.sweep(context.Background())
	if got := rec.count("a:1"); got != 1 {
		t.Fatalf("redial of connected peer: %d calls", got)
	}
}

func TestFailureBacksOff(t *testing.T) {
	rec := newDialRecorder()
	rec.fail["a:1"] = true
	r := New([]string{"a:1"}, testConfig(), rec.dial, zap.NewNop())

	r.sweep(context.Background())
	if got := rec.count("a:1"); got != 1 {
		t.Fatalf("dial = %d, want 1", got)
	}
	if r.Retries() != 1 {
		t.Fatalf("retries = %d, want 1", r.Retries())
	}

	// Backoff has not elapsed yet.
	r.sweep(context.Background())
	if got := rec.count("a:1"); got != 1 {
		t.Fatalf("dialed before backoff elapsed: %d calls", got)
	}

	time.Sleep(2 * time.Millisecond)
	r.sweep(context.Background())
	if got := rec.count("a:1"); got != 2 {
		t.Fatalf("dial after backoff = %d, want 2", got)
	}
}

func TestMarkDownRearms(t *testing.T) {
	rec := newDialRecorder()
	r := New([]string{"a:1"}, testConfig(), rec.dial, zap.NewNop())

	r.sweep(context.Background())
	if got := len(r.Connected()); got != 1 {
		t.Fatalf("connected = %d, want 1", got)
	}

	r.MarkDown("a:1")
	if got := len(r.Connected()); got != 0 {
		t.Fatalf("connected after MarkDown = %d, want 0", got)
	}

	time.Sleep(2 * time.Millisecond)
	r.sweep(context.Background())
	if got := rec.count("a:1"); got != 2 {
		t.Fatalf("dial after MarkDown = %d, want 2", got)
	}

	// MarkDown for an address we never seeded is a no-op.
	r.MarkDown("unknown:9")
}

func TestBackoffCapped(t *testing.T) {
	r := New(nil, testConfig(), nil, zap.NewNop())
	if got := r.backoff(1); got != time.Millisecond {
		t.Fatalf("backoff(1) = %v", got)
	}
	if got := r.backoff(3); got != 4*time.Millisecond {
		t.Fatalf("backoff(3) = %v", got)
	}
	if got := r.backoff(20); got != 8*time.Millisecond {
		t.Fatalf("backoff(20) = %v, want cap", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	rec := newDialRecorder()
	r := New([]string{"a:1"}, testConfig(), rec.dial, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for rec.count("a:1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Run never dialed the seed")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
