// Package peers keeps sessions to the configured seed peers alive.
// Each address is redialed with exponential backoff until it connects,
// and re-armed when its session drops.
package peers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DialFunc establishes a session to addr. It returns once the session
// is up and registered; session teardown is reported via MarkDown.
type DialFunc func(ctx context.Context, addr string) error

// Config controls the backoff schedule.
type Config struct {
	BaseDelay time.Duration // first retry delay, doubles each attempt
	MaxDelay  time.Duration // backoff cap; seeds are retried forever
}

// DefaultConfig returns the production backoff schedule.
func DefaultConfig() Config {
	return Config{
		BaseDelay: 1 * time.Second,
		MaxDelay:  60 * time.Second,
	}
}

type entry struct {
	addr      string
	attempt   int
	nextTry   time.Time
	connected bool
}

// Reconnector dials a fixed set of peer addresses and keeps them
// connected.
type Reconnector struct {
	mu      sync.Mutex
	cfg     Config
	dial    DialFunc
	entries map[string]*entry
	logger  *zap.Logger

	totalRetries int64
}

// New creates a reconnector for the given seed addresses.
func New(addrs []string, cfg Config, dial DialFunc, logger *zap.Logger) *Reconnector {
	r := &Reconnector{
		cfg:     cfg,
		dial:    dial,
		entries: make(map[string]*entry, len(addrs)),
		logger:  logger,
	}
	now := time.Now()
	for _, addr := range addrs {
		if addr == "" {
			continue
		}
		r.entries[addr] = &entry{addr: addr, nextTry: now}
	}
	return r
}

// Run drives the dial loop until ctx is cancelled.
func (r *Reconnector) Run(ctx context.Context) error {
	r.sweep(ctx)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep dials every disconnected entry whose backoff has elapsed.
func (r *Reconnector) sweep(ctx context.Context) {
	now := time.Now()

	r.mu.Lock()
	var due []string
	for addr, e := range r.entries {
		if !e.connected && !now.Before(e.nextTry) {
			due = append(due, addr)
		}
	}
	r.mu.Unlock()

	for _, addr := range due {
		if ctx.Err() != nil {
			return
		}
		err := r.dial(ctx, addr)

		r.mu.Lock()
		e, ok := r.entries[addr]
		if !ok {
			r.mu.Unlock()
			continue
		}
		if err != nil {
			e.attempt++
			e.nextTry = time.Now().Add(r.backoff(e.attempt))
			r.totalRetries++
			r.mu.Unlock()
			r.logger.Debug("seed peer dial failed",
				zap.String("addr", addr),
				zap.Int("attempt", e.attempt),
				zap.Error(err))
			continue
		}
		e.connected = true
		e.attempt = 0
		r.mu.Unlock()
		r.logger.Info("seed peer connected", zap.String("addr", addr))
	}
}

// MarkDown re-arms an address after its session dropped. Unknown
// addresses are ignored.
func (r *Reconnector) MarkDown(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[addr]
	if !ok {
		return
	}
	e.connected = false
	e.nextTry = time.Now().Add(r.cfg.BaseDelay)
}

// backoff returns BaseDelay doubled per attempt, capped at MaxDelay.
func (r *Reconnector) backoff(attempt int) time.Duration {
	delay := r.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.cfg.MaxDelay {
			return r.cfg.MaxDelay
		}
	}
	return delay
}

// Connected returns the currently connected seed addresses.
func (r *Reconnector) Connected() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for addr, e := range r.entries {
		if e.connected {
			out = append(out, addr)
		}
	}
	return out
}

// Retries returns the total number of failed dial attempts.
func (r *Reconnector) Retries() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalRetries
}
