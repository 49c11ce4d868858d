package p2p

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/krill-network/krill/internal/security"
)

// Pair builds two sessions joined by an in-memory pipe, one per
// identity. Used by tests in place of real TCP.
func Pair(keyA, keyB *security.Keypair) (*Session, *Session, error) {
	connA, connB := net.Pipe()

	var (
		wg   sync.WaitGroup
		a, b *Session
		errA error
		errB error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		a, errA = NewSession(connA, keyA)
	}()
	go func() {
		defer wg.Done()
		b, errB = NewSession(connB, keyB)
	}()
	wg.Wait()

	if errA != nil || errB != nil {
		if a != nil {
			a.Close()
		}
		if b != nil {
			b.Close()
		}
		return nil, nil, fmt.Errorf("pipe handshake: %v / %v", errA, errB)
	}
	return a, b, nil
}

// MemDialer hands out pre-built sessions by address, failing for
// addresses it has no session for.
type MemDialer struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewMemDialer builds an empty in-memory dialer.
func NewMemDialer() *MemDialer {
	return &MemDialer{sessions: make(map[string]*Session)}
}

// Register binds addr to a ready session.
func (d *MemDialer) Register(addr string, s *Session) {
	d.mu.Lock()
	d.sessions[addr] = s
	d.mu.Unlock()
}

// Dial returns the registered session for addr.
func (d *MemDialer) Dial(ctx context.Context, addr string) (*Session, error) {
	d.mu.Lock()
	s, ok := d.sessions[addr]
	if ok {
		delete(d.sessions, addr)
	}
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dial %s: connection refused", addr)
	}
	return s, nil
}
