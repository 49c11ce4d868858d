package p2p

import (
	"context"
	"net"
	"time"

	"github.com/krill-network/krill/internal/security"
)

// Dialer opens an identity-bound session to one address. The in-memory
// implementation in mem.go backs the tests.
type Dialer interface {
	Dial(ctx context.Context, addr string) (*Session, error)
}

// TCPDialer dials plain TCP and runs the handshake.
type TCPDialer struct {
	Key     *security.Keypair
	Timeout time.Duration
}

// Dial connects to addr within the configured timeout.
func (d *TCPDialer) Dial(ctx context.Context, addr string) (*Session, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	nd := net.Dialer{Timeout: timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewSession(conn, d.Key)
}
