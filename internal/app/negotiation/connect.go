package negotiation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/krill-network/krill/internal/domain"
	"github.com/krill-network/krill/internal/infra/p2p"
)

// Connect establishes a session with a peer, trying each candidate
// address in order until one answers with the expected identity. The
// session is registered and served before Connect returns. Fails with
// ErrNoRouteToPeer when every candidate is exhausted.
func (s *Service) Connect(ctx context.Context, peerKey string, addrs []string) (*p2p.Session, error) {
	if live := s.table.Get(peerKey); live != nil {
		return live, nil
	}

	var lastErr error
	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sess, err := s.dialer.Dial(ctx, addr)
		if err != nil {
			lastErr = err
			s.logger.Debug("candidate address failed",
				zap.String("addr", addr), zap.Error(err))
			continue
		}
		if sess.PeerKey() != peerKey {
			sess.Close()
			lastErr = fmt.Errorf("peer at %s identified as %s, want %s", addr, sess.PeerKey(), peerKey)
			s.logger.Warn("peer identity mismatch", zap.String("addr", addr))
			continue
		}

		s.table.Put(sess)
		go s.ServeSession(ctx, sess)
		return sess, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoRouteToPeer, lastErr)
	}
	return nil, domain.ErrNoRouteToPeer
}

// SpawnConnect runs Connect on its own goroutine and reports through
// exactly one of the callbacks.
func (s *Service) SpawnConnect(ctx context.Context, peerKey string, addrs []string,
	onSuccess func(*p2p.Session), onError func(error)) {
	go func() {
		sess, err := s.Connect(ctx, peerKey, addrs)
		if err != nil {
			onError(err)
			return
		}
		onSuccess(sess)
	}()
}
