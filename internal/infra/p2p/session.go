package p2p

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	cbor "github.com/fxamacker/cbor/v2"

	"github.com/krill-network/krill/internal/domain"
	"github.com/krill-network/krill/internal/infra/metrics"
	"github.com/krill-network/krill/internal/security"
)

// MaxFrameSize bounds a single wire frame. Task definitions carry
// source code and resource lists but never bulk data; result packages
// move through the resource layer, not the session.
const MaxFrameSize = 4 * 1024 * 1024

const handshakeTimeout = 10 * time.Second

// hello is the first transport-level frame: the claimed identity plus a
// challenge nonce the peer must sign to prove it holds the key.
type hello struct {
	PubKey  string `cbor:"pub_key"`
	Version string `cbor:"version"`
	Nonce   []byte `cbor:"nonce"`
}

// auth is the second transport-level frame: the signature over the
// peer's challenge.
type auth struct {
	Sig []byte `cbor:"sig"`
}

const nonceSize = 16

// challengePayload is what gets signed: a domain separator plus the
// peer's nonce, so session signatures can never be confused with any
// other use of the node key.
func challengePayload(nonce []byte) []byte {
	return append([]byte("krill-session-v1:"), nonce...)
}

// Session is one framed, identity-bound connection to a peer. Send and
// Close are safe for concurrent use; Recv must be driven by a single
// reader goroutine.
type Session struct {
	conn    net.Conn
	peerKey string

	wmu    sync.Mutex
	closed sync.Once
	done   chan struct{}
}

// NewSession performs the handshake on conn and returns the bound
// session. Two symmetric rounds: both sides exchange a hello carrying a
// challenge nonce, then exchange signatures over the challenge they
// received, proving each holds the private key behind its claimed
// identity. Both sides send first and read second in every round, so
// the exchange works identically for dialer and acceptor.
func NewSession(conn net.Conn, key *security.Keypair) (*Session, error) {
	deadline := time.Now().Add(handshakeTimeout)
	_ = conn.SetDeadline(deadline)

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		conn.Close()
		return nil, err
	}

	h, err := exchange(conn, hello{PubKey: key.PublicKeyHex(), Version: "1", Nonce: nonce})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	peerPub, err := hex.DecodeString(h.PubKey)
	if err != nil || len(peerPub) != ed25519.PublicKeySize {
		conn.Close()
		return nil, fmt.Errorf("peer sent malformed identity %q", h.PubKey)
	}
	if len(h.Nonce) != nonceSize {
		conn.Close()
		return nil, fmt.Errorf("peer sent %d-byte challenge", len(h.Nonce))
	}

	a, err := exchange(conn, auth{Sig: key.Sign(challengePayload(h.Nonce))})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	if !security.Verify(challengePayload(nonce), a.Sig, peerPub) {
		conn.Close()
		return nil, fmt.Errorf("peer failed to prove identity %s", h.PubKey)
	}

	_ = conn.SetDeadline(time.Time{})
	metrics.SessionsActive.Inc()
	return &Session{conn: conn, peerKey: h.PubKey, done: make(chan struct{})}, nil
}

// exchange sends one handshake frame and reads the peer's counterpart.
// The send runs concurrently with the read: unbuffered transports would
// otherwise deadlock with both sides writing first.
func exchange[T any](conn net.Conn, out T) (T, error) {
	var in T

	frame, err := cbor.Marshal(out)
	if err != nil {
		return in, err
	}
	sendErr := make(chan error, 1)
	go func() { sendErr <- writeFrame(conn, frame) }()

	raw, err := readFrame(conn)
	if err != nil {
		return in, fmt.Errorf("read: %w", err)
	}
	if err := <-sendErr; err != nil {
		return in, fmt.Errorf("send: %w", err)
	}
	if err := cbor.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("decode: %w", err)
	}
	return in, nil
}

// PeerKey returns the hex public key the peer identified as.
func (s *Session) PeerKey() string { return s.peerKey }

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// Send frames and writes one negotiation message.
func (s *Session) Send(msg domain.Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	err = writeFrame(s.conn, frame)
	s.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind(), err)
	}
	metrics.MessagesSent.WithLabelValues(msg.Kind().String()).Inc()
	return nil
}

// Recv blocks for the next negotiation message. Returns
// ErrSessionClosed once the connection is gone.
func (s *Session) Recv() (domain.Message, error) {
	frame, err := readFrame(s.conn)
	if err != nil {
		select {
		case <-s.done:
			return nil, domain.ErrSessionClosed
		default:
		}
		if err == io.EOF {
			return nil, domain.ErrSessionClosed
		}
		return nil, err
	}
	msg, err := Decode(frame)
	if err != nil {
		return nil, err
	}
	metrics.MessagesReceived.WithLabelValues(msg.Kind().String()).Inc()
	return msg, nil
}

// Close tears the connection down. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.done)
		metrics.SessionsActive.Dec()
		err = s.conn.Close()
	})
	return err
}

// ─── Framing ────────────────────────────────────────────────────────────────
// Frames are a 4-byte big-endian length followed by the CBOR envelope.

func writeFrame(w io.Writer, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(frame))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > MaxFrameSize {
		return nil, fmt.Errorf("frame length %d out of range", n)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
