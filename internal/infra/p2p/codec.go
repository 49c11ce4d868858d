// Package p2p carries negotiation messages between nodes: a canonical
// CBOR codec, length-prefixed framing over net.Conn, and a session
// table keyed by the peer's public key.
package p2p

import (
	"fmt"

	cbor "github.com/fxamacker/cbor/v2"

	"github.com/krill-network/krill/internal/domain"
)

// Envelope is the wire frame: a message kind tag and the CBOR body of
// the concrete message. Deterministic encoding keeps frames byte-stable
// across nodes, so signatures and digests agree.
type Envelope struct {
	Kind uint8  `cbor:"kind"`
	Body []byte `cbor:"body"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode frames a negotiation message.
func Encode(msg domain.Message) ([]byte, error) {
	body, err := encMode.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", msg.Kind(), err)
	}
	frame, err := encMode.Marshal(Envelope{Kind: uint8(msg.Kind()), Body: body})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", msg.Kind(), err)
	}
	return frame, nil
}

// Decode parses a frame back into its concrete message. Unknown kinds
// fail with ErrUnknownMessage; the session drops such frames.
func Decode(frame []byte) (domain.Message, error) {
	var env Envelope
	if err := decMode.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	msg, err := emptyMessage(domain.MessageKind(env.Kind))
	if err != nil {
		return nil, err
	}
	if err := decMode.Unmarshal(env.Body, msg); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", domain.MessageKind(env.Kind), err)
	}
	return msg, nil
}

func emptyMessage(kind domain.MessageKind) (domain.Message, error) {
	switch kind {
	case domain.MsgTaskRequest:
		return &domain.TaskRequest{}, nil
	case domain.MsgRejectTaskRequest:
		return &domain.RejectTaskRequest{}, nil
	case domain.MsgTask:
		return &domain.Task{}, nil
	case domain.MsgRejectTask:
		return &domain.RejectTask{}, nil
	case domain.MsgResult:
		return &domain.Result{}, nil
	case domain.MsgRejectResult:
		return &domain.RejectResult{}, nil
	case domain.MsgPaymentRequest:
		return &domain.PaymentRequest{}, nil
	case domain.MsgPayment:
		return &domain.Payment{}, nil
	}
	return nil, fmt.Errorf("%w: kind %d", domain.ErrUnknownMessage, kind)
}
