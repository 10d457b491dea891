package messages

import (
	"encoding"
	"net/netip"

	"rovernet/internal/message"
	"rovernet/pkg/exception"

	"github.com/yanun0323/errors"
)

// Message is a payload that knows its type tag.
type Message interface {
	MessageType() message.Type
	encoding.BinaryAppender
}

// Decodable is satisfied by pointers to catalogue payloads.
type Decodable[T any] interface {
	*T
	Message
	encoding.BinaryUnmarshaler
}

// Sender is the sending half of a message channel.
type Sender interface {
	Send(t message.Type, payload []byte) error
}

// Encode returns the framed payload of m.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, exception.ErrNilInstance
	}
	return m.AppendBinary(make([]byte, 0, 32))
}

// Send encodes m and queues it on s.
func Send(s Sender, m Message) error {
	if s == nil {
		return exception.ErrNilInstance
	}
	payload, err := Encode(m)
	if err != nil {
		return err
	}
	return s.Send(m.MessageType(), payload)
}

// Handle adapts fn into a message handler that decodes payloads into T.
// Payloads that do not decode go to onErr, when set, and are dropped.
func Handle[T any, P Decodable[T]](fn func(v T, from netip.AddrPort), onErr func(error)) message.Handler {
	return message.HandlerFunc(func(payload []byte, from netip.AddrPort) {
		var v T
		if err := P(&v).UnmarshalBinary(payload); err != nil {
			if onErr != nil {
				onErr(errors.Wrapf(err, "%s from %s", TypeName(P(&v).MessageType()), from))
			}
			return
		}
		fn(v, from)
	})
}

// Register installs fn for T's message type.
func Register[T any, P Decodable[T]](r *message.Registry, fn func(v T, from netip.AddrPort), onErr func(error)) error {
	if r == nil || fn == nil {
		return exception.ErrNilInstance
	}
	var zero T
	return r.Register(P(&zero).MessageType(), Handle[T, P](fn, onErr))
}

// MustRegister is Register for wiring done at startup.
func MustRegister[T any, P Decodable[T]](r *message.Registry, fn func(v T, from netip.AddrPort), onErr func(error)) {
	if err := Register[T, P](r, fn, onErr); err != nil {
		panic(err)
	}
}
