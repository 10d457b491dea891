package message

import (
	"net/netip"
	"sync/atomic"

	"rovernet/pkg/exception"

	"github.com/yanun0323/errors"
)

// MaxTypes bounds every registry: a type tag is one byte.
const MaxTypes = 256

// Handler consumes one decoded message. payload is only valid during the call.
type Handler interface {
	HandleMessage(payload []byte, from netip.AddrPort)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(payload []byte, from netip.AddrPort)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(payload []byte, from netip.AddrPort) {
	f(payload, from)
}

// Registry maps message types to handlers. It is filled at startup and
// becomes read-only once sealed by a receiver.
type Registry struct {
	handlers []Handler
	sealed   atomic.Bool
}

// NewRegistry creates a registry accepting types 1..limit-1.
// limit is clamped to [1, MaxTypes].
func NewRegistry(limit int) *Registry {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxTypes {
		limit = MaxTypes
	}
	return &Registry{handlers: make([]Handler, limit)}
}

// Limit returns the first type past the valid range.
func (r *Registry) Limit() int {
	if r == nil {
		return 0
	}
	return len(r.handlers)
}

// Register binds a handler to a type, replacing any previous one.
func (r *Registry) Register(t Type, h Handler) error {
	if r == nil {
		return exception.ErrNilInstance
	}
	if h == nil {
		return exception.ErrNilHandler
	}
	if t == TypeNone || int(t) >= len(r.handlers) {
		return errors.Wrapf(exception.ErrTypeOutOfRange, "type: %d, limit: %d", t, len(r.handlers))
	}
	if r.Sealed() {
		return exception.ErrRegistrySealed
	}
	r.handlers[t] = h
	return nil
}

// MustRegister is Register for startup code; it panics on misuse.
func (r *Registry) MustRegister(t Type, h Handler) {
	if err := r.Register(t, h); err != nil {
		panic(err)
	}
}

// RegisterFunc registers a plain function.
func (r *Registry) RegisterFunc(t Type, fn func(payload []byte, from netip.AddrPort)) error {
	if fn == nil {
		return exception.ErrNilHandler
	}
	return r.Register(t, HandlerFunc(fn))
}

// Lookup returns the handler for a type.
func (r *Registry) Lookup(t Type) (Handler, bool) {
	if r == nil || t == TypeNone || int(t) >= len(r.handlers) {
		return nil, false
	}
	h := r.handlers[t]
	return h, h != nil
}

// Registered lists the types that have a handler, ascending.
func (r *Registry) Registered() []Type {
	if r == nil {
		return nil
	}
	var out []Type
	for i, h := range r.handlers {
		if h != nil {
			out = append(out, Type(i))
		}
	}
	return out
}

// Seal forbids further registration.
func (r *Registry) Seal() {
	if r == nil {
		return
	}
	r.sealed.Store(true)
}

// Sealed reports whether the registry is read-only.
func (r *Registry) Sealed() bool {
	return r != nil && r.sealed.Load()
}
