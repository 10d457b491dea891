package message

import (
	"context"
	"net/netip"

	"rovernet/internal/obs"
)

const defaultBufferCapacity = 64 << 10

// Tap observes raw datagrams, e.g. to capture them. datagram is only valid during the call.
type Tap func(peer netip.AddrPort, datagram []byte)

// Dispatcher runs fn on another goroutine and returns once it has run.
// reactor.Loop satisfies it.
type Dispatcher interface {
	Call(ctx context.Context, fn func()) error
}

type options struct {
	metrics    *obs.Metrics
	onError    func(error)
	tap        Tap
	dispatcher Dispatcher
	capacity   int
	disabled   bool
}

// Option configures a Sender or Receiver.
type Option func(*options)

// WithMetrics counts traffic into m.
func WithMetrics(m *obs.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithErrorHandler receives socket errors. They are never fatal.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// WithTap mirrors every datagram sent or received.
func WithTap(tap Tap) Option {
	return func(o *options) { o.tap = tap }
}

// WithDispatcher makes a Receiver run handlers through d instead of on its read goroutine.
func WithDispatcher(d Dispatcher) Option {
	return func(o *options) { o.dispatcher = d }
}

// WithBufferCapacity presizes both halves of a Sender's double buffer.
func WithBufferCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// StartDisabled creates a Sender that drops messages until SetEnabled(true).
func StartDisabled() Option {
	return func(o *options) { o.disabled = true }
}

func buildOptions(opts []Option) options {
	o := options{capacity: defaultBufferCapacity}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o options) reportError(err error) {
	if err != nil && o.onError != nil {
		o.onError(err)
	}
}
