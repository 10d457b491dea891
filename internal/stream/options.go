package stream

import (
	"net/netip"
	"time"

	"rovernet/internal/obs"
)

const (
	// DefaultBufferLevel is the number of frame buffers kept per stream.
	DefaultBufferLevel = 3
	// DefaultResyncAfter is how long a stream may stay silent before any frame index is accepted again.
	DefaultResyncAfter = time.Second
)

// Tap observes raw datagrams. datagram is only valid during the call.
type Tap func(peer netip.AddrPort, datagram []byte)

type options struct {
	metrics     *obs.Metrics
	onError     func(error)
	onFrame     func(stream int)
	tap         Tap
	resyncAfter time.Duration
	now         func() time.Time
}

// Option configures a Sender or Receiver.
type Option func(*options)

// WithMetrics counts traffic into m.
func WithMetrics(m *obs.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithErrorHandler receives socket errors.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// WithFrameHandler is called once per completed frame, outside any stream lock.
func WithFrameHandler(fn func(stream int)) Option {
	return func(o *options) { o.onFrame = fn }
}

// WithTap mirrors every datagram sent or received.
func WithTap(tap Tap) Option {
	return func(o *options) { o.tap = tap }
}

// WithResyncAfter sets how long a stream must be quiet before it accepts a
// frame index it would otherwise treat as old, e.g. after the sender restarts.
func WithResyncAfter(d time.Duration) Option {
	return func(o *options) { o.resyncAfter = d }
}

func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		resyncAfter: DefaultResyncAfter,
		now:         time.Now,
	}
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
