package message

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"rovernet/pkg/exception"
	"rovernet/pkg/udp"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Receiver reads datagrams from one socket and dispatches their messages
// through a Registry.
type Receiver struct {
	conn     udp.Conn
	registry *Registry
	opts     options

	buf []byte

	lastRemote atomic.Value // netip.AddrPort
	lastRecv   atomic.Int64

	opened atomic.Bool
	closed atomic.Bool
	exited chan struct{}
	wg     sync.WaitGroup
}

// NewReceiver creates a receiver. The registry is sealed when the receiver opens.
func NewReceiver(conn udp.Conn, registry *Registry, opts ...Option) (*Receiver, error) {
	if conn == nil {
		return nil, exception.ErrNilConn
	}
	if registry == nil {
		return nil, exception.ErrNilInstance
	}
	return &Receiver{
		conn:     conn,
		registry: registry,
		opts:     buildOptions(opts),
		buf:      make([]byte, MaxPayloadSize+HeaderSize),
		exited:   make(chan struct{}),
	}, nil
}

// Open starts the receive loop. It runs until Close or ctx is done.
func (r *Receiver) Open(ctx context.Context) error {
	if r == nil {
		return exception.ErrNilInstance
	}
	if !r.opened.CompareAndSwap(false, true) {
		return exception.ErrAlreadyOpen
	}
	r.registry.Seal()
	logs.Infof("message receiver on :%d, handled types: %v", r.LocalPort(), r.registry.Registered())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.exited)
		r.run(ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = r.Close()
		case <-r.exited:
		}
	}()
	return nil
}

func (r *Receiver) run(ctx context.Context) {
	for {
		n, from, err := r.conn.ReadFromUDPAddrPort(r.buf)
		if err != nil {
			if r.closed.Load() || ctx.Err() != nil || udp.IsClosed(err) {
				return
			}
			r.opts.metrics.IncReceiveError()
			r.opts.reportError(errors.Wrap(err, "receive datagram"))
			continue
		}
		from = udp.Normalize(from)
		r.lastRemote.Store(from)
		r.lastRecv.Store(time.Now().UnixNano())
		r.opts.metrics.ObserveDatagramIn(n)

		datagram := r.buf[:n]
		if r.opts.tap != nil {
			r.opts.tap(from, datagram)
		}

		if r.opts.dispatcher == nil {
			r.Dispatch(datagram, from)
			continue
		}
		if err := r.opts.dispatcher.Call(ctx, func() { r.Dispatch(datagram, from) }); err != nil {
			if ctx.Err() != nil {
				return
			}
			logs.Errorf("dispatch datagram from %s, err: %+v", from, err)
		}
	}
}

// Dispatch decodes one datagram and hands each message to its handler.
// Unknown types are skipped; a truncated tail is dropped.
func (r *Receiver) Dispatch(datagram []byte, from netip.AddrPort) int {
	dispatched := 0
	_, whole := Decode(datagram, func(t Type, payload []byte) {
		h, ok := r.registry.Lookup(t)
		if !ok {
			r.opts.metrics.IncUnknownType()
			return
		}
		h.HandleMessage(payload, from)
		r.opts.metrics.IncDispatched()
		dispatched++
	})
	if !whole {
		r.opts.metrics.IncMalformed()
	}
	return dispatched
}

// Close stops future receives by closing the socket. A dispatch already
// running completes. Close may be called from a handler.
func (r *Receiver) Close() error {
	if r == nil {
		return exception.ErrNilInstance
	}
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.conn.Close()
}

// Wait blocks until the receive loop has exited.
func (r *Receiver) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// LastRemote returns the sender of the most recent datagram.
func (r *Receiver) LastRemote() (netip.AddrPort, bool) {
	if r == nil {
		return netip.AddrPort{}, false
	}
	v, ok := r.lastRemote.Load().(netip.AddrPort)
	return v, ok
}

// LastReceived returns when the most recent datagram arrived, zero if none has.
func (r *Receiver) LastReceived() time.Time {
	if r == nil {
		return time.Time{}
	}
	ns := r.lastRecv.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LocalPort returns the bound port.
func (r *Receiver) LocalPort() uint16 {
	if r == nil {
		return 0
	}
	return udp.LocalPort(r.conn)
}
