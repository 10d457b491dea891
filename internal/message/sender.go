package message

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"rovernet/internal/netbuf"
	"rovernet/pkg/exception"
	"rovernet/pkg/udp"

	"github.com/yanun0323/errors"
)

// Sender coalesces messages into datagrams for one remote device.
//
// Send appends to the active half of a double buffer. While a drain is in
// flight further messages pile up in the active half; the drain swaps halves
// when it finishes, so there is never more than one write outstanding.
type Sender struct {
	conn    udp.Conn
	opts    options
	dest    atomic.Value // netip.AddrPort
	enabled atomic.Bool

	mu       sync.Mutex
	idle     *sync.Cond
	buf      *netbuf.DoubleBuffer
	flushing bool
}

// NewSender creates a sender writing to dest through conn.
func NewSender(conn udp.Conn, dest netip.AddrPort, opts ...Option) (*Sender, error) {
	if conn == nil {
		return nil, exception.ErrNilConn
	}
	o := buildOptions(opts)
	s := &Sender{
		conn: conn,
		opts: o,
		buf:  netbuf.NewDoubleBuffer(o.capacity),
	}
	s.idle = sync.NewCond(&s.mu)
	s.dest.Store(udp.Normalize(dest))
	s.enabled.Store(!o.disabled)
	return s, nil
}

// Send queues one message. It never blocks on the network.
// Payloads over MaxPayloadSize are rejected without touching the buffer.
// While disabled, messages are dropped and nil is returned.
func (s *Sender) Send(t Type, payload []byte) error {
	if s == nil {
		return exception.ErrNilInstance
	}
	if len(payload) > MaxPayloadSize {
		s.opts.metrics.IncOversize()
		return exception.ErrMessageTooLarge
	}
	if !s.enabled.Load() {
		s.opts.metrics.IncDisabledDrop()
		return nil
	}

	s.mu.Lock()
	block := s.buf.Reserve(HeaderSize + len(payload))
	Header{Size: uint16(len(payload)), Type: t}.Put(block)
	copy(block[HeaderSize:], payload)
	s.opts.metrics.IncMessageSent()

	if s.flushing {
		s.mu.Unlock()
		return nil
	}
	s.flushing = true
	s.buf.Swap()
	data := s.buf.Locked()
	s.mu.Unlock()

	go s.drain(data)
	return nil
}

// drain writes the locked half, then keeps swapping while the active half has data.
func (s *Sender) drain(data []byte) {
	for {
		start := time.Now()
		s.write(data)
		s.opts.metrics.ObserveFlush(time.Since(start))

		s.mu.Lock()
		s.buf.ResetLocked()
		if s.buf.ActiveLen() == 0 {
			s.flushing = false
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
		s.buf.Swap()
		data = s.buf.Locked()
		s.mu.Unlock()
	}
}

func (s *Sender) write(data []byte) {
	dest := s.Destination()
	for len(data) > 0 {
		n := nextBoundary(data, udp.MaxDatagramSize)
		datagram := data[:n]
		data = data[n:]

		if s.opts.tap != nil {
			s.opts.tap(dest, datagram)
		}
		if _, err := s.conn.WriteToUDPAddrPort(datagram, dest); err != nil {
			s.opts.metrics.IncSendError()
			s.opts.reportError(errors.Wrap(err, "send datagram").With("destination", dest.String()))
			continue
		}
		s.opts.metrics.ObserveDatagramOut(len(datagram))
	}
}

// Wait blocks until the buffer is empty and no drain is in flight.
// The helper goroutine never outlives the call.
func (s *Sender) Wait(ctx context.Context) error {
	if s == nil {
		return exception.ErrNilInstance
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.mu.Lock()
		defer s.mu.Unlock()
		for (s.flushing || s.buf.ActiveLen() > 0) && ctx.Err() == nil {
			s.idle.Wait()
		}
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		s.idle.Broadcast()
		s.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// SetEnabled turns sending on or off. Messages already buffered still go out.
func (s *Sender) SetEnabled(enabled bool) {
	if s == nil {
		return
	}
	s.enabled.Store(enabled)
}

// Enabled reports whether Send accepts messages.
func (s *Sender) Enabled() bool {
	return s != nil && s.enabled.Load()
}

// SetDestination retargets the sender. It applies from the next datagram written.
func (s *Sender) SetDestination(dest netip.AddrPort) {
	if s == nil {
		return
	}
	s.dest.Store(udp.Normalize(dest))
}

// Destination returns the current remote address.
func (s *Sender) Destination() netip.AddrPort {
	if s == nil {
		return netip.AddrPort{}
	}
	return s.dest.Load().(netip.AddrPort)
}

// Buffered returns the number of bytes waiting in the active half.
func (s *Sender) Buffered() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.ActiveLen()
}
