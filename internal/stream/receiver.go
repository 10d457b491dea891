package stream

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"rovernet/pkg/exception"
	"rovernet/pkg/udp"

	"github.com/yanun0323/errors"
)

// Receiver reassembles stream sections into per-stream frame buffers.
//
// Each stream keeps a small ring of buffers: one being filled, at most one
// complete and waiting, and any number lent out through GetCompleteFrame.
// A section of a newer frame discards the frame being filled; sections of an
// older frame are dropped.
type Receiver struct {
	conn    udp.Conn
	opts    options
	streams atomic.Pointer[[]*streamBuffers]
	buf     []byte

	lastRemote atomic.Value // netip.AddrPort
	lastRecv   atomic.Int64

	opened atomic.Bool
	closed atomic.Bool
	exited chan struct{}
	wg     sync.WaitGroup
}

// NewReceiver creates a receiver. conn may be nil when sections are only fed
// through HandleDatagram, e.g. during replay.
func NewReceiver(conn udp.Conn, opts ...Option) *Receiver {
	return &Receiver{
		conn:   conn,
		opts:   buildOptions(opts),
		buf:    make([]byte, udp.MaxDatagramSize),
		exited: make(chan struct{}),
	}
}

// CreateStreams replaces all streams with n new ones of level buffers each.
// level 0 selects DefaultBufferLevel. Frames already borrowed stay valid.
func (r *Receiver) CreateStreams(n, bufferSize, level int) error {
	if n <= 0 || n > MaxStreams {
		return errors.Wrapf(exception.ErrInvalidStreamCount, "count: %d", n)
	}
	if bufferSize <= 0 || bufferSize > MaxOffset+1+MaxSectionSize {
		return errors.Wrapf(exception.ErrInvalidBufferSize, "size: %d", bufferSize)
	}
	if level == 0 {
		level = DefaultBufferLevel
	}
	if level < 2 {
		return errors.Wrapf(exception.ErrInvalidBufferLevel, "level: %d", level)
	}
	streams := make([]*streamBuffers, n)
	for i := range streams {
		streams[i] = newStreamBuffers(bufferSize, level)
	}
	r.streams.Store(&streams)
	return nil
}

// DestroyStreams drops all streams. Later sections are ignored.
func (r *Receiver) DestroyStreams() {
	r.streams.Store(nil)
}

// Streams returns the number of streams.
func (r *Receiver) Streams() int {
	return len(r.loadStreams())
}

func (r *Receiver) loadStreams() []*streamBuffers {
	p := r.streams.Load()
	if p == nil {
		return nil
	}
	return *p
}

// HandleDatagram parses one stream datagram and feeds its section.
func (r *Receiver) HandleDatagram(datagram []byte) bool {
	h, err := ParseFrameHeader(datagram)
	if err != nil {
		r.opts.metrics.IncMalformedSection()
		return false
	}
	return r.HandleSection(h, datagram[HeaderSize:])
}

// HandleSection feeds one section. It returns true when the section
// completed a frame. The payload is copied.
func (r *Receiver) HandleSection(h FrameHeader, payload []byte) bool {
	streams := r.loadStreams()
	if !h.Valid() || int(h.Stream) >= len(streams) {
		r.opts.metrics.IncMalformedSection()
		return false
	}
	b := streams[h.Stream]
	if int(h.Offset)+len(payload) > b.bufferSize() {
		r.opts.metrics.IncMalformedSection()
		return false
	}

	completed, elapsed := b.accept(h, payload, r.opts.now(), r.opts.resyncAfter, r.opts.metrics)
	if !completed {
		return false
	}
	r.opts.metrics.ObserveFrameCompleted(elapsed)
	if r.opts.onFrame != nil {
		r.opts.onFrame(int(h.Stream))
	}
	return true
}

// GetCompleteFrame lends out the latest complete frame of a stream. It never
// blocks. It fails with ErrStreamNotFound for an unknown stream and with
// ErrFrameNotReady when no new frame has completed since the last call.
func (r *Receiver) GetCompleteFrame(stream int) (*Frame, error) {
	streams := r.loadStreams()
	if stream < 0 || stream >= len(streams) {
		return nil, exception.ErrStreamNotFound
	}
	b := streams[stream]
	idx, ok := b.borrow()
	if !ok {
		return nil, exception.ErrFrameNotReady
	}
	s := &b.slots[idx]
	return &Frame{
		Stream:   stream,
		Index:    s.frame,
		Sections: s.count,
		data:     s.data[:s.length],
		owner:    b,
		slot:     idx,
	}, nil
}

// Status reports the buffer state of every stream.
func (r *Receiver) Status() []Status {
	streams := r.loadStreams()
	out := make([]Status, len(streams))
	for i, b := range streams {
		out[i] = b.status(i)
	}
	return out
}

// Open starts the receive loop. It runs until Close or ctx is done.
func (r *Receiver) Open(ctx context.Context) error {
	if r.conn == nil {
		return exception.ErrNilConn
	}
	if !r.opened.CompareAndSwap(false, true) {
		return exception.ErrAlreadyOpen
	}

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
			r.opts.reportError(errors.Wrap(err, "receive section"))
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
		r.HandleDatagram(datagram)
	}
}

// Close stops the receive loop by closing the socket.
func (r *Receiver) Close() error {
	if r.conn == nil || !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return r.conn.Close()
}

// Wait blocks until the receive loop has exited.
func (r *Receiver) Wait() {
	r.wg.Wait()
}

// LastRemote returns the sender of the most recent datagram.
func (r *Receiver) LastRemote() (netip.AddrPort, bool) {
	v, ok := r.lastRemote.Load().(netip.AddrPort)
	return v, ok
}

// LastReceived returns when the most recent datagram arrived, zero if none has.
func (r *Receiver) LastReceived() time.Time {
	ns := r.lastRecv.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// LocalPort returns the bound port.
func (r *Receiver) LocalPort() uint16 {
	return udp.LocalPort(r.conn)
}
