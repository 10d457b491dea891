package stream

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"rovernet/internal/netbuf"
	"rovernet/pkg/exception"
	"rovernet/pkg/udp"

	"github.com/yanun0323/errors"
)

// MaxSectionSize is the largest section that still fits one datagram with its header.
const MaxSectionSize = udp.MaxDatagramSize - HeaderSize

// Sender splits frames into sections and sends one datagram per section.
type Sender struct {
	conn       udp.Conn
	opts       options
	maxSection int
	pool       *netbuf.BufferPool
	dest       atomic.Value // netip.AddrPort

	mu       sync.Mutex
	counters []uint8
}

// NewSender creates a stream sender. Call CreateStreams before SendFrame.
func NewSender(conn udp.Conn, dest netip.AddrPort, maxSectionSize int, opts ...Option) (*Sender, error) {
	if conn == nil {
		return nil, exception.ErrNilConn
	}
	if maxSectionSize <= 0 || maxSectionSize > MaxSectionSize {
		return nil, errors.Wrapf(exception.ErrInvalidSectionSize, "size: %d, max: %d", maxSectionSize, MaxSectionSize)
	}
	s := &Sender{
		conn:       conn,
		opts:       buildOptions(opts),
		maxSection: maxSectionSize,
		pool:       netbuf.NewBufferPool(HeaderSize + maxSectionSize),
	}
	s.dest.Store(udp.Normalize(dest))
	return s, nil
}

// CreateStreams allocates n streams with their frame counters at zero.
func (s *Sender) CreateStreams(n int) error {
	if n <= 0 || n > MaxStreams {
		return errors.Wrapf(exception.ErrInvalidStreamCount, "count: %d", n)
	}
	s.mu.Lock()
	s.counters = make([]uint8, n)
	s.mu.Unlock()
	return nil
}

// Streams returns the number of created streams.
func (s *Sender) Streams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// SectionCount returns how many sections a frame of size bytes needs.
func (s *Sender) SectionCount(size int) int {
	return (size + s.maxSection - 1) / s.maxSection
}

// SendFrame sends data as the next frame of a stream.
// An empty frame sends nothing and does not advance the frame index.
func (s *Sender) SendFrame(stream int, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	count := s.SectionCount(len(data))
	if count > MaxSections || (count-1)*s.maxSection > MaxOffset {
		return errors.Wrapf(exception.ErrFrameTooLarge, "size: %d, sections: %d", len(data), count)
	}

	s.mu.Lock()
	if stream < 0 || stream >= len(s.counters) {
		s.mu.Unlock()
		return exception.ErrStreamNotFound
	}
	frame := s.counters[stream]
	s.counters[stream]++
	s.mu.Unlock()

	dest := s.Destination()
	var firstErr error
	for i := 0; i < count; i++ {
		offset := i * s.maxSection
		end := min(offset+s.maxSection, len(data))

		datagram := s.pool.Get(HeaderSize + end - offset)
		FrameHeader{
			Stream:  int8(stream),
			Frame:   frame,
			Section: uint8(i),
			Count:   uint8(count),
			Offset:  uint32(offset),
		}.Put(datagram)
		copy(datagram[HeaderSize:], data[offset:end])

		if s.opts.tap != nil {
			s.opts.tap(dest, datagram)
		}
		_, err := s.conn.WriteToUDPAddrPort(datagram, dest)
		s.pool.Put(datagram)
		if err != nil {
			s.opts.metrics.IncSendError()
			err = errors.Wrap(err, "send section").With("stream", stream)
			s.opts.reportError(err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.opts.metrics.ObserveDatagramOut(len(datagram))
	}
	if firstErr == nil {
		s.opts.metrics.IncFrameSent()
	}
	return firstErr
}

// SetDestination retargets the sender from the next section on.
func (s *Sender) SetDestination(dest netip.AddrPort) {
	s.dest.Store(udp.Normalize(dest))
}

// Destination returns the current remote address.
func (s *Sender) Destination() netip.AddrPort {
	return s.dest.Load().(netip.AddrPort)
}

// MaxSection returns the configured section size.
func (s *Sender) MaxSection() int {
	return s.maxSection
}
