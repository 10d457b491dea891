package stream

import (
	"bytes"
	"net"
	"net/netip"
	"runtime"
	"sync"
	"testing"
	"time"

	"rovernet/internal/obs"
	"rovernet/pkg/exception"
	"rovernet/pkg/udp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureConn struct {
	mu   sync.Mutex
	sent [][]byte
}

func (c *captureConn) WriteToUDPAddrPort(b []byte, _ netip.AddrPort) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	c.mu.Lock()
	c.sent = append(c.sent, cp)
	c.mu.Unlock()
	return len(b), nil
}

func (c *captureConn) ReadFromUDPAddrPort([]byte) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, net.ErrClosed
}

func (c *captureConn) LocalAddr() net.Addr { return &net.UDPAddr{} }
func (c *captureConn) Close() error        { return nil }

func (c *captureConn) take() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sent
	c.sent = nil
	return out
}

var testDest = netip.MustParseAddrPort("127.0.0.1:40002")

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i*7)
	}
	return out
}

func newTestSender(t *testing.T, maxSection, streams int) (*Sender, *captureConn) {
	t.Helper()
	conn := &captureConn{}
	s, err := NewSender(conn, testDest, maxSection)
	require.NoError(t, err)
	require.NoError(t, s.CreateStreams(streams))
	return s, conn
}

func newTestReceiver(t *testing.T, streams, bufferSize, level int, opts ...Option) *Receiver {
	t.Helper()
	r := NewReceiver(nil, opts...)
	require.NoError(t, r.CreateStreams(streams, bufferSize, level))
	return r
}

func section(stream int8, frame, idx, count uint8, offset uint32, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	FrameHeader{Stream: stream, Frame: frame, Section: idx, Count: count, Offset: offset}.Put(out)
	copy(out[HeaderSize:], payload)
	return out
}

func TestFrameHeaderLayout(t *testing.T) {
	var buf [HeaderSize]byte
	FrameHeader{Stream: 2, Frame: 9, Section: 1, Count: 3, Offset: 0x030201}.Put(buf[:])
	assert.Equal(t, []byte{2, 9, 1, 3, 0x01, 0x02, 0x03}, buf[:])

	h, err := ParseFrameHeader(buf[:])
	require.NoError(t, err)
	assert.Equal(t, FrameHeader{Stream: 2, Frame: 9, Section: 1, Count: 3, Offset: 0x030201}, h)
}

func TestParseFrameHeaderRejects(t *testing.T) {
	testCases := []struct {
		desc string
		raw  []byte
	}{
		{desc: "short", raw: []byte{0, 0, 0, 1, 0, 0}},
		{desc: "zero count", raw: []byte{0, 0, 0, 0, 0, 0, 0}},
		{desc: "section past count", raw: []byte{0, 0, 3, 3, 0, 0, 0}},
		{desc: "negative stream", raw: []byte{0x80, 0, 0, 1, 0, 0, 0}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := ParseFrameHeader(tc.raw)
			require.ErrorIs(t, err, exception.ErrMalformedHeader)
		})
	}
}

func TestNewerWraps(t *testing.T) {
	assert.True(t, newer(1, 0))
	assert.True(t, newer(0, 255))
	assert.True(t, newer(10, 250))
	assert.False(t, newer(255, 0))
	assert.False(t, newer(5, 5))
	assert.False(t, newer(0, 128))
}

func TestSendFrameSections(t *testing.T) {
	s, conn := newTestSender(t, 1024, 3)

	require.NoError(t, s.SendFrame(2, pattern(3000, 1)))
	sent := conn.take()
	require.Len(t, sent, 3)

	wantOffsets := []uint32{0, 1024, 2048}
	wantSizes := []int{1024, 1024, 952}
	for i, d := range sent {
		h, err := ParseFrameHeader(d)
		require.NoError(t, err)
		assert.EqualValues(t, 2, h.Stream)
		assert.EqualValues(t, 0, h.Frame)
		assert.EqualValues(t, i, h.Section)
		assert.EqualValues(t, 3, h.Count)
		assert.Equal(t, wantOffsets[i], h.Offset)
		assert.Len(t, d[HeaderSize:], wantSizes[i])
	}
}

func TestSendFrameIndexWraps(t *testing.T) {
	s, conn := newTestSender(t, 64, 1)
	for i := 0; i < 257; i++ {
		require.NoError(t, s.SendFrame(0, []byte{byte(i)}))
	}
	sent := conn.take()
	require.Len(t, sent, 257)

	last, err := ParseFrameHeader(sent[255])
	require.NoError(t, err)
	assert.EqualValues(t, 255, last.Frame)
	wrapped, err := ParseFrameHeader(sent[256])
	require.NoError(t, err)
	assert.EqualValues(t, 0, wrapped.Frame)
}

func TestSendFrameEmptyDoesNotAdvance(t *testing.T) {
	s, conn := newTestSender(t, 64, 1)
	require.NoError(t, s.SendFrame(0, nil))
	require.NoError(t, s.SendFrame(0, []byte{}))
	assert.Empty(t, conn.take())

	require.NoError(t, s.SendFrame(0, []byte{1}))
	sent := conn.take()
	require.Len(t, sent, 1)
	h, err := ParseFrameHeader(sent[0])
	require.NoError(t, err)
	assert.EqualValues(t, 0, h.Frame)
}

func TestSendFrameErrors(t *testing.T) {
	s, conn := newTestSender(t, 16, 2)

	require.ErrorIs(t, s.SendFrame(2, []byte{1}), exception.ErrStreamNotFound)
	require.ErrorIs(t, s.SendFrame(-1, []byte{1}), exception.ErrStreamNotFound)
	require.ErrorIs(t, s.SendFrame(0, make([]byte, 16*256)), exception.ErrFrameTooLarge)
	assert.Empty(t, conn.take())

	require.NoError(t, s.SendFrame(0, make([]byte, 16*255)))
	sent := conn.take()
	require.Len(t, sent, 255)
	h, err := ParseFrameHeader(sent[0])
	require.NoError(t, err)
	assert.EqualValues(t, 0, h.Frame, "rejected frames must not consume an index")

	require.ErrorIs(t, s.CreateStreams(0), exception.ErrInvalidStreamCount)
	require.ErrorIs(t, s.CreateStreams(MaxStreams+1), exception.ErrInvalidStreamCount)

	_, err = NewSender(conn, testDest, MaxSectionSize+1)
	require.ErrorIs(t, err, exception.ErrInvalidSectionSize)
}

func TestReassembleInOrderAndOutOfOrder(t *testing.T) {
	frame := pattern(3000, 3)
	s, conn := newTestSender(t, 1024, 3)
	require.NoError(t, s.SendFrame(2, frame))
	sent := conn.take()

	var calls []int
	r := newTestReceiver(t, 3, 4096, 3, WithFrameHandler(func(stream int) { calls = append(calls, stream) }))

	assert.False(t, r.HandleDatagram(sent[2]))
	assert.False(t, r.HandleDatagram(sent[0]))
	_, err := r.GetCompleteFrame(2)
	require.ErrorIs(t, err, exception.ErrFrameNotReady)
	assert.True(t, r.HandleDatagram(sent[1]))
	assert.Equal(t, []int{2}, calls)

	f, err := r.GetCompleteFrame(2)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Stream)
	assert.EqualValues(t, 0, f.Index)
	assert.EqualValues(t, 3, f.Sections)
	assert.Equal(t, frame, f.Bytes())
	f.Release()
	f.Release()

	_, err = r.GetCompleteFrame(2)
	require.ErrorIs(t, err, exception.ErrFrameNotReady, "a frame is handed out once")
}

func TestReassembleEverySectionSize(t *testing.T) {
	frame := pattern(200, 11)
	for size := 1; size <= len(frame); size++ {
		s, conn := newTestSender(t, size, 1)
		require.NoError(t, s.SendFrame(0, frame))
		sent := conn.take()
		require.Len(t, sent, s.SectionCount(len(frame)), "size %d", size)

		r := newTestReceiver(t, 1, len(frame), 2)
		for i := len(sent) - 1; i > 0; i-- {
			require.False(t, r.HandleDatagram(sent[i]), "size %d section %d", size, i)
		}
		require.True(t, r.HandleDatagram(sent[0]), "size %d", size)

		f, err := r.GetCompleteFrame(0)
		require.NoError(t, err, "size %d", size)
		require.Equal(t, frame, f.Bytes(), "size %d", size)
		f.Release()
	}
}

func TestConsumerReadsWhileReassembling(t *testing.T) {
	const frames, frameSize = 2000, 900
	s, conn := newTestSender(t, 300, 1)
	r := newTestReceiver(t, 1, frameSize, 3)

	stop := make(chan struct{})
	var (
		wg       sync.WaitGroup
		consumed int
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			f, err := r.GetCompleteFrame(0)
			if err != nil {
				if !assert.ErrorIs(t, err, exception.ErrFrameNotReady) {
					return
				}
				runtime.Gosched()
				continue
			}
			data := f.Bytes()
			if assert.Len(t, data, frameSize) {
				for i, b := range data {
					if b != data[0] {
						t.Errorf("frame %d torn at byte %d: %d != %d", f.Index, i, b, data[0])
						break
					}
				}
			}
			f.Release()
			consumed++
		}
	}()

	for i := 0; i < frames; i++ {
		require.NoError(t, s.SendFrame(0, bytes.Repeat([]byte{byte(i)}, frameSize)))
		for _, datagram := range conn.take() {
			r.HandleDatagram(datagram)
		}
		if i%50 == 0 {
			runtime.Gosched()
		}
	}
	close(stop)
	wg.Wait()
	assert.Positive(t, consumed)
}

func TestGetCompleteFrameNotFound(t *testing.T) {
	r := NewReceiver(nil)
	_, err := r.GetCompleteFrame(0)
	require.ErrorIs(t, err, exception.ErrStreamNotFound)

	require.NoError(t, r.CreateStreams(2, 128, 0))
	_, err = r.GetCompleteFrame(2)
	require.ErrorIs(t, err, exception.ErrStreamNotFound)
	_, err = r.GetCompleteFrame(-1)
	require.ErrorIs(t, err, exception.ErrStreamNotFound)
	_, err = r.GetCompleteFrame(1)
	require.ErrorIs(t, err, exception.ErrFrameNotReady)

	r.DestroyStreams()
	assert.Zero(t, r.Streams())
	_, err = r.GetCompleteFrame(1)
	require.ErrorIs(t, err, exception.ErrStreamNotFound)
}

func TestNewerFrameSupersedesPartial(t *testing.T) {
	metrics := obs.NewMetrics()
	r := newTestReceiver(t, 1, 64, 3, WithMetrics(metrics))

	assert.False(t, r.HandleDatagram(section(0, 5, 0, 2, 0, []byte("old-"))))
	assert.False(t, r.HandleDatagram(section(0, 6, 0, 2, 0, []byte("new-"))))
	assert.False(t, r.HandleDatagram(section(0, 5, 1, 2, 4, []byte("part"))), "stale section of the discarded frame")
	assert.True(t, r.HandleDatagram(section(0, 6, 1, 2, 4, []byte("data"))))

	f, err := r.GetCompleteFrame(0)
	require.NoError(t, err)
	defer f.Release()
	assert.Equal(t, "new-data", string(f.Bytes()))
	assert.EqualValues(t, 6, f.Index)

	snap := metrics.Snapshot()
	assert.EqualValues(t, 1, snap.FramesSuperseded)
	assert.EqualValues(t, 1, snap.StaleSections)
	assert.EqualValues(t, 1, snap.FramesCompleted)
}

func TestCompletedFrameIsNotRestarted(t *testing.T) {
	calls := 0
	r := newTestReceiver(t, 1, 64, 3, WithFrameHandler(func(int) { calls++ }))

	one := section(0, 1, 0, 1, 0, []byte("x"))
	assert.True(t, r.HandleDatagram(one))
	assert.False(t, r.HandleDatagram(one), "duplicate of a finished frame")
	assert.False(t, r.HandleDatagram(section(0, 0, 0, 1, 0, []byte("y"))), "older frame")
	assert.Equal(t, 1, calls)
}

func TestDuplicateSectionsCountOnce(t *testing.T) {
	r := newTestReceiver(t, 1, 64, 3)
	first := section(0, 0, 0, 2, 0, []byte("ab"))
	assert.False(t, r.HandleDatagram(first))
	assert.False(t, r.HandleDatagram(first))
	assert.True(t, r.HandleDatagram(section(0, 0, 1, 2, 2, []byte("cd"))))

	f, err := r.GetCompleteFrame(0)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(f.Bytes()))
	f.Release()
}

func TestMalformedSectionsDropped(t *testing.T) {
	metrics := obs.NewMetrics()
	r := newTestReceiver(t, 1, 8, 2, WithMetrics(metrics))

	assert.False(t, r.HandleDatagram([]byte{0, 0}))
	assert.False(t, r.HandleDatagram(section(3, 0, 0, 1, 0, []byte("a"))), "unknown stream")
	assert.False(t, r.HandleDatagram(section(0, 0, 0, 1, 6, []byte("abc"))), "past buffer end")
	assert.False(t, r.HandleDatagram(section(0, 0, 0, 2, 0, []byte("ab"))))
	assert.False(t, r.HandleDatagram(section(0, 0, 1, 3, 2, []byte("cd"))), "count changed mid frame")

	assert.EqualValues(t, 4, metrics.Snapshot().MalformedSections)
}

func TestBorrowedFrameIsNotOverwritten(t *testing.T) {
	r := newTestReceiver(t, 1, 16, 2)

	require.True(t, r.HandleDatagram(section(0, 0, 0, 1, 0, []byte("frame-0"))))
	held, err := r.GetCompleteFrame(0)
	require.NoError(t, err)

	require.True(t, r.HandleDatagram(section(0, 1, 0, 1, 0, []byte("frame-1"))))
	// both slots busy: one lent out, one complete and waiting
	assert.False(t, r.HandleDatagram(section(0, 2, 0, 1, 0, []byte("frame-2"))))
	assert.Equal(t, "frame-0", string(held.Bytes()))

	held.Release()
	require.True(t, r.HandleDatagram(section(0, 3, 0, 1, 0, []byte("frame-3"))))
	latest, err := r.GetCompleteFrame(0)
	require.NoError(t, err)
	defer latest.Release()
	assert.Equal(t, "frame-3", string(latest.Bytes()))
}

func TestNewCompleteFrameReplacesUnconsumedOne(t *testing.T) {
	r := newTestReceiver(t, 1, 16, 3)
	require.True(t, r.HandleDatagram(section(0, 0, 0, 1, 0, []byte("a"))))
	require.True(t, r.HandleDatagram(section(0, 1, 0, 1, 0, []byte("b"))))
	require.True(t, r.HandleDatagram(section(0, 2, 0, 1, 0, []byte("c"))))
	require.True(t, r.HandleDatagram(section(0, 3, 0, 1, 0, []byte("d"))))

	f, err := r.GetCompleteFrame(0)
	require.NoError(t, err)
	assert.Equal(t, "d", string(f.Bytes()))
	f.Release()

	for _, st := range r.Status() {
		complete := 0
		for _, sl := range st.Slots {
			if sl.State == "complete" {
				complete++
			}
		}
		assert.Zero(t, complete)
	}
}

func TestResyncAfterSilence(t *testing.T) {
	now := time.Unix(1000, 0)
	r := newTestReceiver(t, 1, 16, 3, WithResyncAfter(time.Second), withClock(func() time.Time { return now }))

	require.True(t, r.HandleDatagram(section(0, 50, 0, 1, 0, []byte("a"))))
	assert.False(t, r.HandleDatagram(section(0, 0, 0, 1, 0, []byte("b"))), "looks old right away")

	now = now.Add(2 * time.Second)
	assert.True(t, r.HandleDatagram(section(0, 0, 0, 1, 0, []byte("c"))), "accepted after the stream went quiet")
}

func TestWrappedFrameIndexAssembles(t *testing.T) {
	s, conn := newTestSender(t, 4, 1)
	r := newTestReceiver(t, 1, 64, 3)

	for i := 0; i < 300; i++ {
		payload := []byte{byte(i), byte(i >> 8), 0xaa, 0xbb, 0xcc}
		require.NoError(t, s.SendFrame(0, payload))
		completed := false
		for _, d := range conn.take() {
			completed = r.HandleDatagram(d)
		}
		require.True(t, completed, "frame %d", i)

		f, err := r.GetCompleteFrame(0)
		require.NoError(t, err)
		require.Equal(t, payload, f.Bytes())
		require.EqualValues(t, uint8(i), f.Index)
		f.Release()
	}
}

func TestLoopbackStream(t *testing.T) {
	rxConn, err := udp.Listen(t.Context(), udp.Options{Address: "127.0.0.1"})
	require.NoError(t, err)
	txConn, err := udp.Listen(t.Context(), udp.Options{Address: "127.0.0.1"})
	require.NoError(t, err)
	defer txConn.Close()

	done := make(chan int, 4)
	r := NewReceiver(rxConn, WithFrameHandler(func(stream int) { done <- stream }))
	require.NoError(t, r.CreateStreams(2, 1<<16, 3))
	require.NoError(t, r.Open(t.Context()))
	defer func() {
		_ = r.Close()
		r.Wait()
	}()

	s, err := NewSender(txConn, udp.Loopback(r.LocalPort()), 1200)
	require.NoError(t, err)
	require.NoError(t, s.CreateStreams(2))

	frame := pattern(5000, 9)
	require.NoError(t, s.SendFrame(1, frame))

	select {
	case stream := <-done:
		assert.Equal(t, 1, stream)
	case <-time.After(3 * time.Second):
		t.Fatal("frame not reassembled")
	}

	f, err := r.GetCompleteFrame(1)
	require.NoError(t, err)
	defer f.Release()
	assert.True(t, bytes.Equal(frame, f.Bytes()))

	remote, ok := r.LastRemote()
	require.True(t, ok)
	assert.Equal(t, udp.LocalPort(txConn), remote.Port())
	assert.False(t, r.LastReceived().IsZero())
}

func BenchmarkReassemble(b *testing.B) {
	conn := &captureConn{}
	s, _ := NewSender(conn, testDest, 1024)
	_ = s.CreateStreams(1)
	r := NewReceiver(nil)
	_ = r.CreateStreams(1, 64<<10, 3)
	frame := pattern(60<<10, 1)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.SendFrame(0, frame)
		for _, d := range conn.take() {
			r.HandleDatagram(d)
		}
		if f, err := r.GetCompleteFrame(0); err == nil {
			f.Release()
		}
	}
}
