package chaos

import (
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rovernet/internal/stream"
	"rovernet/pkg/exception"
)

var dest = netip.MustParseAddrPort("127.0.0.1:40002")

type sinkConn struct {
	mu   sync.Mutex
	got  [][]byte
	recv func([]byte)
}

func (c *sinkConn) WriteToUDPAddrPort(b []byte, _ netip.AddrPort) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, append([]byte(nil), b...))
	if c.recv != nil {
		c.recv(b)
	}
	return len(b), nil
}

func (c *sinkConn) ReadFromUDPAddrPort([]byte) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, net.ErrClosed
}

func (c *sinkConn) LocalAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} }
func (c *sinkConn) Close() error        { return nil }

func (c *sinkConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func datagrams(n int) []Datagram {
	out := make([]Datagram, n)
	for i := range out {
		out[i] = Datagram{Payload: []byte{byte(i)}, Addr: dest}
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  Config
		ok   bool
	}{
		{desc: "zero", cfg: Config{}, ok: true},
		{desc: "full", cfg: Config{DropRate: 1, DuplicateRate: 1, ReorderWindow: 8, MaxDelay: time.Second}, ok: true},
		{desc: "negative drop", cfg: Config{DropRate: -0.1}},
		{desc: "drop above one", cfg: Config{DropRate: 1.5}},
		{desc: "duplicate above one", cfg: Config{DuplicateRate: 2}},
		{desc: "negative window", cfg: Config{ReorderWindow: -1}},
		{desc: "negative delay", cfg: Config{MaxDelay: -time.Millisecond}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, exception.ErrInvalidConfig)
		})
	}
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{Seed: 7, ReorderWindow: 1}.Enabled())
	assert.True(t, Config{DropRate: 0.1}.Enabled())
	assert.True(t, Config{ReorderWindow: 2}.Enabled())
}

func TestEngineDropAndDuplicate(t *testing.T) {
	drop, err := NewEngine(Config{Seed: 1, DropRate: 1})
	require.NoError(t, err)
	for _, d := range datagrams(50) {
		assert.Empty(t, drop.Process(d))
	}

	dup, err := NewEngine(Config{Seed: 1, DuplicateRate: 1})
	require.NoError(t, err)
	for _, d := range datagrams(50) {
		out := dup.Process(d)
		require.Len(t, out, 2)
		assert.Equal(t, d.Payload, out[0].Payload)
		assert.Equal(t, d.Payload, out[1].Payload)
	}
}

func TestEngineReorderKeepsEveryDatagram(t *testing.T) {
	e, err := NewEngine(Config{Seed: 42, ReorderWindow: 4})
	require.NoError(t, err)

	seen := map[byte]int{}
	for _, d := range datagrams(100) {
		for _, out := range e.Process(d) {
			seen[out.Payload[0]]++
		}
	}
	assert.Equal(t, 3, e.Pending())
	for _, out := range e.Flush() {
		seen[out.Payload[0]]++
	}
	assert.Zero(t, e.Pending())
	require.Len(t, seen, 100)
	for b, n := range seen {
		assert.Equal(t, 1, n, "datagram %d", b)
	}
}

func TestEngineSeedIsDeterministic(t *testing.T) {
	cfg := Config{Seed: 99, DropRate: 0.3, DuplicateRate: 0.2, ReorderWindow: 3, MaxDelay: 5 * time.Millisecond}
	a, err := NewEngine(cfg)
	require.NoError(t, err)
	b, err := NewEngine(cfg)
	require.NoError(t, err)

	for _, d := range datagrams(200) {
		assert.Equal(t, a.Process(d), b.Process(d))
	}
	assert.Equal(t, a.Flush(), b.Flush())
}

func TestEngineDelayBounded(t *testing.T) {
	e, err := NewEngine(Config{Seed: 3, MaxDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	for _, d := range datagrams(100) {
		out := e.Process(d)
		require.Len(t, out, 1)
		assert.GreaterOrEqual(t, out[0].Delay, time.Duration(0))
		assert.LessOrEqual(t, out[0].Delay, 10*time.Millisecond)
	}
}

func TestNilEnginePassesThrough(t *testing.T) {
	var e *Engine
	d := Datagram{Payload: []byte("x"), Addr: dest}
	assert.Equal(t, []Datagram{d}, e.Process(d))
	assert.Nil(t, e.Flush())
}

func TestConnDelaysAndFlushes(t *testing.T) {
	engine, err := NewEngine(Config{Seed: 5, ReorderWindow: 3, MaxDelay: 3 * time.Millisecond})
	require.NoError(t, err)
	sink := &sinkConn{}
	c := Wrap(sink, engine, nil)

	buf := []byte{0}
	for i := 0; i < 30; i++ {
		buf[0] = byte(i)
		n, err := c.WriteToUDPAddrPort(buf, dest)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
	require.NoError(t, c.Close())
	assert.Equal(t, 30, sink.count())

	seen := map[byte]bool{}
	for _, b := range sink.got {
		seen[b[0]] = true
	}
	assert.Len(t, seen, 30, "the written buffer is copied before impairment")
}

func TestConnWithoutEngine(t *testing.T) {
	sink := &sinkConn{}
	c := Wrap(sink, nil, nil)
	_, err := c.WriteToUDPAddrPort([]byte("ping"), dest)
	require.NoError(t, err)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, sink.LocalAddr(), c.LocalAddr())
}

func TestStreamReassemblyOverLossyLink(t *testing.T) {
	const (
		frames    = 200
		frameSize = 3000
	)
	recv := stream.NewReceiver(nil)
	require.NoError(t, recv.CreateStreams(1, frameSize, 3))

	engine, err := NewEngine(Config{Seed: 11, DropRate: 0.1, DuplicateRate: 0.2, ReorderWindow: 2})
	require.NoError(t, err)
	sink := &sinkConn{recv: func(b []byte) { recv.HandleDatagram(b) }}
	send, err := stream.NewSender(Wrap(sink, engine, nil), dest, 1024)
	require.NoError(t, err)
	require.NoError(t, send.CreateStreams(1))

	completed := 0
	check := func() {
		f, err := recv.GetCompleteFrame(0)
		if err != nil {
			assert.ErrorIs(t, err, exception.ErrFrameNotReady)
			return
		}
		defer f.Release()
		completed++
		data := f.Bytes()
		require.Len(t, data, frameSize)
		for _, b := range data {
			require.Equal(t, data[0], b, "frame %d mixes content of several frames", f.Index)
		}
	}

	frame := make([]byte, frameSize)
	for i := 0; i < frames; i++ {
		for j := range frame {
			frame[j] = byte(i)
		}
		require.NoError(t, send.SendFrame(0, frame))
		check()
	}
	assert.Positive(t, completed)
	assert.Less(t, completed, frames)
}
