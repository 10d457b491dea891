package message

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"rovernet/internal/obs"
	"rovernet/pkg/exception"
	"rovernet/pkg/udp"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	t       Type
	payload string
	from    netip.AddrPort
}

func listenLoopback(t *testing.T) udp.Conn {
	t.Helper()
	conn, err := udp.Listen(t.Context(), udp.Options{Address: "127.0.0.1"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func collectingRegistry(limit int, out chan<- received, types ...Type) *Registry {
	reg := NewRegistry(limit)
	for _, ty := range types {
		ty := ty
		reg.MustRegister(ty, HandlerFunc(func(p []byte, from netip.AddrPort) {
			out <- received{t: ty, payload: string(p), from: from}
		}))
	}
	return reg
}

func next(t *testing.T, ch <-chan received) received {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
		return received{}
	}
}

func TestSenderReceiverLoopback(t *testing.T) {
	rxConn := listenLoopback(t)
	txConn := listenLoopback(t)

	got := make(chan received, 16)
	metrics := obs.NewMetrics()
	rx, err := NewReceiver(rxConn, collectingRegistry(8, got, 1, 3), WithMetrics(metrics))
	require.NoError(t, err)
	require.NoError(t, rx.Open(t.Context()))

	_, ok := rx.LastRemote()
	assert.False(t, ok)
	assert.True(t, rx.LastReceived().IsZero())

	tx, err := NewSender(txConn, udp.Loopback(rx.LocalPort()))
	require.NoError(t, err)

	before := time.Now()
	require.NoError(t, tx.Send(1, []byte("status")))
	require.NoError(t, tx.Send(2, []byte("nobody listens")))
	require.NoError(t, tx.Send(3, []byte("drive")))

	first := next(t, got)
	assert.Equal(t, Type(1), first.t)
	assert.Equal(t, "status", first.payload)
	assert.Equal(t, udp.Loopback(udp.LocalPort(txConn)), first.from)

	second := next(t, got)
	assert.Equal(t, Type(3), second.t)
	assert.Equal(t, "drive", second.payload)

	remote, ok := rx.LastRemote()
	require.True(t, ok)
	assert.Equal(t, udp.LocalPort(txConn), remote.Port())
	assert.False(t, rx.LastReceived().Before(before.Add(-time.Second)))

	require.Eventually(t, func() bool {
		return metrics.Snapshot().UnknownTypes >= 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rx.Close())
	rx.Wait()
}

func TestReceiverSurvivesMalformedDatagrams(t *testing.T) {
	rxConn := listenLoopback(t)
	raw := listenLoopback(t)

	got := make(chan received, 4)
	rx, err := NewReceiver(rxConn, collectingRegistry(4, got, 2))
	require.NoError(t, err)
	require.NoError(t, rx.Open(t.Context()))
	defer rx.Close()

	dest := udp.Loopback(rx.LocalPort())
	for _, junk := range [][]byte{{0x01}, {0xff, 0xff, 0x02, 0x00}, {}} {
		_, err := raw.WriteToUDPAddrPort(junk, dest)
		require.NoError(t, err)
	}
	good, err := Append(nil, 2, []byte("after junk"))
	require.NoError(t, err)
	_, err = raw.WriteToUDPAddrPort(good, dest)
	require.NoError(t, err)

	assert.Equal(t, "after junk", next(t, got).payload)
}

func TestReceiverOpenTwice(t *testing.T) {
	rx, err := NewReceiver(listenLoopback(t), NewRegistry(2))
	require.NoError(t, err)
	require.NoError(t, rx.Open(t.Context()))
	require.ErrorIs(t, rx.Open(t.Context()), exception.ErrAlreadyOpen)
	require.NoError(t, rx.Close())
	require.NoError(t, rx.Close())
	rx.Wait()
}

func TestReceiverSealsRegistry(t *testing.T) {
	reg := NewRegistry(4)
	rx, err := NewReceiver(listenLoopback(t), reg)
	require.NoError(t, err)
	require.NoError(t, rx.Open(t.Context()))
	defer rx.Close()

	err = reg.RegisterFunc(1, func([]byte, netip.AddrPort) {})
	require.ErrorIs(t, err, exception.ErrRegistrySealed)
}

func TestReceiverStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	rx, err := NewReceiver(listenLoopback(t), NewRegistry(2))
	require.NoError(t, err)
	require.NoError(t, rx.Open(ctx))

	cancel()
	done := make(chan struct{})
	go func() {
		rx.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("receive loop did not stop")
	}
}

func TestReceiverCloseFromHandler(t *testing.T) {
	rxConn := listenLoopback(t)
	txConn := listenLoopback(t)

	var rx *Receiver
	handled := make(chan struct{})
	reg := NewRegistry(4)
	reg.MustRegister(1, HandlerFunc(func([]byte, netip.AddrPort) {
		_ = rx.Close()
		close(handled)
	}))
	rx, err := NewReceiver(rxConn, reg)
	require.NoError(t, err)
	require.NoError(t, rx.Open(t.Context()))

	msg, err := Append(nil, 1, nil)
	require.NoError(t, err)
	_, err = txConn.WriteToUDPAddrPort(msg, udp.Loopback(rx.LocalPort()))
	require.NoError(t, err)

	select {
	case <-handled:
	case <-time.After(3 * time.Second):
		t.Fatal("handler did not run")
	}
	rx.Wait()
}

type inlineDispatcher struct {
	mu    sync.Mutex
	calls int
}

func (d *inlineDispatcher) Call(_ context.Context, fn func()) error {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	fn()
	return nil
}

func TestReceiverUsesDispatcher(t *testing.T) {
	rxConn := listenLoopback(t)
	txConn := listenLoopback(t)

	got := make(chan received, 2)
	d := &inlineDispatcher{}
	rx, err := NewReceiver(rxConn, collectingRegistry(4, got, 1), WithDispatcher(d))
	require.NoError(t, err)
	require.NoError(t, rx.Open(t.Context()))
	defer rx.Close()

	tx, err := NewSender(txConn, udp.Loopback(rx.LocalPort()))
	require.NoError(t, err)
	require.NoError(t, tx.Send(1, []byte("via loop")))

	assert.Equal(t, "via loop", next(t, got).payload)
	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, 1, d.calls)
}

func TestReceiverTap(t *testing.T) {
	rxConn := listenLoopback(t)
	txConn := listenLoopback(t)

	tapped := make(chan []byte, 1)
	rx, err := NewReceiver(rxConn, NewRegistry(2), WithTap(func(_ netip.AddrPort, datagram []byte) {
		cp := make([]byte, len(datagram))
		copy(cp, datagram)
		tapped <- cp
	}))
	require.NoError(t, err)
	require.NoError(t, rx.Open(t.Context()))
	defer rx.Close()

	_, err = txConn.WriteToUDPAddrPort([]byte{0, 0, 1}, udp.Loopback(rx.LocalPort()))
	require.NoError(t, err)

	select {
	case d := <-tapped:
		assert.Equal(t, []byte{0, 0, 1}, d)
	case <-time.After(3 * time.Second):
		t.Fatal("tap not called")
	}
}
