package message

import (
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"rovernet/pkg/udp"
)

type sentDatagram struct {
	to   netip.AddrPort
	data []byte
}

// captureConn records writes. When gate is set every write waits for a token.
type captureConn struct {
	mu       sync.Mutex
	sent     []sentDatagram
	gate     chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	writeErr error
}

func (c *captureConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if c.gate != nil {
		<-c.gate
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	c.mu.Lock()
	c.sent = append(c.sent, sentDatagram{to: addr, data: cp})
	c.mu.Unlock()
	return len(b), nil
}

func (c *captureConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, net.ErrClosed
}

func (c *captureConn) LocalAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} }
func (c *captureConn) Close() error        { return nil }

func (c *captureConn) datagrams() []sentDatagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentDatagram, len(c.sent))
	copy(out, c.sent)
	return out
}

var _ udp.Conn = (*captureConn)(nil)
