package chaos

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"rovernet/pkg/udp"
)

// Conn impairs every datagram written through it. Reads pass straight through.
type Conn struct {
	inner  udp.Conn
	mu     sync.Mutex
	engine *Engine
	timers sync.WaitGroup
	onErr  func(error)
}

// Wrap puts engine in front of inner's writes. A nil engine leaves writes untouched.
func Wrap(inner udp.Conn, engine *Engine, onErr func(error)) *Conn {
	return &Conn{inner: inner, engine: engine, onErr: onErr}
}

// WriteToUDPAddrPort reports the whole datagram as written even when it is
// dropped or held back, the way a lossy link would.
func (c *Conn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	if c.engine == nil {
		return c.inner.WriteToUDPAddrPort(b, addr)
	}
	payload := make([]byte, len(b))
	copy(payload, b)

	c.mu.Lock()
	out := c.engine.Process(Datagram{Payload: payload, Addr: addr})
	c.mu.Unlock()

	c.deliver(out)
	return len(b), nil
}

// Flush delivers datagrams held in the reorder window and waits for delayed ones.
func (c *Conn) Flush() {
	if c.engine != nil {
		c.mu.Lock()
		out := c.engine.Flush()
		c.mu.Unlock()
		c.deliver(out)
	}
	c.timers.Wait()
}

func (c *Conn) deliver(out []Datagram) {
	for _, d := range out {
		if d.Delay <= 0 {
			c.write(d)
			continue
		}
		c.timers.Add(1)
		d := d
		time.AfterFunc(d.Delay, func() {
			defer c.timers.Done()
			c.write(d)
		})
	}
}

func (c *Conn) write(d Datagram) {
	if _, err := c.inner.WriteToUDPAddrPort(d.Payload, d.Addr); err != nil && c.onErr != nil {
		c.onErr(err)
	}
}

func (c *Conn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	return c.inner.ReadFromUDPAddrPort(b)
}

func (c *Conn) LocalAddr() net.Addr {
	return c.inner.LocalAddr()
}

// Close flushes pending datagrams and closes the wrapped socket.
func (c *Conn) Close() error {
	c.Flush()
	return c.inner.Close()
}

var _ udp.Conn = (*Conn)(nil)
