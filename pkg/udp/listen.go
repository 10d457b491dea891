package udp

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"time"

	"rovernet/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/net/ipv4"
)

// Options describes a local datagram endpoint.
type Options struct {
	// Address is the local IP to bind. Empty binds all IPv4 interfaces.
	Address string
	// Port is the local port. 0 picks an ephemeral port.
	Port uint16

	// Multicast joins Group on Interface after binding.
	Multicast bool
	Group     string
	Interface string
	// TTL is the multicast hop limit for outgoing datagrams. 0 keeps the system default.
	TTL int

	ReadBuffer  int
	WriteBuffer int
}

func (o Options) network() string {
	if addr, err := netip.ParseAddr(o.Address); err == nil && addr.Is6() && !addr.Is4In6() {
		return "udp6"
	}
	return "udp4"
}

func (o Options) bindAddress() string {
	host := o.Address
	if host == "" {
		host = "0.0.0.0"
	}
	return net.JoinHostPort(host, strconv.Itoa(int(o.Port)))
}

// Listen binds a datagram socket and, when requested, joins its multicast group.
func Listen(ctx context.Context, opts Options) (*net.UDPConn, error) {
	var group netip.Addr
	if opts.Multicast {
		g, err := netip.ParseAddr(opts.Group)
		if err != nil || !g.Is4() || !g.IsMulticast() {
			return nil, errors.Wrapf(exception.ErrInvalidMulticastGroup, "group %q", opts.Group)
		}
		group = g
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, opts.network(), opts.bindAddress())
	if err != nil {
		return nil, errors.Wrap(err, "bind udp").With("address", opts.bindAddress())
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, errors.Wrapf(exception.ErrInternal, "unexpected packet conn %T", pc)
	}

	if opts.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(opts.ReadBuffer); err != nil {
			logs.Errorf("set read buffer %d, err: %+v", opts.ReadBuffer, err)
		}
	}
	if opts.WriteBuffer > 0 {
		if err := conn.SetWriteBuffer(opts.WriteBuffer); err != nil {
			logs.Errorf("set write buffer %d, err: %+v", opts.WriteBuffer, err)
		}
	}

	if opts.Multicast {
		if err := joinGroup(conn, group, opts); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func joinGroup(conn *net.UDPConn, group netip.Addr, opts Options) error {
	var ifi *net.Interface
	if opts.Interface != "" {
		found, err := net.InterfaceByName(opts.Interface)
		if err != nil {
			return errors.Wrap(err, "lookup multicast interface").With("interface", opts.Interface)
		}
		ifi = found
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.JoinGroup(ifi, &net.UDPAddr{IP: net.IP(group.AsSlice())}); err != nil {
		return errors.Wrap(err, "join multicast group").With("group", group.String())
	}
	if ifi != nil {
		if err := p.SetMulticastInterface(ifi); err != nil {
			return errors.Wrap(err, "set multicast interface")
		}
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		return errors.Wrap(err, "set multicast loopback")
	}
	if opts.TTL > 0 {
		if err := p.SetMulticastTTL(opts.TTL); err != nil {
			return errors.Wrap(err, "set multicast ttl")
		}
	}
	return nil
}

// ListenRetry keeps calling Listen until it succeeds, attempts run out or ctx is done.
// attempts <= 0 retries until ctx is done.
func ListenRetry(ctx context.Context, opts Options, backoff Backoff, attempts int) (*net.UDPConn, error) {
	var lastErr error
	for attempt := 1; attempts <= 0 || attempt <= attempts; attempt++ {
		conn, err := Listen(ctx, opts)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		wait := backoff.Next(attempt)
		logs.Errorf("listen %s attempt %d failed, retry in %s, err: %+v", opts.bindAddress(), attempt, wait, err)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Wrap(ctx.Err(), "listen retry")
		case <-t.C:
		}
	}
	return nil, lastErr
}
