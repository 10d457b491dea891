package udp

import (
	"net"
	"net/netip"
	"strconv"

	"rovernet/pkg/exception"

	"github.com/yanun0323/errors"
)

// MaxDatagramSize is the largest UDP payload that fits an IPv4 datagram.
const MaxDatagramSize = 65507

// Conn is the datagram socket surface the senders and receivers need.
// *net.UDPConn satisfies it.
type Conn interface {
	ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error)
	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)
	LocalAddr() net.Addr
	Close() error
}

// ParseDestination resolves host and port into a destination.
// Host may be an IPv4/IPv6 literal or a resolvable name.
func ParseDestination(host string, port uint16) (netip.AddrPort, error) {
	if port == 0 {
		return netip.AddrPort{}, errors.Wrapf(exception.ErrInvalidPort, "destination %s", host)
	}
	if host == "" {
		return netip.AddrPort{}, errors.Wrap(exception.ErrInvalidDestination, "empty host")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), port), nil
	}
	resolved, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return netip.AddrPort{}, errors.Wrap(err, "resolve destination").With("host", host)
	}
	ap := resolved.AddrPort()
	if !ap.IsValid() {
		return netip.AddrPort{}, errors.Wrapf(exception.ErrInvalidDestination, "host %s", host)
	}
	return Normalize(ap), nil
}

// Normalize strips IPv4-in-IPv6 mapping so addresses compare equal across socket families.
func Normalize(ap netip.AddrPort) netip.AddrPort {
	if !ap.IsValid() {
		return ap
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// LocalPort reports the bound port of a socket, 0 when unknown.
func LocalPort(c Conn) uint16 {
	if c == nil {
		return 0
	}
	addr, ok := c.LocalAddr().(*net.UDPAddr)
	if !ok || addr == nil {
		return 0
	}
	return uint16(addr.Port)
}

// Loopback returns the IPv4 loopback destination for a port.
func Loopback(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port)
}
