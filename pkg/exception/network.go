package exception

import "github.com/yanun0323/errors"

// Socket errors
var (
	// ErrInvalidPort is returned when a port is outside 1..65535 where one is required.
	ErrInvalidPort = errors.New("udp: invalid port")

	// ErrInvalidMulticastGroup is returned when multicast is enabled without an IPv4 group.
	ErrInvalidMulticastGroup = errors.New("udp: invalid multicast group")

	// ErrNilConn is returned when a sender or receiver is built without a socket.
	ErrNilConn = errors.New("udp: nil conn")

	// ErrInvalidDestination is returned when a destination does not resolve to an address and port.
	ErrInvalidDestination = errors.New("udp: invalid destination")

	// ErrReplyTimeout is returned when a probe gets no answer in time.
	ErrReplyTimeout = errors.New("udp: no reply before timeout")
)

// Reactor errors
var (
	ErrLoopFull   = errors.New("reactor: loop queue full")
	ErrLoopClosed = errors.New("reactor: loop closed")
)
