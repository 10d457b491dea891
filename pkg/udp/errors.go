package udp

import (
	"errors"
	"net"
)

// IsClosed reports whether err comes from using a socket after Close.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
