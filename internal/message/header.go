package message

import (
	"rovernet/pkg/exception"
)

const (
	// HeaderSize is the encoded size of a message header.
	HeaderSize = 3
	// MaxPayloadSize is the largest payload the 16-bit length field can describe.
	MaxPayloadSize = 1<<16 - 1
)

// Type tags a message payload. TypeNone is reserved and never dispatched.
type Type uint8

const TypeNone Type = 0

// Header precedes every payload on the wire: [u16 LE size][u8 type].
type Header struct {
	Size uint16
	Type Type
}

// Put writes the header into dst, which must hold HeaderSize bytes.
func (h Header) Put(dst []byte) {
	_ = dst[HeaderSize-1]
	dst[0] = byte(h.Size)
	dst[1] = byte(h.Size >> 8)
	dst[2] = byte(h.Type)
}

// ParseHeader reads a header from the start of src.
func ParseHeader(src []byte) (Header, bool) {
	if len(src) < HeaderSize {
		return Header{}, false
	}
	return Header{
		Size: uint16(src[0]) | uint16(src[1])<<8,
		Type: Type(src[2]),
	}, true
}

// Append frames payload as one message and appends it to dst.
func Append(dst []byte, t Type, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return dst, exception.ErrMessageTooLarge
	}
	var hdr [HeaderSize]byte
	Header{Size: uint16(len(payload)), Type: t}.Put(hdr[:])
	dst = append(dst, hdr[:]...)
	return append(dst, payload...), nil
}

// Decode walks the messages of one datagram in order and calls fn for each.
// It stops at the first message whose declared size runs past the datagram;
// whole reports whether the datagram ended exactly on a message boundary.
// Payload slices alias datagram.
func Decode(datagram []byte, fn func(t Type, payload []byte)) (count int, whole bool) {
	i := 0
	for i+HeaderSize <= len(datagram) {
		h, _ := ParseHeader(datagram[i:])
		start := i + HeaderSize
		end := start + int(h.Size)
		if end > len(datagram) {
			return count, false
		}
		fn(h.Type, datagram[start:end:end])
		count++
		i = end
	}
	return count, i == len(datagram)
}

// nextBoundary returns the end of the longest run of whole messages in buf
// starting at 0 whose length stays within limit. A single message longer
// than limit is returned alone.
func nextBoundary(buf []byte, limit int) int {
	i := 0
	for i+HeaderSize <= len(buf) {
		h, _ := ParseHeader(buf[i:])
		end := i + HeaderSize + int(h.Size)
		if end > len(buf) {
			return len(buf)
		}
		if end > limit && i > 0 {
			return i
		}
		i = end
		if i >= limit {
			return i
		}
	}
	return len(buf)
}
