package stream

import (
	"rovernet/pkg/exception"
)

const (
	// HeaderSize is the encoded size of a FrameHeader.
	HeaderSize = 7
	// MaxStreams is the number of streams an int8 stream index can address.
	MaxStreams = 128
	// MaxSections is the largest section count a header can carry.
	MaxSections = 255
	// MaxOffset is the largest byte offset a 24-bit field can carry.
	MaxOffset = 1<<24 - 1
)

// FrameHeader prefixes every stream datagram:
// [i8 stream][u8 frame][u8 section][u8 count][u24 LE offset].
type FrameHeader struct {
	Stream  int8
	Frame   uint8
	Section uint8
	Count   uint8
	Offset  uint32
}

// Put writes the header into dst, which must hold HeaderSize bytes.
func (h FrameHeader) Put(dst []byte) {
	_ = dst[HeaderSize-1]
	dst[0] = byte(h.Stream)
	dst[1] = h.Frame
	dst[2] = h.Section
	dst[3] = h.Count
	dst[4] = byte(h.Offset)
	dst[5] = byte(h.Offset >> 8)
	dst[6] = byte(h.Offset >> 16)
}

// Valid reports whether the header describes a section that can exist.
func (h FrameHeader) Valid() bool {
	return h.Stream >= 0 && h.Count > 0 && h.Section < h.Count && h.Offset <= MaxOffset
}

// ParseFrameHeader decodes and validates the header at the start of src.
func ParseFrameHeader(src []byte) (FrameHeader, error) {
	if len(src) < HeaderSize {
		return FrameHeader{}, exception.ErrMalformedHeader
	}
	h := FrameHeader{
		Stream:  int8(src[0]),
		Frame:   src[1],
		Section: src[2],
		Count:   src[3],
		Offset:  uint32(src[4]) | uint32(src[5])<<8 | uint32(src[6])<<16,
	}
	if !h.Valid() {
		return h, exception.ErrMalformedHeader
	}
	return h, nil
}

// newer reports whether frame a comes after frame b, treating indices as a
// sequence that wraps at 256.
func newer(a, b uint8) bool {
	return int8(a-b) > 0
}
