package exception

import "github.com/yanun0323/errors"

// Stream channel errors
var (
	// ErrStreamNotFound is returned for a stream index that is negative, past the created count,
	// or when no streams exist.
	ErrStreamNotFound = errors.New("stream: not found")

	// ErrFrameNotReady is returned when a stream has no complete, unconsumed frame.
	ErrFrameNotReady = errors.New("stream: frame not ready")

	// ErrFrameTooLarge is returned when a frame needs more than 255 sections or 24-bit offsets.
	ErrFrameTooLarge = errors.New("stream: frame too large")

	ErrInvalidStreamCount = errors.New("stream: invalid stream count")
	ErrInvalidBufferLevel = errors.New("stream: invalid buffer level")
	ErrInvalidBufferSize  = errors.New("stream: invalid buffer size")
	ErrInvalidSectionSize = errors.New("stream: invalid max section size")
	ErrMalformedHeader    = errors.New("stream: malformed frame header")
)
