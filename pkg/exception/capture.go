package exception

import "github.com/yanun0323/errors"

// Capture errors
var (
	ErrCaptureQueueFull     = errors.New("capture: queue full")
	ErrCaptureClosed        = errors.New("capture: writer closed")
	ErrCaptureNotStarted    = errors.New("capture: writer not started")
	ErrCaptureStarted       = errors.New("capture: writer already started")
	ErrCapturePayload       = errors.New("capture: payload too large")
	ErrCaptureMagic         = errors.New("capture: invalid magic")
	ErrCaptureVersion       = errors.New("capture: unsupported record version")
	ErrCaptureHeaderSize    = errors.New("capture: invalid header size")
	ErrCaptureChecksum      = errors.New("capture: checksum mismatch")
	ErrCaptureInvalidConfig = errors.New("capture: invalid config")
)

// Configuration errors
var (
	ErrInvalidConfig     = errors.New("config: invalid")
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
)
