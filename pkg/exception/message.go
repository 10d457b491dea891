package exception

import "github.com/yanun0323/errors"

// Message channel errors
var (
	// ErrMessageTooLarge is returned when a payload does not fit the 16-bit length field.
	ErrMessageTooLarge = errors.New("message: payload too large")

	// ErrTypeOutOfRange is returned when a message type is reserved or past the registry limit.
	ErrTypeOutOfRange = errors.New("message: type out of range")

	// ErrRegistrySealed is returned when registering after the registry was handed to a receiver.
	ErrRegistrySealed = errors.New("message: registry sealed")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("message: nil handler")

	ErrAlreadyOpen = errors.New("receiver: already open")
)
