package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrShortPayload    = errors.New("payload shorter than encoded size")
	ErrInternal        = errors.New("internal error")
)
