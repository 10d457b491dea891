package messages

import (
	"time"

	"rovernet/internal/message"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/yanun0323/errors"
)

// LogLevel orders log lines.
type LogLevel uint8

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

func (l LogLevel) String() string {
	switch l {
	case LogDebug:
		return "debug"
	case LogInfo:
		return "info"
	case LogWarn:
		return "warn"
	case LogError:
		return "error"
	default:
		return "unknown"
	}
}

// Log is a log line forwarded from the rover to the base station console.
type Log struct {
	Level   LogLevel  `msgpack:"l"`
	Source  string    `msgpack:"s"`
	Message string    `msgpack:"m"`
	Time    time.Time `msgpack:"t"`
}

func (Log) MessageType() message.Type { return TypeLog }

func (l Log) AppendBinary(dst []byte) ([]byte, error) {
	return appendMsgpack(dst, &l)
}

func (l *Log) UnmarshalBinary(src []byte) error {
	if err := msgpack.Unmarshal(src, l); err != nil {
		return errors.Wrap(err, "decode log")
	}
	return nil
}

// Text is a free form chat line.
type Text struct {
	From string `msgpack:"f"`
	Body string `msgpack:"b"`
}

func (Text) MessageType() message.Type { return TypeString }

func (t Text) AppendBinary(dst []byte) ([]byte, error) {
	return appendMsgpack(dst, &t)
}

func (t *Text) UnmarshalBinary(src []byte) error {
	if err := msgpack.Unmarshal(src, t); err != nil {
		return errors.Wrap(err, "decode text")
	}
	return nil
}

func appendMsgpack(dst []byte, v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return dst, errors.Wrap(err, "encode msgpack")
	}
	return append(dst, b...), nil
}
