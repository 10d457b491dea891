package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"net/netip"
	"time"

	"rovernet/pkg/exception"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 48
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'R', 'V', 'C', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

// Channel tells which socket a datagram went through.
type Channel uint16

const (
	ChannelUnknown Channel = iota
	ChannelMessage
	ChannelStream
)

func (c Channel) String() string {
	switch c {
	case ChannelMessage:
		return "message"
	case ChannelStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Record flags
const (
	FlagOutbound uint16 = 1 << iota
)

// Record describes one captured datagram.
type Record struct {
	Channel Channel
	Flags   uint16
	Time    time.Time
	Remote  netip.AddrPort
	Seq     uint32
}

// Outbound reports whether the datagram was sent rather than received.
func (r Record) Outbound() bool {
	return r.Flags&FlagOutbound != 0
}

func encodeHeader(dst []byte, rec Record, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(rec.Channel))
	binary.LittleEndian.PutUint16(dst[10:12], rec.Flags)
	var ts int64
	if !rec.Time.IsZero() {
		ts = rec.Time.UnixNano()
	}
	binary.LittleEndian.PutUint64(dst[12:20], uint64(ts))
	clear(dst[20:36])
	var port uint16
	if rec.Remote.IsValid() {
		addr := rec.Remote.Addr().As16()
		copy(dst[20:36], addr[:])
		port = rec.Remote.Port()
	}
	binary.LittleEndian.PutUint16(dst[36:38], port)
	binary.LittleEndian.PutUint16(dst[38:40], 0)
	binary.LittleEndian.PutUint32(dst[40:44], uint32(payloadLen))
	binary.LittleEndian.PutUint32(dst[44:48], rec.Seq)
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeRecordHeader(src []byte) (Record, uint32, error) {
	if len(src) < recordHeaderSize {
		return Record{}, 0, exception.ErrCaptureHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return Record{}, 0, exception.ErrCaptureMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return Record{}, 0, exception.ErrCaptureVersion
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return Record{}, 0, exception.ErrCaptureHeaderSize
	}

	rec := Record{
		Channel: Channel(binary.LittleEndian.Uint16(src[8:10])),
		Flags:   binary.LittleEndian.Uint16(src[10:12]),
		Seq:     binary.LittleEndian.Uint32(src[44:48]),
	}
	if ts := int64(binary.LittleEndian.Uint64(src[12:20])); ts != 0 {
		rec.Time = time.Unix(0, ts).UTC()
	}
	if port := binary.LittleEndian.Uint16(src[36:38]); port != 0 {
		var raw [16]byte
		copy(raw[:], src[20:36])
		rec.Remote = netip.AddrPortFrom(netip.AddrFrom16(raw).Unmap(), port)
	}
	return rec, binary.LittleEndian.Uint32(src[40:44]), nil
}
