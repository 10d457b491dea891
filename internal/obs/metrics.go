package obs

import (
	"sync/atomic"
	"time"
)

// Metrics collects transport counters and latency stats.
// All methods are safe on a nil receiver.
type Metrics struct {
	datagramsIn  uint64
	datagramsOut uint64
	bytesIn      uint64
	bytesOut     uint64

	messagesSent       uint64
	messagesDispatched uint64
	unknownTypes       uint64
	malformed          uint64
	oversize           uint64
	disabledDrops      uint64
	sendErrors         uint64
	receiveErrors      uint64

	sectionsReceived uint64
	staleSections    uint64
	malformedSection uint64
	noSlotSections   uint64
	framesSent       uint64
	framesSuperseded uint64
	framesCompleted  uint64

	flushLatency    LatencyStats
	assemblyLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	DatagramsIn  uint64 `json:"datagramsIn"`
	DatagramsOut uint64 `json:"datagramsOut"`
	BytesIn      uint64 `json:"bytesIn"`
	BytesOut     uint64 `json:"bytesOut"`

	MessagesSent       uint64 `json:"messagesSent"`
	MessagesDispatched uint64 `json:"messagesDispatched"`
	UnknownTypes       uint64 `json:"unknownTypes"`
	Malformed          uint64 `json:"malformed"`
	Oversize           uint64 `json:"oversize"`
	DisabledDrops      uint64 `json:"disabledDrops"`
	SendErrors         uint64 `json:"sendErrors"`
	ReceiveErrors      uint64 `json:"receiveErrors"`

	SectionsReceived  uint64 `json:"sectionsReceived"`
	StaleSections     uint64 `json:"staleSections"`
	MalformedSections uint64 `json:"malformedSections"`
	NoSlotSections    uint64 `json:"noSlotSections"`
	FramesSent        uint64 `json:"framesSent"`
	FramesSuperseded  uint64 `json:"framesSuperseded"`
	FramesCompleted   uint64 `json:"framesCompleted"`

	FlushLatency    LatencySnapshot `json:"flushLatency"`
	AssemblyLatency LatencySnapshot `json:"assemblyLatency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveDatagramIn counts a received datagram of n bytes.
func (m *Metrics) ObserveDatagramIn(n int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.datagramsIn, 1)
	atomic.AddUint64(&m.bytesIn, uint64(n))
}

// ObserveDatagramOut counts a sent datagram of n bytes.
func (m *Metrics) ObserveDatagramOut(n int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.datagramsOut, 1)
	atomic.AddUint64(&m.bytesOut, uint64(n))
}

// IncMessageSent counts a message accepted into the send buffer.
func (m *Metrics) IncMessageSent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.messagesSent, 1)
}

// IncDispatched counts a message handed to a registered handler.
func (m *Metrics) IncDispatched() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.messagesDispatched, 1)
}

// IncUnknownType counts a message whose type has no handler.
func (m *Metrics) IncUnknownType() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.unknownTypes, 1)
}

// IncMalformed counts a datagram with a truncated trailing message.
func (m *Metrics) IncMalformed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.malformed, 1)
}

// IncOversize counts a payload rejected for size.
func (m *Metrics) IncOversize() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.oversize, 1)
}

// IncDisabledDrop counts a message dropped while sending was disabled.
func (m *Metrics) IncDisabledDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.disabledDrops, 1)
}

// IncSendError counts a failed socket write.
func (m *Metrics) IncSendError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sendErrors, 1)
}

// IncReceiveError counts a failed socket read.
func (m *Metrics) IncReceiveError() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.receiveErrors, 1)
}

// IncSectionReceived counts a stream section accepted into a frame buffer.
func (m *Metrics) IncSectionReceived() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sectionsReceived, 1)
}

// IncStaleSection counts a section from an older or finished frame.
func (m *Metrics) IncStaleSection() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.staleSections, 1)
}

// IncMalformedSection counts a section with a bad header or out-of-bounds payload.
func (m *Metrics) IncMalformedSection() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.malformedSection, 1)
}

// IncNoSlotSection counts a section dropped because every buffer was busy.
func (m *Metrics) IncNoSlotSection() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.noSlotSections, 1)
}

// IncFrameSent counts a frame handed to the socket.
func (m *Metrics) IncFrameSent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.framesSent, 1)
}

// IncFrameSuperseded counts a partial frame discarded for a newer one.
func (m *Metrics) IncFrameSuperseded() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.framesSuperseded, 1)
}

// ObserveFrameCompleted counts a reassembled frame and how long it took from first section.
func (m *Metrics) ObserveFrameCompleted(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.framesCompleted, 1)
	m.assemblyLatency.Observe(d)
}

// ObserveFlush measures one drain of the message send buffer.
func (m *Metrics) ObserveFlush(d time.Duration) {
	if m == nil {
		return
	}
	m.flushLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		DatagramsIn:        atomic.LoadUint64(&m.datagramsIn),
		DatagramsOut:       atomic.LoadUint64(&m.datagramsOut),
		BytesIn:            atomic.LoadUint64(&m.bytesIn),
		BytesOut:           atomic.LoadUint64(&m.bytesOut),
		MessagesSent:       atomic.LoadUint64(&m.messagesSent),
		MessagesDispatched: atomic.LoadUint64(&m.messagesDispatched),
		UnknownTypes:       atomic.LoadUint64(&m.unknownTypes),
		Malformed:          atomic.LoadUint64(&m.malformed),
		Oversize:           atomic.LoadUint64(&m.oversize),
		DisabledDrops:      atomic.LoadUint64(&m.disabledDrops),
		SendErrors:         atomic.LoadUint64(&m.sendErrors),
		ReceiveErrors:      atomic.LoadUint64(&m.receiveErrors),
		SectionsReceived:   atomic.LoadUint64(&m.sectionsReceived),
		StaleSections:      atomic.LoadUint64(&m.staleSections),
		MalformedSections:  atomic.LoadUint64(&m.malformedSection),
		NoSlotSections:     atomic.LoadUint64(&m.noSlotSections),
		FramesSent:         atomic.LoadUint64(&m.framesSent),
		FramesSuperseded:   atomic.LoadUint64(&m.framesSuperseded),
		FramesCompleted:    atomic.LoadUint64(&m.framesCompleted),
		FlushLatency:       m.flushLatency.Snapshot(),
		AssemblyLatency:    m.assemblyLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
