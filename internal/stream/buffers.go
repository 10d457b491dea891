package stream

import (
	"sync"
	"time"

	"rovernet/internal/obs"
)

type slotState uint8

const (
	slotIdle slotState = iota
	slotFilling
	slotComplete
	slotBorrowed
)

func (s slotState) String() string {
	switch s {
	case slotIdle:
		return "idle"
	case slotFilling:
		return "filling"
	case slotComplete:
		return "complete"
	case slotBorrowed:
		return "borrowed"
	default:
		return "unknown"
	}
}

type slot struct {
	data     []byte
	state    slotState
	frame    uint8
	count    uint8
	received int
	length   int
	seen     [4]uint64
	started  time.Time
}

func (s *slot) reset(frame, count uint8, now time.Time) {
	s.state = slotFilling
	s.frame = frame
	s.count = count
	s.received = 0
	s.length = 0
	s.seen = [4]uint64{}
	s.started = now
}

// mark records a section and reports whether it was new.
func (s *slot) mark(section uint8) bool {
	word, bit := section>>6, uint64(1)<<(section&63)
	if s.seen[word]&bit != 0 {
		return false
	}
	s.seen[word] |= bit
	return true
}

// streamBuffers is the rotating set of frame buffers of one stream.
// At most one slot is filling and at most one is complete at a time.
type streamBuffers struct {
	mu       sync.Mutex
	slots    []slot
	filling  int
	complete int
	cursor   int

	latest     uint8
	tracking   bool
	lastAccept time.Time
}

func newStreamBuffers(bufferSize, level int) *streamBuffers {
	b := &streamBuffers{
		slots:    make([]slot, level),
		filling:  -1,
		complete: -1,
	}
	for i := range b.slots {
		b.slots[i].data = make([]byte, bufferSize)
	}
	return b
}

func (b *streamBuffers) bufferSize() int {
	return len(b.slots[0].data)
}

// freeSlot picks the next idle slot round-robin, -1 when all are busy.
func (b *streamBuffers) freeSlot() int {
	for i := range b.slots {
		idx := (b.cursor + i) % len(b.slots)
		if b.slots[idx].state == slotIdle {
			b.cursor = idx + 1
			return idx
		}
	}
	return -1
}

// accept writes one section. It returns true with the assembly time when the
// section completed its frame.
func (b *streamBuffers) accept(h FrameHeader, payload []byte, now time.Time, resyncAfter time.Duration, m *obs.Metrics) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tracking && resyncAfter > 0 && now.Sub(b.lastAccept) > resyncAfter {
		b.tracking = false
		if b.filling >= 0 {
			b.slots[b.filling].state = slotIdle
			b.filling = -1
			m.IncFrameSuperseded()
		}
	}

	if b.filling >= 0 {
		cur := &b.slots[b.filling]
		switch {
		case h.Frame == cur.frame:
		case newer(h.Frame, cur.frame):
			m.IncFrameSuperseded()
			cur.reset(h.Frame, h.Count, now)
			b.latest = h.Frame
		default:
			m.IncStaleSection()
			return false, 0
		}
	} else {
		if b.tracking && !newer(h.Frame, b.latest) {
			m.IncStaleSection()
			return false, 0
		}
		idx := b.freeSlot()
		if idx < 0 {
			m.IncNoSlotSection()
			return false, 0
		}
		b.slots[idx].reset(h.Frame, h.Count, now)
		b.filling = idx
		b.latest = h.Frame
		b.tracking = true
	}

	s := &b.slots[b.filling]
	if h.Count != s.count {
		m.IncMalformedSection()
		return false, 0
	}
	b.lastAccept = now
	if !s.mark(h.Section) {
		return false, 0
	}
	end := int(h.Offset) + len(payload)
	copy(s.data[h.Offset:end], payload)
	s.received++
	if end > s.length {
		s.length = end
	}
	m.IncSectionReceived()
	if s.received < int(s.count) {
		return false, 0
	}

	s.state = slotComplete
	if b.complete >= 0 {
		b.slots[b.complete].state = slotIdle
	}
	b.complete = b.filling
	b.filling = -1
	return true, now.Sub(s.started)
}

// borrow hands out the latest complete slot.
func (b *streamBuffers) borrow() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.complete < 0 {
		return -1, false
	}
	idx := b.complete
	b.slots[idx].state = slotBorrowed
	b.complete = -1
	return idx, true
}

func (b *streamBuffers) giveBack(idx int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx >= 0 && idx < len(b.slots) && b.slots[idx].state == slotBorrowed {
		b.slots[idx].state = slotIdle
	}
}

// SlotStatus describes one frame buffer.
type SlotStatus struct {
	State    string `json:"state"`
	Frame    uint8  `json:"frame"`
	Received int    `json:"received"`
	Count    uint8  `json:"count"`
}

// Status describes the buffers of one stream.
type Status struct {
	Stream     int          `json:"stream"`
	Latest     uint8        `json:"latest"`
	Tracking   bool         `json:"tracking"`
	LastAccept time.Time    `json:"lastAccept"`
	Slots      []SlotStatus `json:"slots"`
}

func (b *streamBuffers) status(stream int) Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{
		Stream:     stream,
		Latest:     b.latest,
		Tracking:   b.tracking,
		LastAccept: b.lastAccept,
		Slots:      make([]SlotStatus, len(b.slots)),
	}
	for i, s := range b.slots {
		st.Slots[i] = SlotStatus{
			State:    s.state.String(),
			Frame:    s.frame,
			Received: s.received,
			Count:    s.count,
		}
	}
	return st
}
