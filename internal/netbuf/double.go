package netbuf

// DoubleBuffer holds two byte buffers: the active one collects writes while the
// locked one is being drained. It does no locking of its own; the owner guards
// it together with whatever marks a drain as in flight.
type DoubleBuffer struct {
	bufs   [2][]byte
	active int
}

// NewDoubleBuffer preallocates both buffers with the given capacity.
func NewDoubleBuffer(capacity int) *DoubleBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &DoubleBuffer{
		bufs: [2][]byte{
			make([]byte, 0, capacity),
			make([]byte, 0, capacity),
		},
	}
}

// Reserve extends the active buffer by n bytes and returns the new block.
func (d *DoubleBuffer) Reserve(n int) []byte {
	buf := d.bufs[d.active]
	start := len(buf)
	if cap(buf)-start < n {
		grown := make([]byte, start, 2*cap(buf)+n)
		copy(grown, buf)
		buf = grown
	}
	buf = buf[:start+n]
	d.bufs[d.active] = buf
	return buf[start : start+n]
}

// Swap makes the active buffer the locked one and starts collecting into the other.
func (d *DoubleBuffer) Swap() {
	d.active ^= 1
}

// ActiveLen returns the usage of the active buffer.
func (d *DoubleBuffer) ActiveLen() int {
	return len(d.bufs[d.active])
}

// Locked returns the buffer handed out by the last swap.
func (d *DoubleBuffer) Locked() []byte {
	return d.bufs[d.active^1]
}

// ResetLocked clears the locked buffer while keeping its capacity.
func (d *DoubleBuffer) ResetLocked() {
	d.bufs[d.active^1] = d.bufs[d.active^1][:0]
}
