package stream

import "sync"

// Frame is a completed frame borrowed from a stream's buffers. Until Release
// is called the stream will not write into it. Bytes must not be used after
// Release.
type Frame struct {
	Stream   int
	Index    uint8
	Sections uint8

	data    []byte
	owner   *streamBuffers
	slot    int
	release sync.Once
}

// Bytes returns the frame content.
func (f *Frame) Bytes() []byte {
	if f == nil {
		return nil
	}
	return f.data
}

// Len returns the frame size in bytes.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.data)
}

// Release hands the buffer back to the stream. It is safe to call more than once.
func (f *Frame) Release() {
	if f == nil {
		return
	}
	f.release.Do(func() {
		f.owner.giveBack(f.slot)
		f.data = nil
	})
}
