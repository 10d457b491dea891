package netbuf

import (
	"sync"
)

// BufferPool recycles fixed-capacity datagram buffers.
type BufferPool struct {
	size int
	pool *sync.Pool
}

// NewBufferPool creates a pool whose buffers have capacity size.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = 64 << 10
	}
	return &BufferPool{
		size: size,
		pool: &sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

// Get returns a buffer with length n, or nil when n exceeds the pool size.
func (p *BufferPool) Get(n int) []byte {
	if n <= 0 || n > p.size {
		return nil
	}
	buf := *(p.pool.Get().(*[]byte))
	return buf[:n]
}

// Put hands a buffer back. Buffers of a foreign capacity are dropped.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:cap(buf)]
	p.pool.Put(&buf)
}
