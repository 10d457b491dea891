package netbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoubleBufferSwap(t *testing.T) {
	d := NewDoubleBuffer(4)

	copy(d.Reserve(3), "abc")
	copy(d.Reserve(2), "de")
	assert.Equal(t, 5, d.ActiveLen())
	assert.Empty(t, d.Locked())

	d.Swap()
	assert.Equal(t, "abcde", string(d.Locked()))
	assert.Zero(t, d.ActiveLen())

	copy(d.Reserve(1), "f")
	assert.Equal(t, 1, d.ActiveLen())
	assert.Equal(t, "abcde", string(d.Locked()), "writes to the active buffer must not touch the locked one")

	d.ResetLocked()
	assert.Empty(t, d.Locked())
	assert.Equal(t, 1, d.ActiveLen())

	d.Swap()
	assert.Equal(t, "f", string(d.Locked()))
	assert.Zero(t, d.ActiveLen())
}

func TestDoubleBufferGrowKeepsContent(t *testing.T) {
	d := NewDoubleBuffer(0)
	for i := 0; i < 1000; i++ {
		d.Reserve(1)[0] = byte(i)
	}
	require.Equal(t, 1000, d.ActiveLen())
	d.Swap()
	for i, b := range d.Locked() {
		if b != byte(i) {
			t.Fatalf("byte %d mismatch: got %d", i, b)
		}
	}
}

func TestBufferPool(t *testing.T) {
	p := NewBufferPool(32)
	assert.Nil(t, p.Get(0))
	assert.Nil(t, p.Get(33))

	buf := p.Get(10)
	require.Len(t, buf, 10)
	assert.Equal(t, 32, cap(buf))
	p.Put(buf)
	p.Put(make([]byte, 8))

	again := p.Get(32)
	assert.Len(t, again, 32)
}

func BenchmarkDoubleBufferReserve(b *testing.B) {
	d := NewDoubleBuffer(64 << 10)
	payload := make([]byte, 64)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		copy(d.Reserve(len(payload)), payload)
		if d.ActiveLen() > 60<<10 {
			d.Swap()
			d.ResetLocked()
		}
	}
}
