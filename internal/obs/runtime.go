package obs

import (
	"runtime"
	"strconv"
	"time"

	"github.com/yanun0323/logs"
)

// RuntimeReporter logs heap and GC deltas between two samples.
type RuntimeReporter struct {
	buf        [1024]byte
	prev, curr runtime.MemStats
	prevAt     time.Time
	currAt     time.Time
}

// Sample reads the current memory stats and keeps the previous ones for deltas.
func (m *RuntimeReporter) Sample() {
	m.prev, m.curr = m.curr, m.prev
	m.prevAt = m.currAt
	m.currAt = time.Now()

	runtime.ReadMemStats(&m.curr)

	if m.prevAt.IsZero() {
		m.prevAt = m.currAt
	}
}

// Line renders the latest sample.
func (m *RuntimeReporter) Line() string {
	line := m.buf[:0]

	dt := m.currAt.Sub(m.prevAt).Seconds()
	if dt <= 0 {
		dt = 1
	}

	line = append(line, "[HEAP] alc="...)
	b, unit := bytesCarry(m.curr.HeapAlloc)
	line = strconv.AppendUint(line, b, 10)
	line = append(line, unit...)

	line = append(line, " inuse="...)
	b, unit = bytesCarry(m.curr.HeapInuse)
	line = strconv.AppendUint(line, b, 10)
	line = append(line, unit...)

	line = append(line, " object="...)
	line = strconv.AppendUint(line, m.curr.HeapObjects, 10)

	line = append(line, " alc_rate="...)
	rate := float64(m.curr.TotalAlloc-m.prev.TotalAlloc) / dt
	line = strconv.AppendFloat(line, rate/1024, 'f', 2, 64)
	line = append(line, "KB/s"...)

	line = append(line, " [GC] times="...)
	line = strconv.AppendUint(line, uint64(m.curr.NumGC-m.prev.NumGC), 10)

	line = append(line, " stw="...)
	stwMs := float64(m.curr.PauseTotalNs-m.prev.PauseTotalNs) / 1_000_000.0
	line = strconv.AppendFloat(line, stwMs, 'f', 4, 64)
	line = append(line, "ms"...)

	line = append(line, " goroutines="...)
	line = strconv.AppendInt(line, int64(runtime.NumGoroutine()), 10)

	return string(line)
}

// Report samples and logs one line.
func (m *RuntimeReporter) Report() {
	m.Sample()
	logs.Info(m.Line())
}

func bytesCarry(n uint64) (uint64, string) {
	switch {
	case n >= 1<<30:
		return n >> 30, "GB"
	case n >= 1<<20:
		return n >> 20, "MB"
	case n >= 1<<10:
		return n >> 10, "KB"
	default:
		return n, "B"
	}
}
