package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"rovernet/internal/stream"
	"rovernet/pkg/exception"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// frameSource is the part of a stream receiver the viewer reads from.
type frameSource interface {
	GetCompleteFrame(stream int) (*stream.Frame, error)
}

type streamStats struct {
	frames    uint64
	bytes     uint64
	lastIndex uint8
	last      time.Time
}

// viewer drains completed frames. It runs on the loop.
type viewer struct {
	src     frameSource
	dumpDir string
	stats   map[int]*streamStats
	since   time.Time
}

func newViewer(src frameSource, dumpDir string) *viewer {
	return &viewer{
		src:     src,
		dumpDir: dumpDir,
		stats:   make(map[int]*streamStats),
		since:   time.Now(),
	}
}

// take borrows the latest frame of a stream. A frame already taken by an
// earlier notification is not an error.
func (v *viewer) take(id int) error {
	frame, err := v.src.GetCompleteFrame(id)
	if err != nil {
		if errors.Is(err, exception.ErrFrameNotReady) {
			return nil
		}
		return errors.Wrapf(err, "stream %d", id)
	}
	defer frame.Release()

	st := v.stats[id]
	if st == nil {
		st = &streamStats{}
		v.stats[id] = st
	}
	st.frames++
	st.bytes += uint64(frame.Len())
	st.lastIndex = frame.Index
	st.last = time.Now()

	if v.dumpDir != "" {
		path := filepath.Join(v.dumpDir, fmt.Sprintf("stream-%d.jpg", id))
		if err := os.WriteFile(path, frame.Bytes(), 0o644); err != nil {
			return errors.Wrap(err, "dump frame").With("path", path)
		}
	}
	return nil
}

// report logs frame rates since the previous report and resets the counters.
func (v *viewer) report() {
	elapsed := time.Since(v.since).Seconds()
	v.since = time.Now()
	if elapsed <= 0 {
		return
	}
	for id, st := range v.stats {
		if st.frames == 0 {
			continue
		}
		logs.Infof("basestation: stream %d %.1f fps %.1f KiB/s last frame %d",
			id, float64(st.frames)/elapsed, float64(st.bytes)/1024/elapsed, st.lastIndex)
		st.frames, st.bytes = 0, 0
	}
}
