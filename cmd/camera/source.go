package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yanun0323/errors"
)

const (
	patternBaseSize = 48 << 10
	patternMinSize  = 512
)

// streamState is what the base station asked of one stream.
type streamState struct {
	enabled   bool
	quality   uint8
	greyscale bool
}

// frameSource produces the next encoded frame of a stream.
type frameSource interface {
	next(stream int, st streamState) []byte
}

// patternSource makes frames whose size follows the requested quality. The
// first bytes carry the stream and a counter so receivers can check ordering.
type patternSource struct {
	counters map[int]uint32
}

func newPatternSource() *patternSource {
	return &patternSource{counters: make(map[int]uint32)}
}

func (p *patternSource) next(stream int, st streamState) []byte {
	size := patternBaseSize * int(st.quality) / 100
	if st.greyscale {
		size /= 3
	}
	if size < patternMinSize {
		size = patternMinSize
	}
	frame := make([]byte, size)
	seq := p.counters[stream]
	p.counters[stream] = seq + 1

	binary.LittleEndian.PutUint16(frame[0:2], uint16(stream))
	binary.LittleEndian.PutUint32(frame[2:6], seq)
	for i := 6; i < len(frame); i++ {
		frame[i] = byte(i) ^ byte(seq)
	}
	return frame
}

// fileSource cycles through the JPEG files of a directory.
type fileSource struct {
	frames [][]byte
	cursor  map[int]int
}

func loadFileSource(dir string) (*fileSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read frames dir").With("dir", dir)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".jpg" || ext == ".jpeg") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no jpeg files in %s", dir)
	}
	sort.Strings(names)

	src := &fileSource{cursor: make(map[int]int)}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrap(err, "read frame").With("file", name)
		}
		src.frames = append(src.frames, data)
	}
	return src, nil
}

func (f *fileSource) next(stream int, _ streamState) []byte {
	i := f.cursor[stream]
	f.cursor[stream] = (i + 1) % len(f.frames)
	return f.frames[i]
}
