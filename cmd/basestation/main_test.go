package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rovernet/internal/stream"
	"rovernet/pkg/exception"
)

func TestParseStreams(t *testing.T) {
	ids, err := parseStreams("0, 3,,8")
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 3, 8}, ids)

	ids, err = parseStreams("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = parseStreams("128")
	assert.Error(t, err)
	_, err = parseStreams("x")
	assert.Error(t, err)
}

func TestViewerTakesAndDumpsFrames(t *testing.T) {
	r := stream.NewReceiver(nil)
	require.NoError(t, r.CreateStreams(2, 1024, 2))
	dir := t.TempDir()
	v := newViewer(r, dir)

	require.NoError(t, v.take(1))
	assert.Empty(t, v.stats)

	payload := []byte("jpeg bytes")
	require.True(t, r.HandleSection(stream.FrameHeader{Stream: 1, Frame: 4, Count: 1}, payload))
	require.NoError(t, v.take(1))

	require.Contains(t, v.stats, 1)
	assert.EqualValues(t, 1, v.stats[1].frames)
	assert.EqualValues(t, len(payload), v.stats[1].bytes)
	assert.EqualValues(t, 4, v.stats[1].lastIndex)

	got, err := os.ReadFile(filepath.Join(dir, "stream-1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	err = v.take(5)
	assert.ErrorIs(t, err, exception.ErrStreamNotFound)

	v.report()
	assert.Zero(t, v.stats[1].frames)
}
