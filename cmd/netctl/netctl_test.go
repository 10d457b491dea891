package main

import (
	"bytes"
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rovernet/internal/config"
	"rovernet/internal/message"
	"rovernet/internal/messages"
	"rovernet/internal/recorder"
	"rovernet/internal/stream"
	"rovernet/pkg/exception"
	"rovernet/pkg/udp"
)

func TestRTTRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	ready := make(chan uint16, 1)
	done := make(chan error, 1)
	go func() { done <- serveRTT(ctx, 0, func(p uint16) { ready <- p }) }()

	var port uint16
	select {
	case port = <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not start")
	}

	var out bytes.Buffer
	stats, err := runRTTClient(ctx, &out, udp.Loopback(port), 0, 3, 2*time.Second)
	require.NoError(t, err)
	s := stats.Snapshot()
	assert.EqualValues(t, 3, s.Count)
	assert.Contains(t, out.String(), "probe 3:")

	cancel()
	require.NoError(t, <-done)
}

func TestRTTClientTimesOut(t *testing.T) {
	silent, err := udp.Listen(t.Context(), udp.Options{Address: "127.0.0.1"})
	require.NoError(t, err)
	defer silent.Close()

	var out bytes.Buffer
	stats, err := runRTTClient(t.Context(), &out, udp.Loopback(udp.LocalPort(silent)), 0, 1, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, stats.Snapshot().Count)
	assert.Contains(t, out.String(), "timeout")

	_, err = runRTTClient(t.Context(), &out, udp.Loopback(1), 0, 0, time.Second)
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestSendText(t *testing.T) {
	cfg = config.Default()
	peer, err := udp.Listen(t.Context(), udp.Options{Address: "127.0.0.1"})
	require.NoError(t, err)
	defer peer.Close()

	dest, err := resolveDestination(udp.Loopback(udp.LocalPort(peer)).String())
	require.NoError(t, err)
	require.NoError(t, sendText(t.Context(), dest, messages.Text{From: "test", Body: "hello rover"}))

	require.NoError(t, peer.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1500)
	n, _, err := peer.ReadFromUDPAddrPort(buf)
	require.NoError(t, err)

	var got messages.Text
	count, whole := message.Decode(buf[:n], func(typ message.Type, payload []byte) {
		assert.Equal(t, messages.TypeString, typ)
		require.NoError(t, got.UnmarshalBinary(payload))
	})
	assert.Equal(t, 1, count)
	assert.True(t, whole)
	assert.Equal(t, messages.Text{From: "test", Body: "hello rover"}, got)

	framed, err := frameMessage(got)
	require.NoError(t, err)
	assert.Equal(t, buf[:n], framed, "--dump prints the bytes the sender puts on the wire")
}

func TestResolveDestinationDefaultsToRover(t *testing.T) {
	cfg = config.Default()
	dest, err := resolveDestination("")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:40000"), dest)

	_, err = resolveDestination("nope")
	assert.Error(t, err)
}

func TestParseChannel(t *testing.T) {
	for in, want := range map[string]recorder.Channel{
		"":        recorder.ChannelUnknown,
		"all":     recorder.ChannelUnknown,
		"Message": recorder.ChannelMessage,
		"stream":  recorder.ChannelStream,
	} {
		got, err := parseChannel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseChannel("video")
	assert.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestReplayDecode(t *testing.T) {
	cfg = config.Default()
	dir := t.TempDir()
	w, err := recorder.NewWriter(recorder.DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.Start(t.Context()))

	peer := netip.MustParseAddrPort("10.0.0.2:40001")
	dgram, err := message.Append(nil, messages.TypeDriveHalt, []byte{1})
	require.NoError(t, err)
	dgram, err = message.Append(dgram, messages.TypeDriveMode, []byte{2})
	require.NoError(t, err)
	require.NoError(t, w.TryAppend(recorder.Record{Channel: recorder.ChannelMessage, Remote: peer}, dgram))

	for i := uint8(0); i < 2; i++ {
		section := make([]byte, stream.HeaderSize+4)
		stream.FrameHeader{Stream: 0, Frame: 1, Section: i, Count: 2, Offset: uint32(i) * 4}.Put(section)
		require.NoError(t, w.TryAppend(recorder.Record{Channel: recorder.ChannelStream, Remote: peer}, section))
	}
	require.NoError(t, w.Close())

	var out bytes.Buffer
	require.NoError(t, replayDecode(t.Context(), &out, recorder.PlaybackConfig{Dir: dir}))
	text := out.String()
	assert.Contains(t, text, "drive_halt")
	assert.Contains(t, text, "drive_mode")
	assert.Contains(t, text, "3 datagrams, 2 messages, 0 malformed, 2 stream sections")
	assert.Contains(t, text, "stream 0: 1 complete frames")
}
