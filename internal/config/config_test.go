package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rovernet/pkg/exception"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 500*time.Millisecond, cfg.PeriodicInterval())
	assert.Equal(t, 2*time.Second, cfg.LinkTimeout())
	assert.Equal(t, 66*time.Millisecond, cfg.Video.FrameInterval())

	dest, err := cfg.VideoDestination()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("239.255.11.3:40002"), dest)

	cfg.Video.Multicast = false
	dest, err = cfg.VideoDestination()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("127.0.0.1:40002"), dest)

	cmd, err := cfg.VideoCommandDestination()
	require.NoError(t, err)
	assert.Equal(t, uint16(40003), cmd.Port())
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		desc   string
		mutate func(*Config)
		err    error
	}{
		{desc: "rover port", mutate: func(c *Config) { c.Rover.Port = 0 }, err: exception.ErrInvalidPort},
		{desc: "base station host", mutate: func(c *Config) { c.BaseStation.Host = "not an ip" }, err: exception.ErrInvalidDestination},
		{desc: "interface", mutate: func(c *Config) { c.Interface = "eth0" }, err: exception.ErrInvalidConfig},
		{desc: "unicast group", mutate: func(c *Config) { c.Video.Group = "10.0.0.1" }, err: exception.ErrInvalidMulticastGroup},
		{desc: "group ignored without multicast", mutate: func(c *Config) { c.Video.Multicast = false; c.Video.Group = "" }},
		{desc: "stream count", mutate: func(c *Config) { c.Video.Streams = 200 }, err: exception.ErrInvalidStreamCount},
		{desc: "section size", mutate: func(c *Config) { c.Video.MaxSectionSize = 70000 }, err: exception.ErrInvalidSectionSize},
		{desc: "buffer size", mutate: func(c *Config) { c.Video.BufferSize = 0 }, err: exception.ErrInvalidBufferSize},
		{desc: "single buffer level", mutate: func(c *Config) { c.Video.BufferLevel = 1 }, err: exception.ErrInvalidBufferLevel},
		{desc: "default buffer level", mutate: func(c *Config) { c.Video.BufferLevel = 0 }},
		{desc: "periodic interval", mutate: func(c *Config) { c.PeriodicIntervalMs = 0 }, err: exception.ErrInvalidConfig},
		{desc: "capture dir", mutate: func(c *Config) { c.Capture = Capture{Enabled: true} }, err: exception.ErrInvalidConfig},
		{desc: "chaos rate", mutate: func(c *Config) { c.Chaos.DropRate = 2 }, err: exception.ErrInvalidConfig},
		{desc: "archive interval", mutate: func(c *Config) { c.Archive.Enabled = true; c.Archive.IntervalMs = 0 }, err: exception.ErrInvalidConfig},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node: rover-1
baseStation:
  host: 192.168.1.10
video:
  streams: 4
chaos:
  dropRate: 0.25
  maxDelay: 5ms
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rover-1", cfg.Node)
	assert.Equal(t, "192.168.1.10", cfg.BaseStation.Host)
	assert.Equal(t, DefaultBaseStationPort, cfg.BaseStation.Port)
	assert.Equal(t, 4, cfg.Video.Streams)
	assert.Equal(t, 1024, cfg.Video.MaxSectionSize)
	assert.Equal(t, 0.25, cfg.Chaos.DropRate)
	assert.Equal(t, 5*time.Millisecond, cfg.Chaos.MaxDelay)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"node":"base","periodicIntervalMs":250,"video":{"multicast":false}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "base", cfg.Node)
	assert.Equal(t, 250*time.Millisecond, cfg.PeriodicInterval())
	assert.False(t, cfg.Video.Multicast)
	assert.Equal(t, DefaultVideoGroup, cfg.Video.Group)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	toml := filepath.Join(dir, "rover.toml")
	require.NoError(t, os.WriteFile(toml, []byte("node = 'x'"), 0o644))
	_, err = Load(toml)
	assert.ErrorIs(t, err, exception.ErrUnsupportedFormat)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("linkTimeoutMs: -1\n"), 0o644))
	_, err = Load(invalid)
	assert.ErrorIs(t, err, exception.ErrInvalidConfig)

	cfg, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestCaptureRecorderConfig(t *testing.T) {
	rc := Capture{Dir: "out", QueueSize: 16}.Recorder()
	assert.Equal(t, "out", rc.Dir)
	assert.Equal(t, 16, rc.QueueSize)
	assert.True(t, rc.CopyPayload)
	assert.NoError(t, rc.Validate())
}

func TestRuntimeWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rover.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node: before\n"), 0o644))
	initial, err := Load(path)
	require.NoError(t, err)

	rt := NewRuntime(initial)
	changed := make(chan [2]string, 1)
	go rt.Watch(t.Context(), path, 5*time.Millisecond, func(prev, next Config) {
		select {
		case changed <- [2]string{prev.Node, next.Node}:
		default:
		}
	})

	next := path + ".tmp"
	require.NoError(t, os.WriteFile(next, []byte("node: after\n"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(next, future, future))
	require.NoError(t, os.Rename(next, path))

	select {
	case got := <-changed:
		assert.Equal(t, [2]string{"before", "after"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("config change not observed")
	}
	assert.Equal(t, "after", rt.Load().Node)
}
