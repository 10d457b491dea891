package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rovernet/internal/chaos"
	"rovernet/internal/recorder"
	"rovernet/internal/stream"
	"rovernet/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"
)

// Well known ports of the rover network.
const (
	DefaultRoverPort        uint16 = 40000
	DefaultBaseStationPort  uint16 = 40001
	DefaultVideoPort        uint16 = 40002
	DefaultVideoCommandPort uint16 = 40003
	DefaultRTTPort          uint16 = 40005
	DefaultRTTReplyPort     uint16 = 40006

	DefaultVideoGroup = "239.255.11.3"
)

// Config is the file layout shared by every node.
type Config struct {
	Node      string `yaml:"node" json:"node"`
	Interface string `yaml:"interface" json:"interface"`

	Rover       Endpoint `yaml:"rover" json:"rover"`
	BaseStation Endpoint `yaml:"baseStation" json:"baseStation"`
	Video       Video    `yaml:"video" json:"video"`

	PeriodicIntervalMs int `yaml:"periodicIntervalMs" json:"periodicIntervalMs"`
	LinkTimeoutMs      int `yaml:"linkTimeoutMs" json:"linkTimeoutMs"`

	Capture   Capture      `yaml:"capture" json:"capture"`
	Chaos     chaos.Config `yaml:"chaos" json:"chaos"`
	Archive   Archive      `yaml:"archive" json:"archive"`
	Status    Status       `yaml:"status" json:"status"`
	Profiling Profiling    `yaml:"profiling" json:"profiling"`
}

// Endpoint is a host and port a node listens on and peers send to.
type Endpoint struct {
	Host string `yaml:"host" json:"host"`
	Port uint16 `yaml:"port" json:"port"`
}

// AddrPort resolves the endpoint.
func (e Endpoint) AddrPort() (netip.AddrPort, error) {
	if e.Port == 0 {
		return netip.AddrPort{}, errors.Wrapf(exception.ErrInvalidPort, "endpoint %s", e.Host)
	}
	addr, err := netip.ParseAddr(e.Host)
	if err != nil {
		return netip.AddrPort{}, errors.Wrap(exception.ErrInvalidDestination, e.Host)
	}
	return netip.AddrPortFrom(addr.Unmap(), e.Port), nil
}

// Video configures the frame streams between camera and base station.
type Video struct {
	Multicast       bool   `yaml:"multicast" json:"multicast"`
	Group           string `yaml:"group" json:"group"`
	Port            uint16 `yaml:"port" json:"port"`
	CameraHost      string `yaml:"cameraHost" json:"cameraHost"`
	CommandPort     uint16 `yaml:"commandPort" json:"commandPort"`
	Streams         int    `yaml:"streams" json:"streams"`
	MaxSectionSize  int    `yaml:"maxSectionSize" json:"maxSectionSize"`
	BufferSize      int    `yaml:"bufferSize" json:"bufferSize"`
	BufferLevel     int    `yaml:"bufferLevel" json:"bufferLevel"`
	FrameIntervalMs int    `yaml:"frameIntervalMs" json:"frameIntervalMs"`
}

// Capture enables datagram capture.
type Capture struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Dir             string `yaml:"dir" json:"dir"`
	SegmentMaxBytes int64  `yaml:"segmentMaxBytes" json:"segmentMaxBytes"`
	QueueSize       int    `yaml:"queueSize" json:"queueSize"`
}

// Recorder converts the section into a capture writer config.
func (c Capture) Recorder() recorder.Config {
	cfg := recorder.DefaultConfig(c.Dir)
	if c.SegmentMaxBytes > 0 {
		cfg.SegmentMaxBytes = c.SegmentMaxBytes
	}
	if c.QueueSize > 0 {
		cfg.QueueSize = c.QueueSize
	}
	cfg.CopyPayload = true
	return cfg
}

// Archive configures the postgres telemetry archive.
type Archive struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	User       string `yaml:"user" json:"user"`
	Password   string `yaml:"password" json:"password"`
	Database   string `yaml:"database" json:"database"`
	IntervalMs int    `yaml:"intervalMs" json:"intervalMs"`
}

// Status configures the HTTP status endpoint. An empty Addr disables it.
type Status struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Profiling configures continuous profiling.
type Profiling struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ServerAddress string `yaml:"serverAddress" json:"serverAddress"`
	AppName       string `yaml:"appName" json:"appName"`
}

// Default returns the configuration the rover network ships with.
func Default() Config {
	return Config{
		Node:        "rover",
		Interface:   "0.0.0.0",
		Rover:       Endpoint{Host: "127.0.0.1", Port: DefaultRoverPort},
		BaseStation: Endpoint{Host: "127.0.0.1", Port: DefaultBaseStationPort},
		Video: Video{
			Multicast:       true,
			Group:           DefaultVideoGroup,
			Port:            DefaultVideoPort,
			CameraHost:      "127.0.0.1",
			CommandPort:     DefaultVideoCommandPort,
			Streams:         9,
			MaxSectionSize:  1024,
			BufferSize:      4 << 20,
			BufferLevel:     stream.DefaultBufferLevel,
			FrameIntervalMs: 1000 / 15,
		},
		PeriodicIntervalMs: 500,
		LinkTimeoutMs:      2000,
		Capture:            Capture{Dir: "capture"},
		Archive: Archive{
			Host:       "localhost",
			Port:       5432,
			User:       "postgres",
			Database:   "rover",
			IntervalMs: 5000,
		},
		Profiling: Profiling{
			ServerAddress: "http://localhost:4040",
			AppName:       "rovernet",
		},
	}
}

// PeriodicInterval is the heartbeat and status broadcast period.
func (c Config) PeriodicInterval() time.Duration {
	return time.Duration(c.PeriodicIntervalMs) * time.Millisecond
}

// LinkTimeout is how long a link may stay silent before it counts as lost.
func (c Config) LinkTimeout() time.Duration {
	return time.Duration(c.LinkTimeoutMs) * time.Millisecond
}

// FrameInterval is the camera capture period.
func (v Video) FrameInterval() time.Duration {
	return time.Duration(v.FrameIntervalMs) * time.Millisecond
}

// VideoDestination is where stream sections are sent: the group when multicast
// is on, the base station otherwise.
func (c Config) VideoDestination() (netip.AddrPort, error) {
	host := c.BaseStation.Host
	if c.Video.Multicast {
		host = c.Video.Group
	}
	return Endpoint{Host: host, Port: c.Video.Port}.AddrPort()
}

// VideoCommandDestination is the camera's command socket.
func (c Config) VideoCommandDestination() (netip.AddrPort, error) {
	return Endpoint{Host: c.Video.CameraHost, Port: c.Video.CommandPort}.AddrPort()
}

// Validate checks every section.
func (c Config) Validate() error {
	if _, err := c.Rover.AddrPort(); err != nil {
		return errors.Wrap(err, "rover")
	}
	if _, err := c.BaseStation.AddrPort(); err != nil {
		return errors.Wrap(err, "baseStation")
	}
	if c.Interface != "" {
		if _, err := netip.ParseAddr(c.Interface); err != nil {
			return errors.Wrapf(exception.ErrInvalidConfig, "interface %q", c.Interface)
		}
	}
	if err := c.Video.validate(); err != nil {
		return err
	}
	if c.PeriodicIntervalMs <= 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "periodicIntervalMs must be > 0")
	}
	if c.LinkTimeoutMs <= 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "linkTimeoutMs must be > 0")
	}
	if c.Capture.Enabled && c.Capture.Dir == "" {
		return errors.Wrap(exception.ErrInvalidConfig, "capture.dir is empty")
	}
	if err := c.Chaos.Validate(); err != nil {
		return err
	}
	if c.Archive.Enabled {
		if c.Archive.Host == "" || c.Archive.Database == "" {
			return errors.Wrap(exception.ErrInvalidConfig, "archive needs host and database")
		}
		if c.Archive.IntervalMs <= 0 {
			return errors.Wrap(exception.ErrInvalidConfig, "archive.intervalMs must be > 0")
		}
	}
	if c.Profiling.Enabled && c.Profiling.ServerAddress == "" {
		return errors.Wrap(exception.ErrInvalidConfig, "profiling.serverAddress is empty")
	}
	return nil
}

func (v Video) validate() error {
	if v.Port == 0 || v.CommandPort == 0 {
		return errors.Wrap(exception.ErrInvalidPort, "video")
	}
	if v.Multicast {
		group, err := netip.ParseAddr(v.Group)
		if err != nil || !group.Is4() || !group.IsMulticast() {
			return errors.Wrapf(exception.ErrInvalidMulticastGroup, "group %q", v.Group)
		}
	}
	if v.Streams <= 0 || v.Streams > stream.MaxStreams {
		return errors.Wrapf(exception.ErrInvalidStreamCount, "streams: %d", v.Streams)
	}
	if v.MaxSectionSize <= 0 || v.MaxSectionSize > stream.MaxSectionSize {
		return errors.Wrapf(exception.ErrInvalidSectionSize, "maxSectionSize: %d", v.MaxSectionSize)
	}
	if v.BufferSize <= 0 || v.BufferSize > stream.MaxOffset+1 {
		return errors.Wrapf(exception.ErrInvalidBufferSize, "bufferSize: %d", v.BufferSize)
	}
	if v.BufferLevel == 1 || v.BufferLevel < 0 {
		return errors.Wrapf(exception.ErrInvalidBufferLevel, "bufferLevel: %d", v.BufferLevel)
	}
	if v.FrameIntervalMs <= 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "video.frameIntervalMs must be > 0")
	}
	return nil
}

// Load reads a YAML or JSON file over the defaults and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config").With("path", path)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrap(err, "decode yaml config").With("path", path)
		}
	case ".json":
		if err := sonic.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrap(err, "decode json config").With("path", path)
		}
	default:
		return Config{}, errors.Wrapf(exception.ErrUnsupportedFormat, "path %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads path, or returns the validated defaults when path is empty.
func LoadOrDefault(path string) (Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(path)
}
