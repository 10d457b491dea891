package recorder

import (
	"time"

	"rovernet/pkg/exception"

	"github.com/yanun0323/errors"
)

const (
	defaultSegmentMaxBytes int64 = 256 << 20
	defaultQueueSize             = 4096
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "capture"
	segmentSuffix                = ".rvc"
)

var defaultSegmentMaxDuration = 5 * time.Minute

// Config controls capture writer behavior.
type Config struct {
	Dir                string        `yaml:"dir" json:"dir"`
	SegmentMaxBytes    int64         `yaml:"segmentMaxBytes" json:"segmentMaxBytes"`
	SegmentMaxDuration time.Duration `yaml:"segmentMaxDuration" json:"segmentMaxDuration"`
	QueueSize          int           `yaml:"queueSize" json:"queueSize"`
	BufferSize         int           `yaml:"bufferSize" json:"bufferSize"`
	FilePrefix         string        `yaml:"filePrefix" json:"filePrefix"`
	FlushInterval      time.Duration `yaml:"flushInterval" json:"flushInterval"`
	SyncInterval       time.Duration `yaml:"syncInterval" json:"syncInterval"`
	CopyPayload        bool          `yaml:"copyPayload" json:"copyPayload"`
}

// DefaultConfig returns a baseline configuration for the capture writer.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:                dir,
		SegmentMaxBytes:    defaultSegmentMaxBytes,
		SegmentMaxDuration: defaultSegmentMaxDuration,
		QueueSize:          defaultQueueSize,
		BufferSize:         defaultBufferSize,
		FilePrefix:         defaultFilePrefix,
		FlushInterval:      time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.Wrap(exception.ErrCaptureInvalidConfig, "Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return errors.Wrap(exception.ErrCaptureInvalidConfig, "SegmentMaxBytes must be > 0")
	}
	if c.QueueSize <= 0 {
		return errors.Wrap(exception.ErrCaptureInvalidConfig, "QueueSize must be > 0")
	}
	if c.BufferSize <= 0 {
		return errors.Wrap(exception.ErrCaptureInvalidConfig, "BufferSize must be > 0")
	}
	if c.FilePrefix == "" {
		return errors.Wrap(exception.ErrCaptureInvalidConfig, "FilePrefix is empty")
	}
	if c.FlushInterval < 0 {
		return errors.Wrap(exception.ErrCaptureInvalidConfig, "FlushInterval must be >= 0")
	}
	if c.SyncInterval < 0 {
		return errors.Wrap(exception.ErrCaptureInvalidConfig, "SyncInterval must be >= 0")
	}
	return nil
}
