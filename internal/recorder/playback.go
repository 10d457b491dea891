package recorder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"rovernet/pkg/exception"

	"github.com/yanun0323/errors"
)

// PlaybackConfig controls capture playback behavior.
type PlaybackConfig struct {
	Dir             string
	FilePrefix      string
	Speed           float64
	Channel         Channel
	InboundOnly     bool
	DisableChecksum bool
	MaxPayloadSize  int
}

// Clock allows deterministic playback control.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Playback replays captured datagrams in file order.
type Playback struct {
	cfg   PlaybackConfig
	clock Clock
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg, clock: realClock{}}, nil
}

// WithClock swaps the clock implementation.
func (p *Playback) WithClock(clock Clock) *Playback {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Run replays records and calls handler for each one that passes the
// channel and direction filters. Speed 0 replays as fast as possible.
func (p *Playback) Run(ctx context.Context, handler func(Record, []byte) error) (int, error) {
	if handler == nil {
		return 0, errors.Wrap(exception.ErrCaptureInvalidConfig, "playback handler is nil")
	}
	files, err := p.collectFiles()
	if err != nil {
		return 0, err
	}

	var (
		prev  time.Time
		count int
	)
	for _, path := range files {
		if err := p.playFile(ctx, path, handler, &prev, &count); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	if c.Dir == "" {
		return errors.Wrap(exception.ErrCaptureInvalidConfig, "Dir is empty")
	}
	if c.Speed < 0 {
		return errors.Wrap(exception.ErrCaptureInvalidConfig, "Speed must be >= 0")
	}
	if c.MaxPayloadSize < 0 {
		return errors.Wrap(exception.ErrCaptureInvalidConfig, "MaxPayloadSize must be >= 0")
	}
	return nil
}

func (p *Playback) collectFiles() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "read capture dir").With("dir", p.cfg.Dir)
	}
	prefix := p.cfg.FilePrefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		files = append(files, filepath.Join(p.cfg.Dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func (p *Playback) accept(rec Record) bool {
	if p.cfg.Channel != ChannelUnknown && rec.Channel != p.cfg.Channel {
		return false
	}
	if p.cfg.InboundOnly && rec.Outbound() {
		return false
	}
	return true
}

func (p *Playback) playFile(ctx context.Context, path string, handler func(Record, []byte) error, prev *time.Time, count *int) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open capture segment").With("path", path)
	}
	defer file.Close()

	reader := NewReader(file, ReaderOptions{
		DisableChecksum: p.cfg.DisableChecksum,
		MaxPayloadSize:  p.cfg.MaxPayloadSize,
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, payload, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrapf(err, "read %s", path)
		}
		if !p.accept(rec) {
			continue
		}

		if err := p.pace(ctx, rec, prev); err != nil {
			return err
		}
		if err := handler(rec, payload); err != nil {
			return err
		}
		*count++
	}
}

func (p *Playback) pace(ctx context.Context, rec Record, prev *time.Time) error {
	if p.cfg.Speed <= 0 || rec.Time.IsZero() {
		return nil
	}
	if !prev.IsZero() {
		if delta := rec.Time.Sub(*prev); delta > 0 {
			sleep := time.Duration(float64(delta) / p.cfg.Speed)
			if err := p.clock.Sleep(ctx, sleep); err != nil {
				return err
			}
		}
	}
	*prev = rec.Time
	return nil
}
