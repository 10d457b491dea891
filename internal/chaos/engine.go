package chaos

import (
	"math/rand"
	"net/netip"
	"time"

	"rovernet/pkg/exception"

	"github.com/yanun0323/errors"
)

// Datagram is one outgoing packet under impairment.
type Datagram struct {
	Payload []byte
	Addr    netip.AddrPort
	Delay   time.Duration
}

// Config controls impairment behavior.
type Config struct {
	Seed          int64         `yaml:"seed" json:"seed"`
	DropRate      float64       `yaml:"dropRate" json:"dropRate"`
	DuplicateRate float64       `yaml:"duplicateRate" json:"duplicateRate"`
	ReorderWindow int           `yaml:"reorderWindow" json:"reorderWindow"`
	MaxDelay      time.Duration `yaml:"maxDelay" json:"maxDelay"`
}

// Enabled reports whether the config impairs anything.
func (c Config) Enabled() bool {
	return c.DropRate > 0 || c.DuplicateRate > 0 || c.ReorderWindow > 1 || c.MaxDelay > 0
}

// Engine applies impairment rules to datagrams. It is not safe for concurrent use.
type Engine struct {
	cfg     Config
	rng     *rand.Rand
	pending []Datagram
}

// NewEngine creates an engine with validation.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	if c.DropRate < 0 || c.DropRate > 1 {
		return errors.Wrap(exception.ErrInvalidConfig, "dropRate must be between 0 and 1")
	}
	if c.DuplicateRate < 0 || c.DuplicateRate > 1 {
		return errors.Wrap(exception.ErrInvalidConfig, "duplicateRate must be between 0 and 1")
	}
	if c.ReorderWindow < 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "reorderWindow must be >= 0")
	}
	if c.MaxDelay < 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "maxDelay must be >= 0")
	}
	return nil
}

// Process applies impairment to a single datagram and returns the datagrams to deliver now.
func (e *Engine) Process(d Datagram) []Datagram {
	if e == nil {
		return []Datagram{d}
	}
	if e.shouldDrop() {
		return nil
	}
	d = e.applyDelay(d)
	if e.cfg.ReorderWindow <= 1 {
		return e.applyDuplicate(d)
	}
	e.pending = append(e.pending, d)
	if len(e.pending) < e.cfg.ReorderWindow {
		return nil
	}
	idx := e.rng.Intn(len(e.pending))
	out := e.pending[idx]
	e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
	return e.applyDuplicate(out)
}

// Flush returns any datagrams still held in the reorder window.
func (e *Engine) Flush() []Datagram {
	if e == nil || len(e.pending) == 0 {
		return nil
	}
	out := make([]Datagram, 0, len(e.pending))
	for len(e.pending) > 0 {
		idx := e.rng.Intn(len(e.pending))
		d := e.pending[idx]
		e.pending = append(e.pending[:idx], e.pending[idx+1:]...)
		out = append(out, e.applyDuplicate(d)...)
	}
	return out
}

// Pending returns how many datagrams the reorder window holds.
func (e *Engine) Pending() int {
	if e == nil {
		return 0
	}
	return len(e.pending)
}

func (e *Engine) shouldDrop() bool {
	return e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate
}

func (e *Engine) applyDuplicate(d Datagram) []Datagram {
	out := []Datagram{d}
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		out = append(out, d)
	}
	return out
}

func (e *Engine) applyDelay(d Datagram) Datagram {
	if e.cfg.MaxDelay <= 0 {
		return d
	}
	maxDelay := e.cfg.MaxDelay.Nanoseconds()
	if maxDelay <= 0 {
		return d
	}
	d.Delay = time.Duration(e.rng.Int63n(maxDelay + 1))
	return d
}
