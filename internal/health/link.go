package health

import (
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

// State is the advisory state of a link.
type State int32

const (
	StateUnknown State = iota
	StateUp
	StateLost
)

func (s State) String() string {
	switch s {
	case StateUp:
		return "up"
	case StateLost:
		return "lost"
	default:
		return "unknown"
	}
}

// Source reports when a datagram last arrived. Receivers satisfy it.
type Source interface {
	LastReceived() time.Time
}

// LinkMonitor derives link state from the time since the last datagram.
// Nothing is enforced: callers decide what a lost link means.
type LinkMonitor struct {
	name     string
	src      Source
	timeout  time.Duration
	now      func() time.Time
	onChange func(prev, next State)

	mu      sync.Mutex
	state   State
	changed time.Time
}

// NewLinkMonitor watches src. onChange runs on the goroutine calling Check.
func NewLinkMonitor(name string, src Source, timeout time.Duration, onChange func(prev, next State)) *LinkMonitor {
	return &LinkMonitor{
		name:     name,
		src:      src,
		timeout:  timeout,
		now:      time.Now,
		onChange: onChange,
	}
}

// Check re-evaluates the link and reports the new state.
func (m *LinkMonitor) Check() State {
	now := m.now()
	next := StateUnknown
	if last := m.src.LastReceived(); !last.IsZero() {
		next = StateUp
		if now.Sub(last) > m.timeout {
			next = StateLost
		}
	}

	m.mu.Lock()
	prev := m.state
	if prev != next {
		m.state = next
		m.changed = now
	}
	m.mu.Unlock()

	if prev != next {
		logs.Infof("link %s: %s -> %s", m.name, prev, next)
		if m.onChange != nil {
			m.onChange(prev, next)
		}
	}
	return next
}

// State returns the state found by the last Check.
func (m *LinkMonitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot describes the link for status reports.
type Snapshot struct {
	Name    string    `json:"name"`
	State   string    `json:"state"`
	Since   time.Time `json:"since"`
	Timeout string    `json:"timeout"`
}

// Snapshot reports the current state.
func (m *LinkMonitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Name:    m.name,
		State:   m.state.String(),
		Since:   m.changed,
		Timeout: m.timeout.String(),
	}
}
