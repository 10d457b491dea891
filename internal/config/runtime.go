package config

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"
)

// Runtime holds the live configuration of a node.
type Runtime struct {
	v atomic.Value
}

// NewRuntime stores the initial configuration.
func NewRuntime(cfg Config) *Runtime {
	var rc Runtime
	rc.v.Store(cfg)
	return &rc
}

// Load returns the current configuration.
func (r *Runtime) Load() Config {
	return r.v.Load().(Config)
}

// Update replaces the current configuration.
func (r *Runtime) Update(cfg Config) {
	r.v.Store(cfg)
}

// Watch reloads path every interval when its modification time moves, stores
// the result and calls fn with the previous and the new configuration.
// Invalid files are logged and ignored.
func (r *Runtime) Watch(ctx context.Context, path string, interval time.Duration, fn func(prev, next Config)) {
	if path == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Errorf("config stat failed, err: %+v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			loaded, err := Load(path)
			if err != nil {
				logs.Errorf("config reload failed, err: %+v", err)
				continue
			}
			prev := r.Load()
			r.Update(loaded)
			logs.Infof("config reloaded: %s", path)
			if fn != nil {
				fn(prev, loaded)
			}
		}
	}
}
