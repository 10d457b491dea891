package main

import (
	"math"
	"time"

	"rovernet/internal/messages"
)

// drive holds the commanded motion. It is only touched on the loop.
type drive struct {
	velocity messages.Velocity
	mode     messages.Mode
	halted   bool
	reason   string
	changed  time.Time

	// notify reports state changes to the base station console.
	notify func(level messages.LogLevel, msg string)
}

func newDrive(notify func(level messages.LogLevel, msg string)) *drive {
	return &drive{halted: true, reason: "startup", notify: notify}
}

func (d *drive) say(level messages.LogLevel, msg string) {
	d.changed = time.Now()
	if d.notify != nil {
		d.notify(level, msg)
	}
}

// setVelocity applies a command unless the drive is halted. Values are clamped to [-1, 1].
func (d *drive) setVelocity(v messages.Velocity) bool {
	if d.halted {
		return false
	}
	d.velocity = messages.Velocity{Speed: clamp(v.Speed), Angle: clamp(v.Angle)}
	return true
}

func (d *drive) setHalt(halt bool, reason string) {
	if d.halted == halt {
		return
	}
	d.halted = halt
	if halt {
		d.velocity = messages.Velocity{}
		d.reason = reason
		d.say(messages.LogWarn, "drive halted: "+reason)
		return
	}
	d.reason = ""
	d.say(messages.LogInfo, "drive released")
}

func (d *drive) setMode(m messages.Mode) {
	if m > messages.ModeCrab || m == d.mode {
		return
	}
	d.mode = m
	d.velocity = messages.Velocity{}
	d.say(messages.LogInfo, "drive mode changed")
}

func clamp(v float32) float32 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	case math.IsNaN(float64(v)):
		return 0
	default:
		return v
	}
}
