package reactor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rovernet/internal/schedule"
	"rovernet/pkg/exception"
)

// Loop runs posted functions and scheduled tasks on one goroutine.
//
// The scheduler is not safe for concurrent use: touch it only before Run, or
// from functions running on the loop.
type Loop struct {
	ch      chan func()
	closed  uint32
	quit    chan struct{}
	exited  chan struct{}
	sched   *schedule.Scheduler
	running sync.Once
	stop    sync.Once
}

// NewLoop allocates a loop with the given queue capacity. A nil sched gets a
// scheduler on the wall clock.
func NewLoop(capacity int, sched *schedule.Scheduler) *Loop {
	if capacity <= 0 {
		capacity = 1
	}
	if sched == nil {
		sched = schedule.New()
	}
	return &Loop{
		ch:     make(chan func(), capacity),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
		sched:  sched,
	}
}

// Scheduler returns the scheduler driven by the loop.
func (l *Loop) Scheduler() *schedule.Scheduler {
	return l.sched
}

// Post enqueues fn without blocking.
func (l *Loop) Post(fn func()) error {
	if fn == nil {
		return nil
	}
	if atomic.LoadUint32(&l.closed) != 0 {
		return exception.ErrLoopClosed
	}
	select {
	case l.ch <- fn:
		return nil
	default:
		return exception.ErrLoopFull
	}
}

// Call runs fn on the loop and waits for it to finish. It blocks while the
// queue is full.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	if fn == nil {
		return nil
	}
	if atomic.LoadUint32(&l.closed) != 0 {
		return exception.ErrLoopClosed
	}

	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case l.ch <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-l.quit:
		return exception.ErrLoopClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.exited:
		select {
		case <-done:
			return nil
		default:
			return exception.ErrLoopClosed
		}
	}
}

// Close stops the loop from accepting work and makes Run return.
// Functions still queued are dropped.
func (l *Loop) Close() {
	l.stop.Do(func() {
		atomic.StoreUint32(&l.closed, 1)
		close(l.quit)
	})
}

// Closed reports whether Close was called.
func (l *Loop) Closed() bool {
	return atomic.LoadUint32(&l.closed) != 0
}

// Run executes posted functions and due tasks until ctx is done or the loop is
// closed. Only the first call runs; later calls return immediately.
func (l *Loop) Run(ctx context.Context) error {
	started := false
	l.running.Do(func() { started = true })
	if !started {
		return nil
	}
	defer close(l.exited)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		l.sched.Poll()

		var wake <-chan time.Time
		if next, ok := l.sched.NextDispatchTime(); ok {
			d := next.Sub(l.sched.Now())
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			wake = timer.C
		}

		select {
		case <-ctx.Done():
			l.Close()
			return ctx.Err()
		case <-l.quit:
			return nil
		case fn := <-l.ch:
			fn()
		case <-wake:
		}
		timer.Stop()
	}
}

// Wait blocks until Run has returned.
func (l *Loop) Wait() {
	<-l.exited
}
