package schedule

import (
	"container/heap"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Scheduler runs tasks at their next occurrence, earliest first.
//
// Rescheduling or cancelling a task does not search the heap: the task's
// generation is bumped and the old entry is skipped when it surfaces.
// A Scheduler and its tasks are not safe for concurrent use; drive them from
// one goroutine, e.g. a reactor.Loop.
type Scheduler struct {
	clock   Clock
	entries entryHeap
	seq     uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{clock: realClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// NewTask creates an unscheduled task bound to s.
func (s *Scheduler) NewTask(fn func(*Task)) *Task {
	return &Task{sched: s, fn: fn}
}

// Every creates a task that fires every interval, starting one interval from
// now. Occurrences are spaced from the previous due time, not from when the
// callback ran, so a late poll does not accumulate drift.
func (s *Scheduler) Every(interval time.Duration, fn func(*Task)) *Task {
	if interval <= 0 {
		interval = time.Millisecond
	}
	t := s.NewTask(func(task *Task) {
		due := task.next
		fn(task)
		if task.gen == task.firedGen && !task.stopped {
			next := due.Add(interval)
			if now := s.Now(); next.Before(now) {
				next = now
			}
			task.SetNextOccurrence(next)
		}
	})
	t.SetNextOccurrence(s.Now().Add(interval))
	return t
}

func (s *Scheduler) add(t *Task) {
	s.seq++
	heap.Push(&s.entries, entry{task: t, gen: t.gen, at: t.next, seq: s.seq})
}

// Poll runs every task due at or before now, in due order, and returns how
// many ran. Occurrences scheduled by the callbacks themselves wait for the
// next Poll, so a task rescheduling itself into the past cannot spin.
func (s *Scheduler) Poll() int {
	now := s.Now()
	limit := s.seq
	ran := 0
	var deferred []entry
	for len(s.entries) > 0 {
		top := s.entries[0]
		if !top.valid() {
			heap.Pop(&s.entries)
			continue
		}
		if top.at.After(now) {
			break
		}
		heap.Pop(&s.entries)
		if top.seq > limit {
			deferred = append(deferred, top)
			continue
		}
		top.task.pending = false
		top.task.firedGen = top.task.gen
		if top.task.fn != nil {
			top.task.fn(top.task)
		}
		ran++
	}
	for _, e := range deferred {
		heap.Push(&s.entries, e)
	}
	return ran
}

// NextDispatchTime returns when the earliest live task is due.
func (s *Scheduler) NextDispatchTime() (time.Time, bool) {
	s.prune()
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	return s.entries[0].at, true
}

// Empty reports whether no live task is scheduled.
func (s *Scheduler) Empty() bool {
	s.prune()
	return len(s.entries) == 0
}

// Len returns the number of heap entries, including ones not yet pruned.
func (s *Scheduler) Len() int {
	return len(s.entries)
}

func (s *Scheduler) prune() {
	for len(s.entries) > 0 && !s.entries[0].valid() {
		heap.Pop(&s.entries)
	}
}

// Task is a callback with a next occurrence.
type Task struct {
	sched    *Scheduler
	fn       func(*Task)
	next     time.Time
	gen      uint64
	firedGen uint64
	pending  bool
	stopped  bool
}

// SetNextOccurrence schedules the task at at, replacing any pending occurrence.
func (t *Task) SetNextOccurrence(at time.Time) {
	if t == nil || t.sched == nil || t.stopped {
		return
	}
	t.gen++
	t.next = at
	t.pending = true
	t.sched.add(t)
}

// SetNextOccurrenceIn schedules the task d from now.
func (t *Task) SetNextOccurrenceIn(d time.Duration) {
	if t == nil || t.sched == nil {
		return
	}
	t.SetNextOccurrence(t.sched.Now().Add(d))
}

// NextOccurrence returns the pending due time.
func (t *Task) NextOccurrence() (time.Time, bool) {
	if t == nil || !t.pending {
		return time.Time{}, false
	}
	return t.next, true
}

// Cancel drops the pending occurrence. The task can be scheduled again.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.gen++
	t.pending = false
}

// Stop cancels the task and detaches it from its scheduler for good.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.Cancel()
	t.stopped = true
}

// Pending reports whether the task has an occurrence scheduled.
func (t *Task) Pending() bool {
	return t != nil && t.pending
}

type entry struct {
	task *Task
	gen  uint64
	at   time.Time
	seq  uint64
}

func (e entry) valid() bool {
	return e.task != nil && !e.task.stopped && e.gen == e.task.gen
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}
