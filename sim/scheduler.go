package sim

import (
	"container/heap"

	"github.com/sirupsen/logrus"
)

// Event is a unit of simulated work scheduled for a future (or current) tick.
// Execute runs inside the Scheduler's single-threaded dispatch loop; it never
// suspends mid-body, it only schedules follow-up events.
type Event interface {
	Time() float64
	Priority() int
	Sequence() uint64
	Execute(sched *Scheduler)
}

// baseEvent supplies the ordering fields every concrete event embeds.
// Ordering is (time asc, priority asc, sequence asc): see eventQueue.Less.
type baseEvent struct {
	time     float64
	priority int
	sequence uint64
	cancelled bool
}

func (b *baseEvent) Time() float64     { return b.time }
func (b *baseEvent) Priority() int     { return b.priority }
func (b *baseEvent) Sequence() uint64  { return b.sequence }

// callbackEvent wraps a plain func(*Scheduler) as an Event, the way the
// teacher wraps ArrivalEvent/StepEvent. CloudSim's components (disk, OS,
// transfer engine, cluster manager) all schedule continuations this way
// instead of each defining a bespoke Event type.
type callbackEvent struct {
	baseEvent
	fn func(sched *Scheduler)
}

func (e *callbackEvent) Execute(sched *Scheduler) {
	if e.cancelled {
		return
	}
	e.fn(sched)
}

// eventQueue implements container/heap.Interface, ordered deterministically
// by (time, priority, sequence). See container/heap's canonical IntHeap
// example; this mirrors the teacher's EventQueue/EventHeap types.
type eventQueue []Event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.Time() != b.Time() {
		return a.Time() < b.Time()
	}
	if a.Priority() != b.Priority() {
		return a.Priority() < b.Priority()
	}
	return a.Sequence() < b.Sequence()
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) {
	*q = append(*q, x.(Event))
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Handle identifies a scheduled event for cancellation.
type Handle struct {
	ev *callbackEvent
}

// Scheduler is the sole driver of simulated time. All state mutation in
// CloudSim happens inside a callback invoked by Scheduler.Run; there is no
// wall-clock waiting and no shared locking (§5).
type Scheduler struct {
	now      float64
	queue    eventQueue
	sequence uint64
	running  bool
}

// NewScheduler returns a Scheduler with its clock at zero.
func NewScheduler() *Scheduler {
	return &Scheduler{queue: make(eventQueue, 0)}
}

// Now returns the current simulated time, in fractional seconds.
func (s *Scheduler) Now() float64 { return s.now }

// ScheduleAt schedules callback to run at an absolute simulated time. It
// fails (returns a zero Handle and an *SimError) if time is in the past.
func (s *Scheduler) ScheduleAt(time float64, priority int, callback func(sched *Scheduler)) (Handle, error) {
	if time < s.now {
		return Handle{}, newErr(ErrInvalidArgument, "cannot schedule at %.6f: clock is at %.6f", time, s.now)
	}
	ev := &callbackEvent{
		baseEvent: baseEvent{time: time, priority: priority, sequence: s.nextSequence()},
		fn:        callback,
	}
	heap.Push(&s.queue, ev)
	return Handle{ev: ev}, nil
}

// ScheduleIn schedules callback to run delta simulated seconds from now.
func (s *Scheduler) ScheduleIn(delta float64, priority int, callback func(sched *Scheduler)) (Handle, error) {
	if delta < 0 {
		return Handle{}, newErr(ErrInvalidArgument, "delay must be non-negative, got %.6f", delta)
	}
	return s.ScheduleAt(s.now+delta, priority, callback)
}

// Cancel tombstones a previously scheduled event; it is skipped when popped.
func (s *Scheduler) Cancel(h Handle) {
	if h.ev == nil {
		return
	}
	h.ev.cancelled = true
}

// Run pops events in deterministic order, advancing the clock to each
// event's time, until the queue is empty, until is reached (if non-nil), or
// maxEvents have been processed (if non-zero).
func (s *Scheduler) Run(until *float64, maxEvents int) {
	s.running = true
	processed := 0
	for len(s.queue) > 0 && s.running {
		next := s.queue[0]
		if until != nil && next.Time() > *until {
			break
		}
		ev := heap.Pop(&s.queue).(Event)
		s.now = ev.Time()
		logrus.Debugf("[t=%.6f] dispatching event seq=%d priority=%d", s.now, ev.Sequence(), ev.Priority())
		ev.Execute(s)
		processed++
		if maxEvents > 0 && processed >= maxEvents {
			break
		}
	}
	s.running = false
}

// Stop halts Run after the event currently executing returns.
func (s *Scheduler) Stop() { s.running = false }

// Pending reports how many events remain queued, cancelled ones included:
// tombstoned events still occupy a heap slot until popped. Used by tests.
func (s *Scheduler) Pending() int { return len(s.queue) }

func (s *Scheduler) nextSequence() uint64 {
	s.sequence++
	return s.sequence
}

// advanceClockForRestore sets Now() without running events. Controller.Restore
// uses it to rehydrate the snapshot's time (snapshot restore has no in-flight
// event state to replay), and Controller.Step to move the clock to its
// horizon once every event up to it has run.
func (s *Scheduler) advanceClockForRestore(now float64) {
	s.now = now
}
