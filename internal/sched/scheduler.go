// Package sched is a priority task queue with randomized timing and a
// cooperative execution loop. Tasks run synchronously, one at a time, in
// priority order on whichever goroutine calls ExecutePendingTasks.
package sched

import (
	"container/heap"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"warden/internal/eventbus"
	logx "warden/pkg/logx"
)

// absoluteJitter is the maximum shift applied either way to an absolute
// execution time when Timing.Jitter is set.
const absoluteJitter = 5 * time.Minute

// minInterval floors recurring intervals. A zero interval would re-enqueue
// an immediately due task and spin ExecutePendingTasks forever.
const minInterval = time.Second

// Scheduler owns all task state behind one mutex. It provides no
// implicit parallelism; callers wanting concurrency invoke it from
// multiple workers.
type Scheduler struct {
	mu  sync.Mutex
	log logx.Logger
	bus eventbus.Bus
	now func() time.Time
	rng *rand.Rand

	parser cron.Parser
	loc    *time.Location

	tasks map[string]*task
	queue taskHeap
	seq   uint64

	executed  uint64
	failed    uint64
	cancelled uint64

	stopOnce sync.Once
	stopCh   chan struct{}
}

type Option func(*Scheduler)

// WithTimezone sets the location daily recurrences are evaluated in.
func WithTimezone(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithBus attaches an event bus receiving task lifecycle events.
func WithBus(bus eventbus.Bus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

func New(log logx.Logger, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		log:    log,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		loc:    time.Local,
		tasks:  map[string]*task{},
		stopCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetClock overrides the scheduler's clock. Intended for tests.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Scheduler) publish(typ, id string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: id})
}

// resolveLocked turns a Timing into one concrete execution time. The
// result is fixed; it is not re-randomized on later reads.
func (s *Scheduler) resolveLocked(t Timing, now time.Time) time.Time {
	if !t.At.IsZero() {
		at := t.At
		if t.Jitter {
			off := time.Duration((s.rng.Float64()*2 - 1) * float64(absoluteJitter))
			at = at.Add(off)
		}
		return at
	}
	d := t.Delay
	if t.Variance > 0 {
		d = time.Duration(float64(d) * (1 + (s.rng.Float64()*2-1)*t.Variance))
	}
	if d < 0 {
		d = 0
	}
	return now.Add(d)
}

// ScheduleTask registers a task. Re-using an id of a queued task updates
// it in place; this is logged, not an error.
func (s *Scheduler) ScheduleTask(id string, exec Executor, priority Priority, args map[string]any, timing Timing) {
	s.scheduleWith(id, exec, priority, args, timing, recurrence{})
}

func (s *Scheduler) scheduleWith(id string, exec Executor, priority Priority, args map[string]any, timing Timing, rec recurrence) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	runAt := s.resolveLocked(timing, now)

	if old, ok := s.tasks[id]; ok && (old.status == StatusPending || old.status == StatusScheduled) {
		old.exec = exec
		old.priority = priority
		old.args = args
		old.runAt = runAt
		old.recur = rec
		heap.Fix(&s.queue, old.index)
		s.log.Info("task updated in place", logx.String("task", id), logx.Time("run_at", runAt))
		return
	}

	s.seq++
	t := &task{
		id:        id,
		priority:  priority,
		status:    StatusScheduled,
		exec:      exec,
		args:      args,
		runAt:     runAt,
		createdAt: now,
		seq:       s.seq,
		recur:     rec,
	}
	s.tasks[id] = t
	heap.Push(&s.queue, t)
	s.log.Debug("task scheduled",
		logx.String("task", id),
		logx.String("priority", priority.String()),
		logx.Time("run_at", runAt))
	s.publish("task_scheduled", id)
}

// ScheduleInterval registers a recurring task that re-enqueues itself
// every interval, jittered by the variance fraction each occurrence.
// Intervals below one second are floored to one second.
func (s *Scheduler) ScheduleInterval(id string, exec Executor, priority Priority, args map[string]any, every time.Duration, variance float64) {
	if every < minInterval {
		every = minInterval
	}
	s.scheduleWith(id, exec, priority, args,
		Timing{Delay: every, Variance: variance},
		recurrence{kind: recurInterval, every: every, variance: variance})
}

// ScheduleDaily registers a recurring task that runs once per day at the
// given local time, shifted by up to jitterMinutes either way.
func (s *Scheduler) ScheduleDaily(id string, exec Executor, priority Priority, args map[string]any, hour, minute, jitterMinutes int) error {
	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	sc, err := s.parser.Parse(spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	now := s.now().In(s.loc)
	at := sc.Next(now)
	if jitterMinutes > 0 {
		off := time.Duration(s.rng.Intn(2*jitterMinutes+1)-jitterMinutes) * time.Minute
		at = at.Add(off)
	}
	s.mu.Unlock()

	s.scheduleWith(id, exec, priority, args,
		Timing{At: at},
		recurrence{kind: recurDaily, spec: spec, jitterMinutes: jitterMinutes})
	return nil
}

// CancelTask removes a queued task. It succeeds only while the task is
// Pending or Scheduled; returns whether cancellation occurred.
func (s *Scheduler) CancelTask(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || (t.status != StatusPending && t.status != StatusScheduled) {
		return false
	}
	if t.index >= 0 {
		heap.Remove(&s.queue, t.index)
	}
	t.status = StatusCancelled
	s.cancelled++
	s.log.Info("task cancelled", logx.String("task", id))
	s.publish("task_cancelled", id)
	return true
}

// ExecutePendingTasks runs every task whose resolved time has passed,
// synchronously in priority order. A failing executor marks its task
// Failed and does not stop the remaining tasks. Returns executed and
// failed counts.
func (s *Scheduler) ExecutePendingTasks(ctx context.Context) (executed, failed int) {
	for {
		t := s.popDue()
		if t == nil {
			break
		}

		err := runTask(ctx, t)

		s.mu.Lock()
		t.execAt = s.now()
		if err != nil {
			t.status = StatusFailed
			t.lastErr = err.Error()
			s.failed++
			failed++
		} else {
			t.status = StatusCompleted
			s.executed++
			executed++
		}
		s.mu.Unlock()

		if err != nil {
			s.log.Warn("task failed", logx.String("task", t.id), logx.Err(err))
			s.publish("task_failed", t.id)
		} else {
			s.log.Debug("task completed", logx.String("task", t.id))
			s.publish("task_completed", t.id)
		}

		// Recurrence is not suppressed by failure.
		s.reenqueue(t)
	}
	return executed, failed
}

// popDue removes and returns the highest-priority due task, or nil.
// Not-yet-due tasks encountered on top of the heap are set aside and
// restored, since a due low-priority task can sit below them.
func (s *Scheduler) popDue() *task {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var deferred []*task
	var due *task
	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*task)
		if t.runAt.After(now) {
			deferred = append(deferred, t)
			continue
		}
		due = t
		break
	}
	for _, t := range deferred {
		heap.Push(&s.queue, t)
	}
	if due != nil {
		due.status = StatusRunning
	}
	return due
}

// runTask invokes the executor, converting a panic into an error so one
// broken task cannot take down the loop.
func runTask(ctx context.Context, t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return t.exec(ctx, t.args)
}

// reenqueue schedules the next occurrence of a recurring task.
func (s *Scheduler) reenqueue(t *task) {
	switch t.recur.kind {
	case recurInterval:
		s.scheduleWith(t.id, t.exec, t.priority, t.args,
			Timing{Delay: t.recur.every, Variance: t.recur.variance}, t.recur)
	case recurDaily:
		sc, err := s.parser.Parse(t.recur.spec)
		if err != nil {
			return
		}
		s.mu.Lock()
		at := sc.Next(s.now().In(s.loc))
		if t.recur.jitterMinutes > 0 {
			off := time.Duration(s.rng.Intn(2*t.recur.jitterMinutes+1)-t.recur.jitterMinutes) * time.Minute
			at = at.Add(off)
		}
		s.mu.Unlock()
		s.scheduleWith(t.id, t.exec, t.priority, t.args, Timing{At: at}, t.recur)
	}
}

// RunLoop polls for due tasks every interval until ctx is cancelled or
// Stop is called. Stop latency is bounded by the interval.
func (s *Scheduler) RunLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("scheduler loop started", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler loop stopped", logx.String("cause", "context"))
			return
		case <-s.stopCh:
			s.log.Info("scheduler loop stopped", logx.String("cause", "stop"))
			return
		case <-ticker.C:
			s.ExecutePendingTasks(ctx)
		}
	}
}

// Stop signals the loop to exit. Best-effort and asynchronous; a task in
// flight is not interrupted.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// TaskStatus returns a snapshot of one task.
func (s *Scheduler) TaskStatus(id string) (TaskInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return TaskInfo{}, false
	}
	return TaskInfo{
		ID:         t.id,
		Priority:   t.priority,
		Status:     t.status,
		RunAt:      t.runAt,
		CreatedAt:  t.createdAt,
		ExecutedAt: t.execAt,
		LastError:  t.lastErr,
	}, true
}

// Statistics reports queue depth and lifetime counters.
func (s *Scheduler) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Statistics{
		Queued:     s.queue.Len(),
		ByPriority: map[Priority]int{},
		Executed:   s.executed,
		Failed:     s.failed,
		Cancelled:  s.cancelled,
	}
	for _, t := range s.queue {
		st.ByPriority[t.priority]++
	}
	return st
}
