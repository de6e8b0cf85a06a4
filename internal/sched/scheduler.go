// Package sched multiplexes cancellable background tasks across a fixed
// worker pool and delivers one-shot events back to the main loop.
//
// Two FIFO queues share one lock: the task queue drained by workers and
// the event queue drained by whichever goroutine owns the main loop.
// Tasks may yield, which re-appends them to the tail of the queue so the
// pool keeps making progress under light load.
package sched

import (
	"errors"
	"runtime"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tworaz/basileus/internal/metrics"
)

// Status is the result a task's Run reports back to the scheduler.
type Status int

const (
	// StatusFinished means the work completed successfully.
	StatusFinished Status = iota
	// StatusYield means more work is pending; the task voluntarily
	// releases the worker and is re-queued at the tail.
	StatusYield
	// StatusFailed means the task hit an unrecoverable error.
	StatusFailed
	// StatusCanceled means the task honoured a cancel request.
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusFinished:
		return "finished"
	case StatusYield:
		return "yield"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Task is a unit of work executed on a worker. Run is called repeatedly
// until it returns a terminal status; exactly one of the terminal
// callbacks fires afterwards. The scheduler owns the task from
// submission until that callback returns.
type Task struct {
	Name       string
	Run        func() Status
	OnFinished func()
	OnFailed   func()
	OnCancel   func()

	done bool // terminal callback delivered; guarded by Scheduler.mu
}

// Event is a one-shot notification executed on the main-loop goroutine.
type Event struct {
	Name string
	Run  func()
}

// ErrClosed is returned for submissions after Close began.
var ErrClosed = errors.New("scheduler closed")

// Scheduler owns the worker pool and both queues.
type Scheduler struct {
	logger  zerolog.Logger
	workers int

	mu        sync.Mutex
	cond      *sync.Cond
	tasks     []*Task
	events    []*Event
	terminate bool

	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a scheduler with the given pool size and starts its
// workers. A non-positive size defaults to NumCPU-1 with a floor of one.
func New(workers int, logger zerolog.Logger) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU() - 1
		if workers < 1 {
			workers = 1
		}
	}

	s := &Scheduler{
		logger:  logger,
		workers: workers,
		wake:    make(chan struct{}, 1),
	}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker(i)
	}

	logger.Debug().
		Str("event", "sched.start").
		Int("workers", workers).
		Msg("scheduler started")
	return s
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int {
	return s.workers
}

// AddTask appends t to the task queue and wakes one worker.
// Tasks submitted from a single goroutine are dequeued in order.
func (s *Scheduler) AddTask(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminate {
		return ErrClosed
	}
	s.tasks = append(s.tasks, t)
	metrics.SchedQueueDepth.WithLabelValues("tasks").Set(float64(len(s.tasks)))
	s.cond.Signal()
	return nil
}

// AddEvent appends e to the event queue and wakes the main loop. Events
// are delivered in submission order; an event submitted from a running
// task is observed no earlier than that Run call returns.
func (s *Scheduler) AddEvent(e *Event) error {
	s.mu.Lock()
	if s.terminate {
		s.mu.Unlock()
		return ErrClosed
	}
	s.events = append(s.events, e)
	metrics.SchedQueueDepth.WithLabelValues("events").Set(float64(len(s.events)))
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Wakeups signals the main loop that the event queue is non-empty.
// The channel carries no data; drain with DispatchEvents.
func (s *Scheduler) Wakeups() <-chan struct{} {
	return s.wake
}

// DispatchEvents drains the entire event queue in FIFO order, invoking
// each Run on the calling goroutine. The caller must be the main loop.
func (s *Scheduler) DispatchEvents() {
	s.mu.Lock()
	pending := s.events
	s.events = nil
	metrics.SchedQueueDepth.WithLabelValues("events").Set(0)
	s.mu.Unlock()

	for _, e := range pending {
		s.logger.Trace().
			Str("event", "sched.event").
			Str("name", e.Name).
			Msg("dispatching event")
		e.Run()
	}
}

// Close shuts the scheduler down: queued tasks observe cancel via their
// OnCancel callback, workers are joined, and remaining events are
// dropped without executing. Close is idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.terminate {
		s.mu.Unlock()
		return
	}
	s.terminate = true

	// Tasks that never ran still get exactly one terminal callback.
	var canceled []*Task
	for _, t := range s.tasks {
		if !t.done {
			t.done = true
			canceled = append(canceled, t)
		}
	}
	s.tasks = nil
	metrics.SchedQueueDepth.WithLabelValues("tasks").Set(0)

	s.cond.Broadcast()
	s.mu.Unlock()

	for _, t := range canceled {
		metrics.SchedTasks.WithLabelValues(StatusCanceled.String()).Inc()
		if t.OnCancel != nil {
			t.OnCancel()
		}
	}

	s.wg.Wait()

	s.mu.Lock()
	dropped := len(s.events)
	s.events = nil
	metrics.SchedQueueDepth.WithLabelValues("events").Set(0)
	s.mu.Unlock()

	s.logger.Debug().
		Str("event", "sched.stop").
		Int("dropped_events", dropped).
		Msg("scheduler stopped")
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for len(s.tasks) == 0 && !s.terminate {
			s.cond.Wait()
		}
		if s.terminate {
			s.mu.Unlock()
			return
		}
		t := s.popLocked()
		s.mu.Unlock()

		s.drain(id, t)
	}
}

// drain executes t and keeps pulling queued tasks without re-parking.
// It returns to the wait state when the queue is empty or a task
// reports cancellation.
func (s *Scheduler) drain(id int, t *Task) {
	for t != nil {
		status := t.Run()

		s.logger.Trace().
			Str("event", "sched.task").
			Str("task", t.Name).
			Int("worker", id).
			Str("status", status.String()).
			Msg("task step")

		switch status {
		case StatusYield:
			s.mu.Lock()
			if s.terminate {
				// Shutdown raced the yield; the task observes cancel.
				s.mu.Unlock()
				s.cancelTask(t)
				return
			}
			s.tasks = append(s.tasks, t)
			t = s.popLocked()
			s.mu.Unlock()

		case StatusFinished, StatusFailed:
			s.finishTask(t, status)
			s.mu.Lock()
			if s.terminate {
				s.mu.Unlock()
				return
			}
			t = s.popLocked()
			s.mu.Unlock()

		case StatusCanceled:
			s.cancelTask(t)
			return

		default:
			s.logger.Error().
				Str("event", "sched.bad_status").
				Str("task", t.Name).
				Int("status", int(status)).
				Msg("task returned unknown status, treating as failed")
			s.finishTask(t, StatusFailed)
			return
		}
	}
}

// popLocked removes and returns the queue head, or nil when empty.
func (s *Scheduler) popLocked() *Task {
	if len(s.tasks) == 0 {
		metrics.SchedQueueDepth.WithLabelValues("tasks").Set(0)
		return nil
	}
	t := s.tasks[0]
	s.tasks = s.tasks[1:]
	metrics.SchedQueueDepth.WithLabelValues("tasks").Set(float64(len(s.tasks)))
	return t
}

func (s *Scheduler) finishTask(t *Task, status Status) {
	s.mu.Lock()
	if t.done {
		s.mu.Unlock()
		return
	}
	t.done = true
	s.mu.Unlock()

	metrics.SchedTasks.WithLabelValues(status.String()).Inc()
	switch status {
	case StatusFinished:
		if t.OnFinished != nil {
			t.OnFinished()
		}
	case StatusFailed:
		if t.OnFailed != nil {
			t.OnFailed()
		}
	}
}

// cancelTask delivers the cancel callback at most once.
func (s *Scheduler) cancelTask(t *Task) {
	s.mu.Lock()
	if t.done {
		s.mu.Unlock()
		return
	}
	t.done = true
	s.mu.Unlock()

	metrics.SchedTasks.WithLabelValues(StatusCanceled.String()).Inc()
	if t.OnCancel != nil {
		t.OnCancel()
	}
}
