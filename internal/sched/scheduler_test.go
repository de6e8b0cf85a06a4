package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tworaz/basileus/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestScheduler(t *testing.T, workers int) *Scheduler {
	t.Helper()
	s := New(workers, log.WithComponent("sched-test"))
	t.Cleanup(s.Close)
	return s
}

func TestTaskFinishes(t *testing.T) {
	s := newTestScheduler(t, 2)

	var wg sync.WaitGroup
	var finished atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := s.AddTask(&Task{
			Name: "finish",
			Run:  func() Status { return StatusFinished },
			OnFinished: func() {
				finished.Add(1)
				wg.Done()
			},
			OnFailed: func() { t.Error("unexpected OnFailed") },
			OnCancel: func() { t.Error("unexpected OnCancel") },
		})
		require.NoError(t, err)
	}
	wg.Wait()
	assert.EqualValues(t, 10, finished.Load())
}

func TestTaskYieldRunsAgain(t *testing.T) {
	s := newTestScheduler(t, 1)

	done := make(chan struct{})
	var runs atomic.Int32
	err := s.AddTask(&Task{
		Name: "yield",
		Run: func() Status {
			if runs.Add(1) < 3 {
				return StatusYield
			}
			return StatusFinished
		},
		OnFinished: func() { close(done) },
	})
	require.NoError(t, err)

	<-done
	assert.EqualValues(t, 3, runs.Load())
}

func TestTaskFailed(t *testing.T) {
	s := newTestScheduler(t, 1)

	done := make(chan struct{})
	err := s.AddTask(&Task{
		Name:       "fail",
		Run:        func() Status { return StatusFailed },
		OnFinished: func() { t.Error("unexpected OnFinished") },
		OnFailed:   func() { close(done) },
	})
	require.NoError(t, err)
	<-done
}

func TestTaskCanceledStatus(t *testing.T) {
	s := newTestScheduler(t, 1)

	var cancels atomic.Int32
	done := make(chan struct{})
	err := s.AddTask(&Task{
		Name: "cancel",
		Run:  func() Status { return StatusCanceled },
		OnCancel: func() {
			cancels.Add(1)
			close(done)
		},
	})
	require.NoError(t, err)

	<-done
	// Worker must return to its wait state and keep serving tasks.
	finished := make(chan struct{})
	require.NoError(t, s.AddTask(&Task{
		Name:       "after-cancel",
		Run:        func() Status { return StatusFinished },
		OnFinished: func() { close(finished) },
	}))
	<-finished
	assert.EqualValues(t, 1, cancels.Load())
}

func TestEventsDispatchInOrder(t *testing.T) {
	s := newTestScheduler(t, 1)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, s.AddEvent(&Event{
			Name: "ordered",
			Run: func() {
				mu.Lock()
				got = append(got, i)
				mu.Unlock()
			},
		}))
	}

	<-s.Wakeups()
	s.DispatchEvents()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)

	// Queue is drained; a second dispatch is a no-op.
	s.DispatchEvents()
	assert.Len(t, got, 5)
}

func TestTaskSubmitsEvent(t *testing.T) {
	s := newTestScheduler(t, 1)

	ran := make(chan struct{})
	require.NoError(t, s.AddTask(&Task{
		Name: "poster",
		Run: func() Status {
			_ = s.AddEvent(&Event{Name: "done", Run: func() { close(ran) }})
			return StatusFinished
		},
	}))

	select {
	case <-s.Wakeups():
		s.DispatchEvents()
	case <-time.After(5 * time.Second):
		t.Fatal("no wakeup for submitted event")
	}

	select {
	case <-ran:
	default:
		t.Fatal("event did not run during dispatch")
	}
}

func TestCloseCancelsQueuedTasks(t *testing.T) {
	s := New(1, log.WithComponent("sched-test"))

	blockerStarted := make(chan struct{})
	release := make(chan struct{})
	blockerDone := make(chan struct{})
	require.NoError(t, s.AddTask(&Task{
		Name: "blocker",
		Run: func() Status {
			close(blockerStarted)
			<-release
			return StatusFinished
		},
		OnFinished: func() { close(blockerDone) },
	}))
	<-blockerStarted

	// These never run: the single worker is busy until shutdown.
	const queued = 5
	var cancels atomic.Int32
	for i := 0; i < queued; i++ {
		require.NoError(t, s.AddTask(&Task{
			Name:       "queued",
			Run:        func() Status { t.Error("queued task must not run"); return StatusFailed },
			OnFinished: func() { t.Error("unexpected OnFinished") },
			OnCancel:   func() { cancels.Add(1) },
		}))
	}

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()

	// Close must cancel queued tasks even while a task is running.
	require.Eventually(t, func() bool {
		return cancels.Load() == queued
	}, 5*time.Second, 10*time.Millisecond)

	close(release)
	<-blockerDone
	<-closed

	assert.EqualValues(t, queued, cancels.Load())
}

func TestAddAfterClose(t *testing.T) {
	s := New(1, log.WithComponent("sched-test"))
	s.Close()

	err := s.AddTask(&Task{Name: "late", Run: func() Status { return StatusFinished }})
	assert.ErrorIs(t, err, ErrClosed)

	err = s.AddEvent(&Event{Name: "late", Run: func() {}})
	assert.ErrorIs(t, err, ErrClosed)

	// Idempotent.
	s.Close()
}

func TestDefaultPoolSize(t *testing.T) {
	s := New(0, log.WithComponent("sched-test"))
	defer s.Close()
	assert.GreaterOrEqual(t, s.Workers(), 1)
}
