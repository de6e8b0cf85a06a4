// Package scan walks the configured music directories and feeds audio
// files through the tag reader into the catalog.
//
// A scan runs as a scheduler task on a worker while HTTP requests keep
// being served. At most one scan runs at a time; a cooperative cancel
// flag is checked between directory entries so shutdown never waits on
// a deep traversal.
package scan

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tworaz/basileus/internal/catalog"
	"github.com/tworaz/basileus/internal/log"
	"github.com/tworaz/basileus/internal/metrics"
	"github.com/tworaz/basileus/internal/sched"
	"github.com/tworaz/basileus/internal/tags"
)

// ErrScanRunning is returned when a refresh is requested while a scan
// is already in flight.
var ErrScanRunning = errors.New("scan already in progress")

// ErrClosed is returned by Refresh after Close.
var ErrClosed = errors.New("scanner closed")

var errCanceled = errors.New("scan canceled")

// Summary describes a completed scan.
type Summary struct {
	Started    time.Time
	Finished   time.Time
	Indexed    int // files added to the catalog
	Skipped    int // unrecognized file types
	Unreadable int // files the tag reader or store rejected
}

// Scanner owns the single-flight scan state. The scheduler is passed in
// by capability; the scanner posts its completion event through it.
type Scanner struct {
	store  *catalog.Store
	sched  *sched.Scheduler
	roots  []string
	logger zerolog.Logger

	// read is the tag reader; swapped out in tests.
	read func(path string) (*tags.Meta, error)

	mu         sync.Mutex
	inProgress bool

	cancel atomic.Bool
	closed atomic.Bool
}

// New creates a scanner over the given roots.
func New(store *catalog.Store, scheduler *sched.Scheduler, roots []string) *Scanner {
	return &Scanner{
		store:  store,
		sched:  scheduler,
		roots:  roots,
		logger: log.WithComponent("scan"),
		read:   tags.Read,
	}
}

// InProgress reports whether a scan is currently running.
func (s *Scanner) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress
}

// Cancel raises the cooperative cancel flag. The running scan unwinds
// at the next directory entry.
func (s *Scanner) Cancel() {
	s.cancel.Store(true)
}

// Close cancels the in-flight scan and refuses all future refreshes.
// It runs on the shutdown path before the scheduler stops, so a racing
// rescan request cannot start a scan the scheduler would wait out.
func (s *Scanner) Close() {
	s.closed.Store(true)
	s.cancel.Store(true)
}

// Refresh launches exactly one scan as a scheduler task. It returns
// ErrScanRunning without side effects when a scan is already in flight
// and ErrClosed after Close.
func (s *Scanner) Refresh() error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		metrics.Scans.WithLabelValues("busy").Inc()
		return ErrScanRunning
	}
	s.inProgress = true
	s.mu.Unlock()

	s.cancel.Store(false)
	if s.closed.Load() {
		// Close raced the flag reset; restore it and back out.
		s.cancel.Store(true)
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
		return ErrClosed
	}

	sum := &Summary{Started: time.Now()}
	task := &sched.Task{
		Name: "collection-scan",
		Run: func() sched.Status {
			return s.run(sum)
		},
		OnFinished: func() { s.complete("finished", sum) },
		OnFailed:   func() { s.complete("failed", sum) },
		OnCancel:   func() { s.complete("canceled", sum) },
	}

	if err := s.sched.AddTask(task); err != nil {
		s.mu.Lock()
		s.inProgress = false
		s.mu.Unlock()
		return err
	}

	s.logger.Info().
		Str("event", "scan.start").
		Strs("roots", s.roots).
		Msg("collection scan scheduled")
	return nil
}

// run executes the traversal on a worker.
func (s *Scanner) run(sum *Summary) sched.Status {
	opened := 0
	for _, root := range s.roots {
		err := s.walkDir(root, sum)
		if errors.Is(err, errCanceled) {
			return sched.StatusCanceled
		}
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("event", "scan.root_failed").
				Str("path", root).
				Msg("cannot scan music directory")
			continue
		}
		opened++
	}
	if opened == 0 && len(s.roots) > 0 {
		return sched.StatusFailed
	}
	return sched.StatusFinished
}

// walkDir recurses depth-first through dir. The cancel flag is checked
// between entries. Directory symlinks are not followed, which keeps the
// traversal cycle-free; file symlinks are indexed via their target.
func (s *Scanner) walkDir(dir string, sum *Summary) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if s.cancel.Load() {
			return errCanceled
		}

		path := filepath.Join(dir, entry.Name())
		switch {
		case entry.IsDir():
			if err := s.walkDir(path, sum); err != nil {
				if errors.Is(err, errCanceled) {
					return err
				}
				sum.Unreadable++
				s.logger.Warn().
					Err(err).
					Str("event", "scan.dir_unreadable").
					Str("path", path).
					Msg("skipping unreadable directory")
			}

		case entry.Type()&fs.ModeSymlink != 0:
			info, err := os.Stat(path)
			if err != nil || !info.Mode().IsRegular() {
				// Dangling links and directory symlinks are skipped.
				sum.Skipped++
				continue
			}
			s.addFile(path, sum)

		case entry.Type().IsRegular():
			s.addFile(path, sum)

		default:
			// Sockets, devices, FIFOs.
			sum.Skipped++
		}
	}
	return nil
}

func (s *Scanner) addFile(path string, sum *Summary) {
	meta, err := s.read(path)
	if err != nil {
		if errors.Is(err, tags.ErrUnsupported) {
			sum.Skipped++
			metrics.ScanFiles.WithLabelValues("skipped").Inc()
			s.logger.Debug().
				Str("event", "scan.skip").
				Str("path", path).
				Msg("unrecognized file type")
			return
		}
		sum.Unreadable++
		metrics.ScanFiles.WithLabelValues("unreadable").Inc()
		s.logger.Warn().
			Err(err).
			Str("event", "scan.unreadable").
			Str("path", path).
			Msg("cannot read file tags")
		return
	}

	err = s.store.AddFile(context.Background(), path, catalog.Meta{
		Artist: meta.Artist,
		Title:  meta.Title,
		Album:  meta.Album,
		Track:  meta.Track,
		Length: meta.Length,
	})
	if err != nil {
		sum.Unreadable++
		metrics.ScanFiles.WithLabelValues("unreadable").Inc()
		s.logger.Warn().
			Err(err).
			Str("event", "scan.store_failed").
			Str("path", path).
			Msg("cannot store file metadata")
		return
	}

	sum.Indexed++
	metrics.ScanFiles.WithLabelValues("indexed").Inc()
}

// complete runs on the worker as the task's terminal callback. It clears
// the single-flight flag and hands the result to the main loop as an
// event; during shutdown the event queue may already be closed, in which
// case the summary is logged right here.
func (s *Scanner) complete(status string, sum *Summary) {
	sum.Finished = time.Now()

	s.mu.Lock()
	s.inProgress = false
	s.mu.Unlock()

	metrics.Scans.WithLabelValues(status).Inc()

	err := s.sched.AddEvent(&sched.Event{
		Name: "scan." + status,
		Run:  func() { s.logSummary(status, sum) },
	})
	if err != nil {
		s.logSummary(status, sum)
	}
}

func (s *Scanner) logSummary(status string, sum *Summary) {
	s.logger.Info().
		Str("event", "scan."+status).
		Int("indexed", sum.Indexed).
		Int("skipped", sum.Skipped).
		Int("unreadable", sum.Unreadable).
		Dur("duration", sum.Finished.Sub(sum.Started)).
		Msg("collection scan " + status)
}
