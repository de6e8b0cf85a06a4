package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tworaz/basileus/internal/api"
	"github.com/tworaz/basileus/internal/catalog"
	"github.com/tworaz/basileus/internal/config"
	"github.com/tworaz/basileus/internal/log"
	"github.com/tworaz/basileus/internal/scan"
	"github.com/tworaz/basileus/internal/sched"
)

// App wires the catalog, scheduler, scanner and HTTP server together
// and owns their startup and shutdown order.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	store     *catalog.Store
	scheduler *sched.Scheduler
	scanner   *scan.Scanner
	manager   *Manager

	rescan chan struct{}
}

// NewApp builds the daemon from a validated configuration. On success
// the scheduler pool is already running and the catalog is open; call
// Run to start serving.
func NewApp(cfg *config.Config) (*App, error) {
	logger := log.WithComponent("daemon")

	store, err := catalog.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	scheduler := sched.New(cfg.Workers(), log.WithComponent("sched"))
	scanner := scan.New(store, scheduler, cfg.MusicDirs)

	server := api.New(cfg, store)
	manager := NewManager(config.NewServerConfig(cfg.Addr()), server.Handler(), log.Base())

	a := &App{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		scheduler: scheduler,
		scanner:   scanner,
		manager:   manager,
		rescan:    make(chan struct{}, 1),
	}

	// Hooks run in reverse order: stop feeding the catalog, drain the
	// pool, then close the database.
	manager.RegisterShutdownHook("catalog", func(context.Context) error {
		return store.Close()
	})
	manager.RegisterShutdownHook("scheduler", func(context.Context) error {
		scheduler.Close()
		return nil
	})
	manager.RegisterShutdownHook("scanner", func(context.Context) error {
		scanner.Close()
		return nil
	})

	return a, nil
}

// TriggerRescan requests a collection rescan from the main loop. The
// request is coalesced when one is already pending.
func (a *App) TriggerRescan() {
	select {
	case a.rescan <- struct{}{}:
	default:
	}
}

// Run starts the HTTP server and the main event loop, kicks off the
// initial collection scan, and blocks until ctx is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info().
		Str("event", "daemon.start").
		Str("addr", a.cfg.Addr()).
		Strs("music_dirs", a.cfg.MusicDirs).
		Int("workers", a.scheduler.Workers()).
		Msg("basileus starting")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.manager.Start(ctx)
	})

	g.Go(func() error {
		a.eventLoop(ctx)
		return nil
	})

	g.Go(func() error {
		a.signalLoop(ctx)
		return nil
	})

	if err := a.scanner.Refresh(); err != nil {
		a.logger.Warn().
			Err(err).
			Str("event", "scan.initial_failed").
			Msg("initial collection scan not started")
	}

	return g.Wait()
}

// eventLoop is the main loop: it drains scheduler events and serves
// rescan requests until shutdown.
func (a *App) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case <-a.scheduler.Wakeups():
			a.scheduler.DispatchEvents()

		case <-a.rescan:
			switch err := a.scanner.Refresh(); {
			case err == nil:
			case errors.Is(err, scan.ErrScanRunning):
				a.logger.Warn().
					Str("event", "scan.busy").
					Msg("rescan requested while a scan is in progress")
			case errors.Is(err, scan.ErrClosed), errors.Is(err, sched.ErrClosed):
				return
			default:
				a.logger.Error().
					Err(err).
					Str("event", "scan.refresh_failed").
					Msg("cannot start rescan")
			}
		}
	}
}

// signalLoop maps SIGUSR1 to a rescan request. Termination signals are
// handled by the caller's context.
func (a *App) signalLoop(ctx context.Context) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)

	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			a.logger.Info().
				Str("event", "signal.rescan").
				Msg("SIGUSR1 received, requesting rescan")
			a.TriggerRescan()
		}
	}
}
