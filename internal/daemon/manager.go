// Package daemon owns the process lifecycle: the HTTP server, the main
// event loop, signal wiring and ordered shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tworaz/basileus/internal/config"
)

// ShutdownHook is a cleanup step run during graceful shutdown.
// Hooks execute in reverse registration order (LIFO).
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	hook ShutdownHook
}

// Manager runs the HTTP server and executes shutdown hooks when the
// run context is cancelled or the server fails.
type Manager struct {
	serverCfg config.ServerConfig
	handler   http.Handler
	logger    zerolog.Logger

	server *http.Server

	mu       sync.Mutex
	hooks    []namedHook
	started  bool
	stopping bool
}

// NewManager creates a daemon manager serving handler.
func NewManager(serverCfg config.ServerConfig, handler http.Handler, logger zerolog.Logger) *Manager {
	return &Manager{
		serverCfg: serverCfg,
		handler:   handler,
		logger:    logger.With().Str("component", "manager").Logger(),
	}
}

// RegisterShutdownHook adds a cleanup step to run during Shutdown.
func (m *Manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, namedHook{name: name, hook: hook})
}

// Start runs the HTTP server and blocks until ctx is cancelled or the
// server fails, then performs a bounded graceful shutdown.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.server = &http.Server{
		Addr:              m.serverCfg.ListenAddr,
		Handler:           m.handler,
		ReadTimeout:       m.serverCfg.ReadTimeout,
		ReadHeaderTimeout: m.serverCfg.ReadTimeout / 2,
		WriteTimeout:      m.serverCfg.WriteTimeout,
		IdleTimeout:       m.serverCfg.IdleTimeout,
		MaxHeaderBytes:    m.serverCfg.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		m.logger.Info().
			Str("event", "http.listen").
			Str("addr", m.serverCfg.ListenAddr).
			Msg("HTTP server listening")
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Str("event", "http.failed").Msg("server error, initiating shutdown")
		shutdownCtx, cancel := m.shutdownContext(ctx)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return errors.Join(err, shutdownErr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Str("event", "shutdown.signal").Msg("shutdown requested")
		shutdownCtx, cancel := m.shutdownContext(ctx)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

// shutdownContext is detached from the cancelled parent but bounded, so
// shutdown can complete even though the run context is already done.
func (m *Manager) shutdownContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := m.serverCfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// Shutdown stops the HTTP server gracefully, letting in-flight requests
// finish, then runs the registered hooks in LIFO order.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	hooks := make([]namedHook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	var errs []error

	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			m.logger.Error().Err(err).Str("event", "http.shutdown_failed").Msg("HTTP shutdown failed")
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		m.logger.Debug().Str("event", "shutdown.hook").Str("hook", h.name).Msg("running shutdown hook")
		if err := h.hook(ctx); err != nil {
			m.logger.Error().Err(err).Str("event", "shutdown.hook_failed").Str("hook", h.name).Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
		}
	}

	m.logger.Info().Str("event", "shutdown.done").Msg("daemon stopped")
	return errors.Join(errs...)
}
