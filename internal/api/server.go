// Package api provides the HTTP surface of the daemon: catalog browsing
// under /bctl, ranged audio streaming under /stream, Prometheus metrics,
// and static file serving below the configured document root.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tworaz/basileus/internal/catalog"
	"github.com/tworaz/basileus/internal/config"
	"github.com/tworaz/basileus/internal/log"
)

// Server routes HTTP requests to the catalog and the filesystem.
type Server struct {
	cfg    *config.Config
	store  *catalog.Store
	logger zerolog.Logger
}

// New creates the API server over the given catalog store.
func New(cfg *config.Config, store *catalog.Store) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		logger: log.WithComponent("api"),
	}
}

// Handler builds the chi router with the canonical middleware stack.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(recoverer)
	r.Use(requestID)
	r.Use(s.requestLogger)
	if s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Minute))
	}

	r.Get("/bctl/status", s.handleStatus)
	r.Get("/bctl/artists", s.handleArtists)
	r.Get("/bctl/albums", s.handleAlbums)
	r.Get("/bctl/songs", s.handleSongs)
	r.Get("/stream", s.handleStream)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Everything else is a static file below the document root.
	r.NotFound(s.handleStatic)

	return r
}
