package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tworaz/basileus/internal/catalog"
	"github.com/tworaz/basileus/internal/log"
)

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("Alive"))
}

func (s *Server) handleArtists(w http.ResponseWriter, r *http.Request) {
	artists, err := s.store.ListArtists(r.Context())
	if err != nil {
		s.serverError(w, r, "list artists", err)
		return
	}
	s.writeJSON(w, r, artists)
}

func (s *Server) handleAlbums(w http.ResponseWriter, r *http.Request) {
	artist, ok := s.queryParam(w, r, "artist")
	if !ok {
		return
	}
	albums, err := s.store.ListAlbums(r.Context(), artist)
	if err != nil {
		s.serverError(w, r, "list albums", err)
		return
	}
	s.writeJSON(w, r, albums)
}

func (s *Server) handleSongs(w http.ResponseWriter, r *http.Request) {
	artist, ok := s.queryParam(w, r, "artist")
	if !ok {
		return
	}
	album, ok := s.queryParam(w, r, "album")
	if !ok {
		return
	}
	songs, err := s.store.ListSongs(r.Context(), artist, album)
	if err != nil {
		s.serverError(w, r, "list songs", err)
		return
	}
	s.writeJSON(w, r, songs)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	hash, ok := s.queryParam(w, r, "song")
	if !ok {
		return
	}

	path, err := s.store.ResolveSong(r.Context(), hash)
	if errors.Is(err, catalog.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.serverError(w, r, "resolve song", err)
		return
	}

	s.sendFile(w, r, path)
}

// queryParam fetches a required query parameter, answering 400 when it
// is absent.
func (s *Server) queryParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		http.Error(w, "Bad Request: missing "+name, http.StatusBadRequest)
		return "", false
	}
	return v, true
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.serverError(w, r, "encode json", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logger := log.WithContext(r.Context(), s.logger)
	logger.Error().
		Err(err).
		Str("event", "http.internal_error").
		Str("op", op).
		Msg("request failed")
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}
