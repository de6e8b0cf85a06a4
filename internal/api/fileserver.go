package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/tworaz/basileus/internal/log"
)

// mimeTypes is the fixed extension table used for every served file.
var mimeTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".gif":  "image/gif",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".ico":  "image/x-icon",
	".svg":  "image/svg+xml",
	".js":   "application/javascript",
	".eot":  "application/vnd.ms-fontobject",
	".woff": "application/font-woff",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".ogx":  "application/ogg",
}

func contentType(path string) string {
	if ct, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// handleStatic serves files below the document root. It is the router's
// fallback, so the method check the named routes get from chi happens
// here by hand.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.DocumentRoot == "" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	upath := r.URL.Path
	if isPathTraversal(upath) {
		logger.Warn().
			Str("event", "static.denied").
			Str("path", upath).
			Msg("detected traversal sequence")
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if upath == "" || upath == "/" {
		upath = "/index.html"
	}

	realPath, err := s.resolveStatic(upath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn().
				Err(err).
				Str("event", "static.denied").
				Str("path", upath).
				Msg("static path rejected")
		}
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	s.sendFile(w, r, realPath)
}

// resolveStatic maps a request path to a regular file inside the
// document root. Symlinks are resolved first so a link cannot smuggle
// the response outside the root.
func (s *Server) resolveStatic(upath string) (string, error) {
	absRoot, err := filepath.Abs(s.cfg.DocumentRoot)
	if err != nil {
		return "", err
	}
	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return "", err
	}

	full := filepath.Join(absRoot, filepath.FromSlash(upath))
	realPath, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(realRoot, realPath)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path escapes document root: %s", upath)
	}

	info, err := os.Stat(realPath)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("directory target: %s", upath)
	}
	return realPath, nil
}

// sendFile streams path to the client, honouring the daemon's range
// semantics: no Range header or an open-ended "bytes=start-" range gets
// the whole file with 200; "bytes=start-end" gets 206 with the
// inclusive byte range; anything unsatisfiable gets 416.
func (s *Server) sendFile(w http.ResponseWriter, r *http.Request, path string) {
	logger := log.WithComponentFromContext(r.Context(), "api")

	f, err := os.Open(path) // #nosec G304 -- path comes from the catalog or passed docroot confinement
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		s.serverError(w, r, "open file", err)
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		s.serverError(w, r, "stat file", err)
		return
	}
	size := info.Size()

	w.Header().Set("Content-Type", contentType(path))

	rng, ok := parseRange(r.Header.Get("Range"), size)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Requested Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return
	}

	if rng == nil {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, f); err != nil {
			// Client gone mid-stream; nothing to send anymore.
			logger.Debug().Err(err).Str("path", path).Msg("stream aborted")
		}
		return
	}

	length := rng.end - rng.start + 1
	w.Header().Set("Content-Length", fmt.Sprintf("%d", length))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, size))
	w.WriteHeader(http.StatusPartialContent)

	if _, err := f.Seek(rng.start, io.SeekStart); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("seek failed mid-response")
		return
	}
	if _, err := io.CopyN(w, f, length); err != nil {
		logger.Debug().Err(err).Str("path", path).Msg("stream aborted")
	}
}

// isPathTraversal performs robust checks against traversal attempts:
// multiple decode passes catch double-encoding, Unicode normalization
// catches composed dot sequences, and NUL bytes are rejected outright.
func isPathTraversal(p string) bool {
	decoded := p
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		}
		if decoded == prev {
			break
		}
	}

	if strings.Contains(decoded, "\x00") || strings.Contains(strings.ToLower(decoded), "%00") {
		return true
	}

	normalized := norm.NFC.String(decoded)
	return strings.Contains(normalized, "..")
}
