package server

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tkallen/liveserve/pkg/logging"
	"github.com/tkallen/liveserve/pkg/webroot"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)
	if s.cfg.CORS {
		r.Use(corsHeaders)
		r.Options("/*", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	}
	if s.cfg.Metrics && s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/*", s.handleGet)
	return r
}

func corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "*")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(strconv.Itoa(ww.Status())).Inc()
		}
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	resolved, err := s.roots.Resolve(r.URL.Path)
	if err != nil {
		if errors.Is(err, webroot.ErrNotFound) {
			s.logDebug("request_miss", "no file matched request", map[string]any{"path": r.URL.Path})
			http.Error(w, "404 Not Found", http.StatusNotFound)
			return
		}
		s.logError("resolve_failed", "root resolution failed", map[string]any{"path": r.URL.Path, "error": err.Error()})
		http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
		return
	}

	if resolved.Info.IsDir() {
		s.serveDir(w, r, resolved)
		return
	}
	s.serveFile(w, resolved.Path)
}

func (s *Server) serveDir(w http.ResponseWriter, r *http.Request, resolved *webroot.ResolvedFile) {
	index := filepath.Join(resolved.Path, "index.html")
	if info, err := os.Stat(index); err == nil && !info.IsDir() {
		s.serveFile(w, index)
		return
	}
	if !s.cfg.Listings {
		http.Error(w, "403 Forbidden", http.StatusForbidden)
		return
	}
	entries, err := webroot.ReadListing(resolved.Path)
	if err != nil {
		s.logError("listing_failed", "directory read failed", map[string]any{"path": resolved.Path, "error": err.Error()})
		http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderListing(w, r.URL.Path, entries); err != nil {
		s.logError("listing_render_failed", "listing template failed", map[string]any{"path": resolved.Path, "error": err.Error()})
	}
}

func (s *Server) serveFile(w http.ResponseWriter, path string) {
	if webroot.IsHTML(path) && s.reloadActive() {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logError("read_failed", "file read failed", map[string]any{"path": path, "error": err.Error()})
			http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
			return
		}
		data = injectReloadScript(data, s.client)
		w.Header().Set("Content-Type", webroot.ContentType(path))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.logError("open_failed", "file open failed", map[string]any{"path": path, "error": err.Error()})
		http.Error(w, "500 Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", webroot.ContentType(path))
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	if _, err := io.Copy(w, f); err != nil {
		s.logDebug("copy_interrupted", "response write interrupted", map[string]any{"path": path, "error": err.Error()})
	}
}

func (s *Server) logDebug(eventType, msg string, details map[string]any) {
	if s.log != nil {
		s.log.Debug(logging.CategoryServer, eventType, msg, details)
	}
}

func (s *Server) logInfo(eventType, msg string, details map[string]any) {
	if s.log != nil {
		s.log.Info(logging.CategoryServer, eventType, msg, details)
	}
}

func (s *Server) logWarn(eventType, msg string, details map[string]any) {
	if s.log != nil {
		s.log.Warn(logging.CategoryServer, eventType, msg, details)
	}
}

func (s *Server) logError(eventType, msg string, details map[string]any) {
	if s.log != nil {
		s.log.Error(logging.CategoryServer, eventType, msg, details)
	}
}
