package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tkallen/liveserve/pkg/config"
	"github.com/tkallen/liveserve/pkg/filewatch"
	"github.com/tkallen/liveserve/pkg/logging"
	"github.com/tkallen/liveserve/pkg/telemetry"
	"github.com/tkallen/liveserve/pkg/webroot"
	"github.com/tkallen/liveserve/pkg/wsserver"
)

const shutdownTimeout = 5 * time.Second

// Server ties the static file handler, the reload WebSocket server,
// and the file watcher together under one lifecycle.
type Server struct {
	cfg     *config.Config
	log     *logging.Logger
	hub     *telemetry.Hub
	metrics *telemetry.Metrics

	roots  *webroot.RootSet
	ws     *wsserver.Server
	client []byte

	// watcher is nil when watching is disabled or unavailable. Static
	// serving keeps working either way.
	watcher *filewatch.Watcher

	httpSrv  *http.Server
	listener net.Listener
	group    *errgroup.Group

	mu      sync.Mutex
	started bool
	stopped bool
}

// New validates the configuration and prepares a server. Nothing
// listens until Start is called.
func New(cfg *config.Config, log *logging.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	roots, err := webroot.NewRootSet(cfg.Roots)
	if err != nil {
		return nil, err
	}

	hub := telemetry.NewHub()
	metrics := telemetry.NewMetrics()
	s := &Server{
		cfg:     cfg,
		log:     log,
		hub:     hub,
		metrics: metrics,
		roots:   roots,
	}
	s.ws = wsserver.New(wsserver.Options{
		Addr:    cfg.WSAddr(),
		Logger:  log,
		Hub:     hub,
		Metrics: metrics,
	})
	return s, nil
}

// Hub exposes the telemetry hub so callers can observe server events.
func (s *Server) Hub() *telemetry.Hub {
	return s.hub
}

// HTTPAddr reports the bound address of the file server, or the
// configured address before Start.
func (s *Server) HTTPAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.HTTPAddr()
}

// WSAddr reports the bound address of the reload WebSocket server.
func (s *Server) WSAddr() string {
	return s.ws.Addr()
}

func (s *Server) reloadActive() bool {
	return s.watcher != nil
}

// reloadEndpoint builds the WebSocket URL handed to injected clients.
// The port comes from the bound listener so an ephemeral ws_port still
// produces a dialable address.
func (s *Server) reloadEndpoint() string {
	scheme := "ws"
	if s.cfg.TLS.Enabled {
		scheme = "wss"
	}
	port := strconv.Itoa(s.cfg.WSPort)
	if _, bound, err := net.SplitHostPort(s.ws.Addr()); err == nil {
		port = bound
	}
	return fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(s.cfg.Host, port))
}

// Start brings up the watcher, the WebSocket server, and the HTTP
// listener, in that order. A watcher failure disables live reload but
// does not prevent static serving.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("server: already started")
	}
	if s.stopped {
		return fmt.Errorf("server: already stopped")
	}

	if s.cfg.Watch {
		s.startWatcher()
	}

	if err := s.ws.Start(); err != nil {
		s.teardownWatcher()
		return fmt.Errorf("server: websocket listen: %w", err)
	}
	s.client = reloadClient(s.reloadEndpoint())

	ln, err := net.Listen("tcp", s.cfg.HTTPAddr())
	if err != nil {
		s.ws.Stop()
		s.teardownWatcher()
		return fmt.Errorf("server: http listen: %w", err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{Handler: s.routes()}

	s.group = &errgroup.Group{}
	s.group.Go(func() error {
		var serveErr error
		if s.cfg.TLS.Enabled {
			serveErr = s.httpSrv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			serveErr = s.httpSrv.Serve(ln)
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.hub.Publish(telemetry.Event{Type: telemetry.EventServerError, Data: map[string]any{
				"error": serveErr.Error(),
			}})
			s.logError("serve_failed", "http serve loop exited", map[string]any{"error": serveErr.Error()})
			return serveErr
		}
		return nil
	})

	s.started = true
	s.hub.Publish(telemetry.Event{Type: telemetry.EventServerStarted, Data: map[string]any{
		"http_addr": ln.Addr().String(),
		"ws_addr":   s.ws.Addr(),
		"watching":  s.watcher != nil,
	}})
	s.logInfo("started", "liveserve running", map[string]any{
		"http_addr": ln.Addr().String(),
		"ws_addr":   s.ws.Addr(),
		"roots":     s.cfg.Roots,
		"watching":  s.watcher != nil,
	})
	return nil
}

// startWatcher wires filesystem changes to reload broadcasts. The
// first configured root is the watched tree.
func (s *Server) startWatcher() {
	w, err := filewatch.New(s.cfg.Roots[0], s.cfg.QuietWindow.Std())
	if err != nil {
		s.logWarn("watch_unavailable", "file watching disabled", map[string]any{
			"root":  s.cfg.Roots[0],
			"error": err.Error(),
		})
		return
	}
	w.Subscribe(func(ev filewatch.Event) {
		s.hub.Publish(telemetry.Event{Type: telemetry.EventWatchChanged, Data: map[string]any{
			"path": ev.Path,
			"type": string(ev.Type),
		}})
		if s.metrics != nil {
			s.metrics.Reloads.Inc()
		}
		result := s.ws.Broadcast([]byte("reload"))
		s.logInfo("reload_broadcast", "change signaled to clients", map[string]any{
			"path":    ev.Path,
			"type":    string(ev.Type),
			"success": result.Success,
			"errors":  result.Errors,
		})
	})
	w.Start()
	s.watcher = w
}

func (s *Server) teardownWatcher() {
	if s.watcher != nil {
		s.watcher.Stop()
		s.watcher = nil
	}
}

// Wait blocks until the HTTP serve loop exits. It returns nil after a
// clean Stop and the serve error otherwise.
func (s *Server) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop shuts the components down in reverse start order: watcher
// first so no further reloads fire, then the WebSocket server, then
// the HTTP listener. Calling Stop again is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return nil
	}
	s.stopped = true

	var errs []error
	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("watcher: %w", err))
		}
	}
	if err := s.ws.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("websocket: %w", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}

	s.hub.Publish(telemetry.Event{Type: telemetry.EventServerStopped, Data: nil})
	s.logInfo("stopped", "liveserve stopped", nil)
	s.hub.Close()
	return errors.Join(errs...)
}
