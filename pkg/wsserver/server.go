package wsserver

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/tkallen/liveserve/pkg/logging"
	"github.com/tkallen/liveserve/pkg/telemetry"
	"github.com/tkallen/liveserve/pkg/wsproto"
)

// closeProtocolError is the RFC 6455 close code for protocol
// violations, sent before dropping a peer that breaks framing rules.
const closeProtocolError = 1002

// Options configures a Server. Logger, Hub, and Metrics may be nil.
type Options struct {
	Addr    string
	Logger  *logging.Logger
	Hub     *telemetry.Hub
	Metrics *telemetry.Metrics
}

// Server accepts raw TCP connections, performs the WebSocket upgrade,
// and keeps the resulting connections registered for broadcasting.
type Server struct {
	addr    string
	log     *logging.Logger
	hub     *telemetry.Hub
	metrics *telemetry.Metrics

	registry *Registry

	mu       sync.Mutex
	listener net.Listener
	started  bool
	stopped  bool

	acceptDone chan struct{}
	readers    sync.WaitGroup
}

// New creates a server that will listen on opts.Addr once started.
func New(opts Options) *Server {
	return &Server{
		addr:       opts.Addr,
		log:        opts.Logger,
		hub:        opts.Hub,
		metrics:    opts.Metrics,
		registry:   NewRegistry(),
		acceptDone: make(chan struct{}),
	}
}

// Start opens the listening endpoint and begins accepting upgrades.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("wsserver: already started")
	}
	if s.stopped {
		return fmt.Errorf("wsserver: already stopped")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("wsserver: listening on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.started = true

	s.logInfo("started", "websocket endpoint listening", map[string]any{"addr": ln.Addr().String()})
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the bound listener address, or empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ConnectionCount returns the number of registered connections.
func (s *Server) ConnectionCount() int {
	return s.registry.Len()
}

// Stop closes every tracked connection, then the listening endpoint,
// and waits for the accept loop and all readers to finish. Calling it
// again is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped || !s.started {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	ln := s.listener
	s.mu.Unlock()

	// Tear connections down the same way read-loop exits do, so the
	// gauge and the close events stay consistent through shutdown.
	for _, c := range s.registry.Snapshot() {
		_ = c.Close()
		s.dropConnection(c, "server stopped")
	}
	err := ln.Close()
	<-s.acceptDone
	s.readers.Wait()

	s.logInfo("stopped", "websocket endpoint stopped", nil)
	return err
}

// BroadcastResult summarizes one fan-out sweep.
type BroadcastResult struct {
	Success   int
	Errors    int
	Remaining int
}

// Broadcast encodes message as a single text frame and writes it to
// every registered connection. A failing peer is dropped and the sweep
// continues; the result is published as telemetry.
func (s *Server) Broadcast(message []byte) BroadcastResult {
	frame := wsproto.EncodeText(message)

	var res BroadcastResult
	for _, c := range s.registry.Snapshot() {
		if err := c.WriteRaw(frame); err != nil {
			res.Errors++
			_ = c.Close()
			s.dropConnection(c, "broadcast write failed")
			continue
		}
		res.Success++
	}
	res.Remaining = s.registry.Len()

	if s.metrics != nil {
		s.metrics.BroadcastSuccess.Add(float64(res.Success))
		s.metrics.BroadcastFailures.Add(float64(res.Errors))
	}
	s.publish(telemetry.EventBroadcastResult, map[string]any{
		"success":   res.Success,
		"errors":    res.Errors,
		"remaining": res.Remaining,
	})
	return res
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.acceptDone)
	for {
		netConn, err := ln.Accept()
		if err != nil {
			// Listener closed during Stop, or a transient accept error
			// on a dying socket. Either way the loop is done.
			return
		}
		s.readers.Add(1)
		go s.handleConn(netConn)
	}
}

// handleConn performs the upgrade handshake and, on success, runs the
// connection's read loop until the peer goes away.
func (s *Server) handleConn(netConn net.Conn) {
	defer s.readers.Done()

	br := bufio.NewReader(netConn)
	req, err := http.ReadRequest(br)
	if err != nil {
		_ = netConn.Close()
		return
	}

	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		// No key, no upgrade: a bare status line and the transport dies.
		_, _ = io.WriteString(netConn, wsproto.BadRequestResponse)
		_ = netConn.Close()
		s.logWarn("handshake_rejected", "upgrade request without Sec-WebSocket-Key", nil)
		return
	}

	resp, err := wsproto.UpgradeResponse(key)
	if err != nil {
		_, _ = io.WriteString(netConn, wsproto.BadRequestResponse)
		_ = netConn.Close()
		return
	}
	if _, err := io.WriteString(netConn, resp); err != nil {
		_ = netConn.Close()
		return
	}

	conn := NewConnection(netConn)
	size := s.registry.Add(conn)
	if s.metrics != nil {
		s.metrics.Connections.Inc()
	}
	s.publish(telemetry.EventConnectionOpened, map[string]any{
		"connection_id": conn.ID,
		"connections":   size,
	})
	s.logInfo("connection_opened", "websocket client connected", map[string]any{
		"connection_id": conn.ID,
		"connections":   size,
	})

	s.readLoop(conn, br)
}

func (s *Server) readLoop(conn *Connection, r io.Reader) {
	defer func() {
		_ = conn.Close()
		s.dropConnection(conn, "connection closed")
	}()

	for {
		frame, err := wsproto.ReadFrame(r)
		if err != nil {
			return
		}

		// Clients must mask every frame; an unmasked frame is a
		// protocol violation and terminates the connection.
		if !frame.Masked {
			_ = conn.WriteRaw(closeFrame(closeProtocolError))
			return
		}

		switch frame.Opcode {
		case wsproto.OpcodeClose:
			_ = conn.WriteRaw(wsproto.Encode(wsproto.OpcodeClose, frame.Payload))
			return
		case wsproto.OpcodePing:
			if err := conn.WriteRaw(wsproto.Encode(wsproto.OpcodePong, frame.Payload)); err != nil {
				return
			}
		default:
			// Data frames are parsed but drive no behavior: the reload
			// channel is strictly server-to-client.
		}
	}
}

// dropConnection removes a connection from the registry once and emits
// the close telemetry. Safe to call from both the read loop and the
// broadcast sweep.
func (s *Server) dropConnection(conn *Connection, reason string) {
	if !s.registry.Remove(conn.ID) {
		return
	}
	if s.metrics != nil {
		s.metrics.Connections.Dec()
	}
	s.publish(telemetry.EventConnectionClosed, map[string]any{
		"connection_id": conn.ID,
		"connections":   s.registry.Len(),
		"reason":        reason,
	})
	s.logInfo("connection_closed", reason, map[string]any{"connection_id": conn.ID})
}

func closeFrame(code uint16) []byte {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, code)
	return wsproto.Encode(wsproto.OpcodeClose, payload)
}

func (s *Server) publish(t telemetry.EventType, data map[string]any) {
	if s.hub != nil {
		s.hub.Publish(telemetry.Event{Type: t, Data: data})
	}
}

func (s *Server) logInfo(eventType, msg string, details map[string]any) {
	if s.log != nil {
		_ = s.log.Info(logging.CategoryWebSocket, eventType, msg, details)
	}
}

func (s *Server) logWarn(eventType, msg string, details map[string]any) {
	if s.log != nil {
		_ = s.log.Warn(logging.CategoryWebSocket, eventType, msg, details)
	}
}
