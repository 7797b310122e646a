package wsserver

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkallen/liveserve/pkg/telemetry"
	"github.com/tkallen/liveserve/pkg/wsproto"
)

func startServer(t *testing.T) (*Server, *telemetry.Hub) {
	t.Helper()
	hub := telemetry.NewHub()
	s := New(Options{Addr: "127.0.0.1:0", Hub: hub, Metrics: telemetry.NewMetrics()})
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		_ = s.Stop()
		hub.Close()
	})
	return s, hub
}

func dialClient(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/", nil)
	require.NoError(t, err, "handshake against the hand-rolled upgrade must succeed")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForConnections(t *testing.T, s *Server, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.ConnectionCount() == want
	}, 2*time.Second, 10*time.Millisecond, "expected %d registered connections", want)
}

func TestServer_BroadcastReachesClients(t *testing.T) {
	s, _ := startServer(t)

	first := dialClient(t, s)
	second := dialClient(t, s)
	waitForConnections(t, s, 2)

	res := s.Broadcast([]byte("reload"))
	assert.Equal(t, 2, res.Success)
	assert.Zero(t, res.Errors)
	assert.Equal(t, 2, res.Remaining)

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		msgType, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, msgType)
		assert.Equal(t, "reload", string(payload))
	}
}

func TestServer_BroadcastSurvivesFailingPeer(t *testing.T) {
	s := New(Options{})

	healthy1 := &fakeWire{}
	broken := &fakeWire{failWrites: true}
	healthy2 := &fakeWire{}
	s.registry.Add(NewConnection(healthy1))
	s.registry.Add(NewConnection(broken))
	s.registry.Add(NewConnection(healthy2))

	res := s.Broadcast([]byte("reload"))

	assert.Equal(t, 2, res.Success)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 2, res.Remaining, "the failing peer is dropped from the registry")
	assert.Equal(t, 2, s.registry.Len())
	assert.True(t, broken.closed)
	assert.Equal(t, 1, healthy1.writeCount())
	assert.Equal(t, 1, healthy2.writeCount())
}

func TestServer_BroadcastTelemetry(t *testing.T) {
	hub := telemetry.NewHub()
	defer hub.Close()
	events, _ := hub.Subscribe()

	s := New(Options{Hub: hub})
	s.registry.Add(NewConnection(&fakeWire{}))
	s.Broadcast([]byte("reload"))

	select {
	case ev := <-events:
		require.Equal(t, telemetry.EventBroadcastResult, ev.Type)
		assert.Equal(t, 1, ev.Data["success"])
		assert.Equal(t, 0, ev.Data["errors"])
		assert.Equal(t, 1, ev.Data["remaining"])
	case <-time.After(time.Second):
		t.Fatal("broadcast result event never published")
	}
}

func TestServer_PingGetsPong(t *testing.T) {
	s, _ := startServer(t)
	conn := dialClient(t, s)
	waitForConnections(t, s, 1)

	pong := make(chan string, 1)
	conn.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})

	require.NoError(t, conn.WriteControl(websocket.PingMessage, []byte("marco"), time.Now().Add(time.Second)))

	// Pong handlers only run inside ReadMessage, so pump the read side
	// until the control frame is processed.
	go func() {
		_, _, _ = conn.ReadMessage()
	}()

	select {
	case data := <-pong:
		assert.Equal(t, "marco", data, "pong echoes the ping payload")
	case <-time.After(2 * time.Second):
		t.Fatal("no pong received")
	}
}

func TestServer_ClientCloseUnregisters(t *testing.T) {
	s, hub := startServer(t)
	events, _ := hub.Subscribe()

	conn := dialClient(t, s)
	waitForConnections(t, s, 1)

	drainUntil(t, events, telemetry.EventConnectionOpened)

	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))

	waitForConnections(t, s, 0)
	ev := drainUntil(t, events, telemetry.EventConnectionClosed)
	assert.Equal(t, 0, ev.Data["connections"])
}

func TestServer_MissingKeyGets400(t *testing.T) {
	s, _ := startServer(t)

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: localhost\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 400 Bad Request", strings.TrimSpace(line))

	assert.Zero(t, s.ConnectionCount(), "rejected transport is never registered")
}

func TestServer_UnmaskedFrameClosesConnection(t *testing.T) {
	s, _ := startServer(t)

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "GET / HTTP/1.1\r\nHost: localhost\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n")

	br := bufio.NewReader(conn)
	skipHandshakeResponse(t, br)
	waitForConnections(t, s, 1)

	// Unmasked text frame: a client-side protocol violation.
	_, err = conn.Write([]byte{0x81, 0x01, 'x'})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	frame, err := wsproto.ReadFrame(br)
	require.NoError(t, err)
	assert.Equal(t, wsproto.OpcodeClose, frame.Opcode)

	waitForConnections(t, s, 0)
}

func TestServer_StopIsIdempotent(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0"})
	require.NoError(t, s.Start())

	dialDone := make(chan struct{})
	go func() {
		defer close(dialDone)
		conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/", nil)
		if err == nil {
			conn.Close()
		}
	}()
	<-dialDone

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop(), "second stop is a no-op")
	assert.Zero(t, s.ConnectionCount())
}

func TestServer_StopWithoutStart(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0"})
	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
}

func TestServer_StartAfterStopFails(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0"})
	require.NoError(t, s.Stop())
	assert.Error(t, s.Start(), "a stopped server must not relisten")
}

func TestServer_StopSettlesConnectionAccounting(t *testing.T) {
	hub := telemetry.NewHub()
	defer hub.Close()
	metrics := telemetry.NewMetrics()
	events, _ := hub.Subscribe()

	s := New(Options{Addr: "127.0.0.1:0", Hub: hub, Metrics: metrics})
	require.NoError(t, s.Start())

	dialClient(t, s)
	waitForConnections(t, s, 1)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Connections))

	require.NoError(t, s.Stop())

	assert.Zero(t, s.ConnectionCount())
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.Connections),
		"shutdown must return the gauge to zero")
	ev := drainUntil(t, events, telemetry.EventConnectionClosed)
	assert.Equal(t, 0, ev.Data["connections"])
}

func skipHandshakeResponse(t *testing.T, br *bufio.Reader) {
	t.Helper()
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			return
		}
	}
}

func drainUntil(t *testing.T, events <-chan telemetry.Event, want telemetry.EventType) telemetry.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("event %s never arrived", want)
			return telemetry.Event{}
		}
	}
}
