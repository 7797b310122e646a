// Package wsserver hosts the live-reload WebSocket endpoint: a raw TCP
// listener that upgrades connections itself, tracks them in a
// registry, and fans broadcast messages out to every open peer.
package wsserver

import (
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// wire is the transport subset a connection needs after the upgrade.
// net.Conn satisfies it; tests substitute failing writers.
type wire interface {
	io.Writer
	io.Closer
}

// Connection is one upgraded WebSocket peer. It is owned by the
// Registry while open. Writes are serialized so broadcast N is always
// on the wire before broadcast N+1 for the same peer.
type Connection struct {
	ID string

	wire    wire
	writeMu sync.Mutex
	closed  atomic.Bool
}

// NewConnection wraps an upgraded transport.
func NewConnection(w wire) *Connection {
	return &Connection{ID: ulid.Make().String(), wire: w}
}

// WriteRaw writes pre-encoded frame bytes to the peer.
func (c *Connection) WriteRaw(buf []byte) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.wire.Write(buf)
	return err
}

// Close shuts the transport down. Only the first call does anything.
func (c *Connection) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		return c.wire.Close()
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}
