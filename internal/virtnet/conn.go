package virtnet

import (
	"context"
	"sync"

	"github.com/kirr-labs/lonet/internal/rawconn"
	"github.com/kirr-labs/lonet/internal/virtaddr"
)

// Conn is one established virtual connection, backed by a real
// rawconn.Conn the owning engine opened.
type Conn struct {
	socket   *socket
	peerAddr virtaddr.Addr
	raw      rawconn.Conn

	ctx       context.Context
	cancel    context.CancelFunc
	downOnce  sync.Once
	closeOnce sync.Once
}

func newConn(sk *socket, peerAddr virtaddr.Addr, raw rawconn.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{socket: sk, peerAddr: peerAddr, raw: raw, ctx: ctx, cancel: cancel}
}

// Read reads from the underlying real connection.
func (c *Conn) Read(p []byte) (int, error) { return c.raw.Read(p) }

// Write writes to the underlying real connection.
func (c *Conn) Write(p []byte) (int, error) { return c.raw.Write(p) }

// LocalAddr returns this connection's virtual local address.
func (c *Conn) LocalAddr() virtaddr.Addr { return c.socket.addr() }

// RemoteAddr returns this connection's virtual peer address.
func (c *Conn) RemoteAddr() virtaddr.Addr { return c.peerAddr }

func (c *Conn) shutdown() {
	c.downOnce.Do(func() {
		c.cancel()
		c.raw.Close()
	})
}

// Close closes the underlying real connection and releases the port if
// nothing else on the socket is using it. It is idempotent.
func (c *Conn) Close() error {
	c.shutdown()
	c.closeOnce.Do(func() {
		sk := c.socket
		h := sk.host
		h.sockmu.Lock()
		sk.conn = nil
		if sk.empty() {
			h.socketv[sk.port] = nil
		}
		h.sockmu.Unlock()
	})
	return nil
}
