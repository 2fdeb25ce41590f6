package virtnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirr-labs/lonet/internal/rawconn"
	"github.com/kirr-labs/lonet/internal/virtaddr"
	"github.com/kirr-labs/lonet/internal/xerr"
)

// dialReq is one inbound connection attempt waiting for the listener's
// Accept loop to claim a socket for it, per spec.md §4.4/§4.5.
type dialReq struct {
	from virtaddr.Addr
	raw  rawconn.Conn
	resp chan Accept
}

// Accept is handed back to whichever engine delivered the dialReq: the
// address the acceptor bound the new connection to, and a channel the
// engine must use to report whether the connection's lonet-level
// acknowledgement (the "accept" handshake line) went out successfully.
type Accept struct {
	Addr virtaddr.Addr
	Ack  chan error
}

// Listener is a Host's listening socket. Accept rendezvous with
// inbound dialReqs delivered through SubNetwork.Accept.
type Listener struct {
	socket *socket
	dialq  chan *dialReq

	ctx       context.Context
	cancel    context.CancelFunc
	downOnce  sync.Once
	closeOnce sync.Once
}

func newListener(sk *socket) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{socket: sk, dialq: make(chan *dialReq), ctx: ctx, cancel: cancel}
}

// Addr returns the virtual address this listener is bound to.
func (l *Listener) Addr() virtaddr.Addr { return l.socket.addr() }

func (l *Listener) downErr() error {
	h := l.socket.host
	n := h.subnet
	switch {
	case n.isDown():
		return xerr.ErrNetDown
	case h.isDown():
		return xerr.ErrHostDown
	default:
		return xerr.ErrSockDown
	}
}

func (l *Listener) shutdown() {
	l.downOnce.Do(func() { l.cancel() })
}

// Close stops accepting and releases the port if nothing else on the
// socket is using it. It is idempotent.
func (l *Listener) Close() error {
	l.shutdown()
	l.closeOnce.Do(func() {
		sk := l.socket
		h := sk.host
		h.sockmu.Lock()
		sk.listener = nil
		if sk.empty() {
			h.socketv[sk.port] = nil
		}
		h.sockmu.Unlock()
	})
	return nil
}

// Accept blocks until an inbound dial claims this listener, allocates
// a fresh socket for the new connection, and returns it. It returns an
// error once the listener, its host, or its subnetwork shuts down.
func (l *Listener) Accept() (*Conn, error) {
	h := l.socket.host
	n := h.subnet
	op := fmt.Sprintf("accept %s %s", h.Network(), l.Addr())

	for {
		var req *dialReq
		select {
		case <-l.ctx.Done():
			return nil, xerr.Context(op, l.downErr())
		case req = <-l.dialq:
		}

		h.sockmu.Lock()
		sk := h.allocFreeSocket()
		h.sockmu.Unlock()

		ack := make(chan error, 1)
		req.resp <- Accept{Addr: sk.addr(), Ack: ack}

		select {
		case <-l.ctx.Done():
			go drainAck(ack, req.raw, h, sk)
			return nil, xerr.Context(op, l.downErr())
		case err := <-ack:
			if err != nil {
				h.sockmu.Lock()
				h.socketv[sk.port] = nil
				h.sockmu.Unlock()
				continue
			}
		}

		if n.metrics != nil {
			n.metrics.Accepts.Inc()
		}

		c := newConn(sk, req.from, req.raw)
		h.sockmu.Lock()
		sk.conn = c
		h.sockmu.Unlock()
		return c, nil
	}
}

// drainAck releases a socket reserved for an accept that raced a
// shutdown: whatever the engine reports, the reservation must still be
// released and, if the handshake did complete, the raw connection it
// opened must still be closed.
func drainAck(ack chan error, raw rawconn.Conn, h *Host, sk *socket) {
	if err := <-ack; err == nil {
		raw.Close()
	}
	h.sockmu.Lock()
	h.socketv[sk.port] = nil
	h.sockmu.Unlock()
}
