package virtnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirr-labs/lonet/internal/virtaddr"
	"github.com/kirr-labs/lonet/internal/xerr"
)

// Host is one named endpoint on a SubNetwork: a sparse table of ports
// 1..N, each holding at most one listener and one conn (spec.md §4.2).
// Port 0 is permanently vacant so a dial to ":0" on an unlistening host
// is always refused.
type Host struct {
	subnet *SubNetwork
	name   string

	sockmu  sync.Mutex
	socketv []*socket // socketv[0] is always nil

	ctx       context.Context
	cancel    context.CancelFunc
	downOnce  sync.Once
	closeOnce sync.Once
}

func newHost(n *SubNetwork, name string) *Host {
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		subnet:  n,
		name:    name,
		socketv: make([]*socket, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Network returns the name of the subnetwork this host belongs to.
func (h *Host) Network() string { return h.subnet.Network() }

// Name returns this host's name.
func (h *Host) Name() string { return h.name }

func (h *Host) isDown() bool {
	select {
	case <-h.ctx.Done():
		return true
	default:
		return false
	}
}

// downErr picks which down-cause applies right now, per spec.md §4.9:
// a subnetwork-wide shutdown takes priority over a host-only one.
func (h *Host) downErr() error {
	if h.subnet.isDown() {
		return xerr.ErrNetDown
	}
	return xerr.ErrHostDown
}

// parseAddr parses addr relative to this host: an empty host part
// defaults to this host's own name.
func (h *Host) parseAddr(addr string) (virtaddr.Addr, error) {
	a, err := virtaddr.Parse(h.Network(), addr)
	if err != nil {
		return a, err
	}
	if a.Host == "" {
		a.Host = h.name
	}
	return a, nil
}

// allocFreeSocket reserves the lowest free port >= 1 and returns its
// socket. Caller must hold sockmu.
func (h *Host) allocFreeSocket() *socket {
	port := 1
	for port < len(h.socketv) && h.socketv[port] != nil {
		port++
	}
	for port >= len(h.socketv) {
		h.socketv = append(h.socketv, nil)
	}
	sk := &socket{host: h, port: port}
	h.socketv[port] = sk
	return sk
}

// Listen opens a Listener at laddr, an address local to this host.
// An empty laddr means ":0"; an empty host part means this host; port 0
// means "lowest free port"; an explicit port already in use fails with
// ErrAddrInUse.
func (h *Host) Listen(laddr string) (*Listener, error) {
	if laddr == "" {
		laddr = ":0"
	}
	op := fmt.Sprintf("listen %s %s", h.Network(), laddr)

	a, err := h.parseAddr(laddr)
	if err != nil {
		return nil, xerr.Context(op, err)
	}
	if a.Host != h.name {
		return nil, xerr.Context(op, xerr.ErrAddrNoListen)
	}

	h.sockmu.Lock()
	defer h.sockmu.Unlock()

	if h.isDown() {
		return nil, xerr.Context(op, h.downErr())
	}

	var sk *socket
	if a.Port == 0 {
		sk = h.allocFreeSocket()
	} else {
		for a.Port >= len(h.socketv) {
			h.socketv = append(h.socketv, nil)
		}
		if h.socketv[a.Port] != nil {
			return nil, xerr.Context(op, xerr.ErrAddrInUse)
		}
		sk = &socket{host: h, port: a.Port}
		h.socketv[a.Port] = sk
	}

	l := newListener(sk)
	sk.listener = l
	return l, nil
}

// Dial reserves a source socket and connects to addr, resolved
// relative to this host, through the subnetwork's registry and engine.
func (h *Host) Dial(ctx context.Context, addr string) (*Conn, error) {
	h.sockmu.Lock()
	sk := h.allocFreeSocket()
	h.sockmu.Unlock()

	dstDisplay := addr
	c, err := h.dial(ctx, sk, addr, &dstDisplay)
	if err != nil {
		h.sockmu.Lock()
		h.socketv[sk.port] = nil
		h.sockmu.Unlock()
		return nil, xerr.Context(fmt.Sprintf("dial %s %s->%s", h.Network(), sk.addr(), dstDisplay), err)
	}
	return c, nil
}

func (h *Host) dial(ctx context.Context, sk *socket, addr string, dstDisplay *string) (*Conn, error) {
	dst, err := h.parseAddr(addr)
	if err != nil {
		return nil, err
	}
	*dstDisplay = dst.String()

	n := h.subnet
	dstdata, ok, err := n.registry.Query(dst.Host)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerr.ErrNoHost
	}

	raw, acceptedAddr, err := n.engine.Dial(ctx, sk.addr(), dst, dstdata)
	if err != nil {
		return nil, err
	}

	if n.metrics != nil {
		n.metrics.Dials.Inc()
	}

	c := newConn(sk, acceptedAddr, raw)
	h.sockmu.Lock()
	sk.conn = c
	h.sockmu.Unlock()
	return c, nil
}

// shutdown tears down every listener and conn this host owns. It is
// idempotent and does not itself decrement the subnetwork's open-host
// count; that happens in Close.
func (h *Host) shutdown() {
	h.downOnce.Do(func() {
		h.cancel()
		h.sockmu.Lock()
		defer h.sockmu.Unlock()
		for _, sk := range h.socketv {
			if sk == nil {
				continue
			}
			if sk.conn != nil {
				sk.conn.shutdown()
			}
			if sk.listener != nil {
				sk.listener.shutdown()
			}
		}
	})
}

// Close shuts this host down and, if the subnetwork has Autoclose
// armed and this was its last open host, closes the subnetwork too.
// It is idempotent.
func (h *Host) Close() error {
	defer h.closeOnce.Do(func() {
		n := h.subnet
		n.hostmu.Lock()
		n.nopenhosts--
		if n.nopenhosts < 0 {
			n.hostmu.Unlock()
			panic("BUG: SubNetwork.nopenhosts < 0")
		}
		if n.metrics != nil {
			n.metrics.HostsOpen.Set(float64(n.nopenhosts))
		}
		autoclose := n.autoclose && n.nopenhosts == 0
		n.hostmu.Unlock()
		if autoclose {
			n.closeWithoutHosts()
		}
	})
	h.shutdown()
	return nil
}
