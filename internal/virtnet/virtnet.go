// Package virtnet is the language-neutral core of lonet: the
// per-subnetwork data model of hosts, sockets, listeners and
// connections, port allocation, entity lifecycles, and the concurrent
// dial/accept rendezvous, per spec.md §3-§5. It knows nothing about
// real sockets or the lonet text handshake; those live in the
// concrete Engine a caller supplies (see package lonet).
//
// Concurrency follows the rest of the corpus's idiom for a
// broadcast-once shutdown signal: a context.Context cancelled exactly
// once via sync.Once, rather than the closed-channel-of-the-original
// (see SPEC_FULL.md §5). Every blocking wait races the relevant
// entity's ctx.Done() the same way spec.md §4.4/§4.5 race against
// "down".
package virtnet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kirr-labs/lonet/internal/lonetlog"
	"github.com/kirr-labs/lonet/internal/metrics"
	"github.com/kirr-labs/lonet/internal/rawconn"
	"github.com/kirr-labs/lonet/internal/virtaddr"
	"github.com/kirr-labs/lonet/internal/xerr"
)

// Registry is the subset of registry.Registry that virtnet needs: a
// hostname -> loopback-address map, owned exclusively by one
// SubNetwork and closed when it closes.
type Registry interface {
	Announce(hostname, osladdr string) error
	Query(hostname string) (osladdr string, ok bool, err error)
	Close() error
}

// Engine is implemented by a concrete subnetwork adapter (the lonet
// package) to supply the real-world behavior virtnet's generic core
// delegates to: announcing a new host, dialing out to a peer, and
// releasing real resources on close.
type Engine interface {
	// NewHost announces hostname (e.g. in the registry) before it is
	// visible in the subnetwork's host table.
	NewHost(hostname string) error

	// Dial opens a real connection from src to dst, given the peer's
	// registry data, and returns it along with the address the
	// acceptor bound the connection to.
	Dial(ctx context.Context, src, dst virtaddr.Addr, dstData string) (rawconn.Conn, virtaddr.Addr, error)

	// Close releases the engine's real resources (listener, serve
	// loop). Called once, after every host has shut down.
	Close() error
}

// SubNetwork is one process's membership in a virtnet network: it
// owns a Registry, a set of named Hosts, and the broadcast shutdown
// signal all of them race against.
type SubNetwork struct {
	network  string
	registry Registry
	engine   Engine
	metrics  *metrics.Collector

	hostmu     sync.Mutex
	hostmap    map[string]*Host
	nopenhosts int
	autoclose  bool

	ctx      context.Context
	cancel   context.CancelFunc
	downOnce sync.Once
}

// New creates a SubNetwork named network, backed by registry and
// engine. mc may be nil, in which case no metrics are recorded.
func New(network string, registry Registry, engine Engine, mc *metrics.Collector) *SubNetwork {
	ctx, cancel := context.WithCancel(context.Background())
	return &SubNetwork{
		network:  network,
		registry: registry,
		engine:   engine,
		metrics:  mc,
		hostmap:  make(map[string]*Host),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Network returns the full network name, e.g. "lonetX".
func (n *SubNetwork) Network() string { return n.network }

func (n *SubNetwork) isDown() bool {
	select {
	case <-n.ctx.Done():
		return true
	default:
		return false
	}
}

// NewHost creates a new Host named name on this subnetwork. It calls
// engine.NewHost before the name becomes visible in the host table, so
// a name already held by any subnetwork sharing the registry is
// rejected there before it is ever inserted locally. A peer resolving
// the name through the registry can therefore see it slightly before
// this subnetwork's host table does.
func (n *SubNetwork) NewHost(name string) (*Host, error) {
	op := fmt.Sprintf("virtnet %s: new host %s", n.network, name)

	n.hostmu.Lock()
	if n.isDown() {
		n.hostmu.Unlock()
		return nil, xerr.Context(op, xerr.ErrNetDown)
	}
	if _, exists := n.hostmap[name]; exists {
		n.hostmu.Unlock()
		return nil, xerr.Context(op, xerr.ErrHostAlreadyUsed)
	}
	n.hostmu.Unlock()

	if err := n.engine.NewHost(name); err != nil {
		return nil, xerr.Context(op, err)
	}

	n.hostmu.Lock()
	defer n.hostmu.Unlock()
	if n.isDown() {
		return nil, xerr.Context(op, xerr.ErrNetDown)
	}
	if _, exists := n.hostmap[name]; exists {
		panic(fmt.Sprintf("BUG: virtnet %s: new host %s: announced ok but hostmap already has it", n.network, name))
	}
	h := newHost(n, name)
	n.hostmap[name] = h
	n.nopenhosts++
	if n.metrics != nil {
		n.metrics.HostsOpen.Set(float64(n.nopenhosts))
	}
	return h, nil
}

// Host returns the local Host by name, or nil if none is registered
// locally under that name.
func (n *SubNetwork) Host(name string) *Host {
	n.hostmu.Lock()
	defer n.hostmu.Unlock()
	return n.hostmap[name]
}

// Autoclose arranges for the subnetwork to close itself once its last
// currently-open host closes. It is a bug to call Autoclose with no
// open hosts.
func (n *SubNetwork) Autoclose() {
	n.hostmu.Lock()
	defer n.hostmu.Unlock()
	if n.nopenhosts == 0 {
		panic("BUG: SubNetwork.Autoclose: no open hosts")
	}
	n.autoclose = true
}

// Close shuts the subnetwork down: every host, then the engine, then
// the registry. It is idempotent.
func (n *SubNetwork) Close() error {
	return xerr.Context(fmt.Sprintf("virtnet %s: close", n.network), n.shutdown(nil, true))
}

// closeWithoutHosts runs the shutdown cascade without re-shutting-down
// hosts, used when the last host's own close triggers autoclose (that
// host's shutdown cascade already covered every host).
func (n *SubNetwork) closeWithoutHosts() {
	n.shutdown(nil, false)
}

// VnetDown shuts the subnetwork down in response to an engine-level
// failure (e.g. the real listener erroring out). The cause is logged,
// never returned to any caller, matching spec.md §4.6/§7.
func (n *SubNetwork) VnetDown(cause error) {
	err := n.shutdown(cause, true)
	if err != nil {
		lonetlog.L().Error("virtnet shutdown", zap.String("network", n.network), zap.Error(err))
	}
}

func (n *SubNetwork) shutdown(cause error, withHosts bool) error {
	fired := false
	n.downOnce.Do(func() {
		fired = true
		n.cancel()
	})
	if !fired {
		return nil
	}

	if withHosts {
		n.hostmu.Lock()
		hosts := make([]*Host, 0, len(n.hostmap))
		for _, h := range n.hostmap {
			hosts = append(hosts, h)
		}
		n.hostmu.Unlock()
		for _, h := range hosts {
			h.shutdown()
		}
	}

	if cause != nil {
		lonetlog.L().Error("virtnet engine failure", zap.String("network", n.network), zap.Error(cause))
	}

	var errs []error
	if err := n.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := n.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Accept is the inbound hook a concrete engine calls when a real
// connection arrives claiming (src, dst): it resolves dst.Host's
// listener and rendezvous with whichever goroutine is blocked in that
// listener's Accept, per spec.md §4.5.
func (n *SubNetwork) Accept(src, dst virtaddr.Addr, raw rawconn.Conn) (Accept, error) {
	n.hostmu.Lock()
	h := n.hostmap[dst.Host]
	n.hostmu.Unlock()
	if h == nil {
		return Accept{}, xerr.ErrNoHost
	}

	h.sockmu.Lock()
	if dst.Port <= 0 || dst.Port >= len(h.socketv) || h.socketv[dst.Port] == nil || h.socketv[dst.Port].listener == nil {
		h.sockmu.Unlock()
		return Accept{}, xerr.ErrConnRefused
	}
	l := h.socketv[dst.Port].listener
	h.sockmu.Unlock()

	resp := make(chan Accept, 1)
	req := &dialReq{from: src, raw: raw, resp: resp}

	select {
	case <-l.ctx.Done():
		return Accept{}, xerr.ErrConnRefused
	case l.dialq <- req:
	}

	return <-resp, nil
}
