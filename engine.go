package lonet

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kirr-labs/lonet/internal/config"
	"github.com/kirr-labs/lonet/internal/lonetlog"
	"github.com/kirr-labs/lonet/internal/metrics"
	"github.com/kirr-labs/lonet/internal/rawconn"
	"github.com/kirr-labs/lonet/internal/registry"
	"github.com/kirr-labs/lonet/internal/virtaddr"
	"github.com/kirr-labs/lonet/internal/virtnet"
	"github.com/kirr-labs/lonet/internal/xerr"
)

// engine is the concrete virtnet.Engine for one joined subnetwork
// process: it owns the one real loopback listener all of that
// subnetwork's virtual hosts share, runs its accept loop under an
// errgroup so every per-connection goroutine it spawns is tracked and
// joined on shutdown, and speaks the handshake in handshake.go to
// route inbound connections to the right virtual host and port.
type engine struct {
	network  string
	cfg      config.Config
	metrics  *metrics.Collector
	listener rawconn.Listener
	osladdr  string
	limiter  *rate.Limiter
	reg      *registry.Registry

	subnet *virtnet.SubNetwork // set by Join once the SubNetwork exists

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

func newEngine(ctx context.Context, network string, cfg config.Config, mc *metrics.Collector, reg *registry.Registry) (*engine, error) {
	ln, err := rawconn.ListenLoopback(ctx)
	if err != nil {
		return nil, err
	}
	egctx, cancel := context.WithCancel(context.Background())
	group, egctx := errgroup.WithContext(egctx)
	return &engine{
		network:  network,
		cfg:      cfg,
		metrics:  mc,
		listener: ln,
		osladdr:  ln.Addr().String(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.AcceptRateLimit), cfg.AcceptRateBurst),
		reg:      reg,
		ctx:      egctx,
		cancel:   cancel,
		group:    group,
	}, nil
}

// NewHost implements virtnet.Engine: every host on this subnetwork
// process shares the one real listener, so they all announce the same
// osladdr; the handshake's dst field is what actually routes an
// inbound dial to the right host.
func (e *engine) NewHost(hostname string) error {
	return e.reg.Announce(hostname, e.osladdr)
}

// Dial implements virtnet.Engine: open a real connection to dstData
// (the peer subnetwork's listener address) and run the dialer side of
// the handshake.
func (e *engine) Dial(ctx context.Context, src, dst virtaddr.Addr, dstData string) (rawconn.Conn, virtaddr.Addr, error) {
	dialID := uuid.New().String()
	log := lonetlog.L().With(zap.String("dial_id", dialID), zap.Stringer("src", src), zap.Stringer("dst", dst))

	conn, err := rawconn.Dial(ctx, dstData)
	if err != nil {
		log.Debug("lonet dial: connect failed", zap.Error(err))
		return nil, virtaddr.Addr{}, err
	}
	acceptedAddr, err := loconnect(conn, e.cfg.HandshakeLineLimit, e.network, src, dst)
	if err != nil {
		conn.Close()
		if e.metrics != nil {
			e.metrics.HandshakeErrors.Inc()
		}
		log.Debug("lonet dial: handshake failed", zap.Error(err))
		return nil, virtaddr.Addr{}, err
	}
	log.Debug("lonet dial: established", zap.Stringer("accepted", acceptedAddr))
	return conn, acceptedAddr, nil
}

// Close implements virtnet.Engine: stop the accept loop, close the
// real listener, and wait for every in-flight handleConn goroutine.
func (e *engine) Close() error {
	e.cancel()
	err := e.listener.Close()
	if werr := e.group.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}

// serve runs the accept loop under the engine's errgroup. It must be
// called only after e.subnet has been set.
func (e *engine) serve() {
	e.group.Go(func() error {
		for {
			if err := e.limiter.Wait(e.ctx); err != nil {
				return nil
			}
			conn, err := e.listener.Accept()
			if err != nil {
				select {
				case <-e.ctx.Done():
					return nil
				default:
				}
				e.subnet.VnetDown(err)
				return err
			}
			e.group.Go(func() error {
				e.handleConn(conn)
				return nil
			})
		}
	})
}

// handleConn runs the acceptor side of the handshake for one inbound
// real connection and, on success, hands it to virtnet for rendezvous
// with whatever Listener.Accept call claims it.
func (e *engine) handleConn(conn rawconn.Conn) {
	acceptID := uuid.New().String()
	log := lonetlog.L().With(zap.String("accept_id", acceptID), zap.String("network", e.network))

	src, dst, err := loaccept(conn, e.cfg.HandshakeLineLimit, e.network)
	if err != nil {
		log.Warn("lonet handshake rejected", zap.Error(err))
		if e.metrics != nil {
			e.metrics.HandshakeErrors.Inc()
		}
		sendRefuse(conn, e.network, err)
		conn.Close()
		return
	}
	log = log.With(zap.Stringer("src", src), zap.Stringer("dst", dst))

	accept, err := e.subnet.Accept(src, dst, conn)
	if err != nil {
		if e.metrics != nil {
			e.metrics.AcceptsRefused.Inc()
		}
		if xerr.Cause(err) == xerr.ErrConnRefused {
			log.Debug("lonet accept refused", zap.Error(err))
		} else {
			log.Warn("lonet accept failed", zap.Error(err))
		}
		sendRefuse(conn, e.network, err)
		conn.Close()
		return
	}

	sendErr := sendAccept(conn, e.network, accept.Addr)
	accept.Ack <- sendErr
	if sendErr != nil {
		if e.metrics != nil {
			e.metrics.HandshakeErrors.Inc()
		}
		log.Warn("lonet accept ack failed", zap.Stringer("addr", accept.Addr), zap.Error(sendErr))
	}
}

var _ virtnet.Engine = (*engine)(nil)
