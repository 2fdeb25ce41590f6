package virtnet

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirr-labs/lonet/internal/rawconn"
	"github.com/kirr-labs/lonet/internal/virtaddr"
	"github.com/kirr-labs/lonet/internal/xerr"
)

// fakeRegistry is an in-memory stand-in for package registry, shared
// by every SubNetwork in one test the way one SQLite file would be.
type fakeRegistry struct {
	mu    sync.Mutex
	hosts map[string]string
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{hosts: map[string]string{}} }

func (r *fakeRegistry) Announce(hostname, osladdr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hosts[hostname]; ok {
		return xerr.ErrHostAlreadyUsed
	}
	r.hosts[hostname] = osladdr
	return nil
}

func (r *fakeRegistry) Query(hostname string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr, ok := r.hosts[hostname]
	return addr, ok, nil
}

func (r *fakeRegistry) Close() error { return nil }

// fakeDirectory maps an engine's osladdr to its SubNetwork, letting
// fakeEngine.Dial reach a peer directly instead of through a real
// socket, the way the lonet adapter reaches a peer through a real TCP
// connection to its loopback listener.
type fakeDirectory struct {
	mu   sync.Mutex
	nets map[string]*SubNetwork
}

func newFakeDirectory() *fakeDirectory { return &fakeDirectory{nets: map[string]*SubNetwork{}} }

func (d *fakeDirectory) register(osladdr string, n *SubNetwork) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nets[osladdr] = n
}

func (d *fakeDirectory) get(osladdr string) *SubNetwork {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nets[osladdr]
}

type fakeEngine struct {
	osladdr string
	dir     *fakeDirectory
	reg     *fakeRegistry
}

func (e *fakeEngine) NewHost(name string) error { return e.reg.Announce(name, e.osladdr) }
func (e *fakeEngine) Close() error              { return nil }

func (e *fakeEngine) Dial(ctx context.Context, src, dst virtaddr.Addr, dstdata string) (rawconn.Conn, virtaddr.Addr, error) {
	target := e.dir.get(dstdata)
	if target == nil {
		return nil, virtaddr.Addr{}, xerr.ErrConnRefused
	}
	client, server := net.Pipe()
	accept, err := target.Accept(src, dst, server)
	if err != nil {
		client.Close()
		server.Close()
		return nil, virtaddr.Addr{}, err
	}
	accept.Ack <- nil
	return client, accept.Addr, nil
}

func newTestSubNetwork(t *testing.T, network, osladdr string, reg *fakeRegistry, dir *fakeDirectory) *SubNetwork {
	t.Helper()
	n := New(network, reg, &fakeEngine{osladdr: osladdr, dir: dir, reg: reg}, nil)
	dir.register(osladdr, n)
	return n
}

func TestDialRefusedBeforeListen(t *testing.T) {
	reg := newFakeRegistry()
	dir := newFakeDirectory()
	n := newTestSubNetwork(t, "lonetX", "a", reg, dir)

	ha, err := n.NewHost("alpha")
	require.NoError(t, err)

	_, err = ha.Dial(context.Background(), ":0")
	require.Error(t, err)
	assert.True(t, errors.Is(xerr.Cause(err), xerr.ErrConnRefused))
	assert.Contains(t, err.Error(), "[Errno 111] connection refused")
}

func TestListenAllocatesPortOne(t *testing.T) {
	reg := newFakeRegistry()
	dir := newFakeDirectory()
	n := newTestSubNetwork(t, "lonetX", "a", reg, dir)

	ha, err := n.NewHost("alpha")
	require.NoError(t, err)

	l, err := ha.Listen("")
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 1, l.Addr().Port)
}

func TestListenExplicitPortAndConflict(t *testing.T) {
	reg := newFakeRegistry()
	dir := newFakeDirectory()
	n := newTestSubNetwork(t, "lonetX", "a", reg, dir)

	ha, err := n.NewHost("alpha")
	require.NoError(t, err)

	l, err := ha.Listen(":5")
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 5, l.Addr().Port)

	_, err = ha.Listen(":5")
	require.Error(t, err)
	assert.True(t, errors.Is(xerr.Cause(err), xerr.ErrAddrInUse))
}

func TestConcurrentDialsGetDistinctAcceptPorts(t *testing.T) {
	reg := newFakeRegistry()
	dir := newFakeDirectory()

	acceptorNet := newTestSubNetwork(t, "lonetX", "a", reg, dir)
	dialerNet := newTestSubNetwork(t, "lonetX", "b", reg, dir)

	ha, err := acceptorNet.NewHost("alpha")
	require.NoError(t, err)
	hb, err := dialerNet.NewHost("beta")
	require.NoError(t, err)
	hc, err := dialerNet.NewHost("gamma")
	require.NoError(t, err)

	l, err := ha.Listen("")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan *Conn, 2)
	go func() {
		for i := 0; i < 2; i++ {
			c, err := l.Accept()
			require.NoError(t, err)
			accepted <- c
		}
	}()

	c1, err := hb.Dial(context.Background(), "alpha:1")
	require.NoError(t, err)
	defer c1.Close()

	c2, err := hc.Dial(context.Background(), "alpha:1")
	require.NoError(t, err)
	defer c2.Close()

	srv1 := <-accepted
	srv2 := <-accepted
	defer srv1.Close()
	defer srv2.Close()

	ports := map[int]bool{srv1.LocalAddr().Port: true, srv2.LocalAddr().Port: true}
	assert.True(t, ports[2])
	assert.True(t, ports[3])
}

func TestHostAlreadyRegistered(t *testing.T) {
	reg := newFakeRegistry()
	dir := newFakeDirectory()
	n := newTestSubNetwork(t, "lonetX", "a", reg, dir)

	_, err := n.NewHost("alpha")
	require.NoError(t, err)

	_, err = n.NewHost("alpha")
	require.Error(t, err)
	assert.True(t, errors.Is(xerr.Cause(err), xerr.ErrHostAlreadyUsed))
}

func TestCloseShutsDownListeners(t *testing.T) {
	reg := newFakeRegistry()
	dir := newFakeDirectory()
	n := newTestSubNetwork(t, "lonetX", "a", reg, dir)

	ha, err := n.NewHost("alpha")
	require.NoError(t, err)
	l, err := ha.Listen("")
	require.NoError(t, err)

	require.NoError(t, n.Close())

	_, err = l.Accept()
	require.Error(t, err)
	assert.True(t, errors.Is(xerr.Cause(err), xerr.ErrNetDown))
}
