package lonet

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirr-labs/lonet/internal/config"
	"github.com/kirr-labs/lonet/internal/xerr"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.TempDirRoot = t.TempDir()
	return cfg
}

func TestJoinDialRefusedBeforeListen(t *testing.T) {
	ctx := context.Background()
	n, err := Join(ctx, "", testConfig(t), nil)
	require.NoError(t, err)
	defer n.Close()

	ha, err := n.NewHost("alpha")
	require.NoError(t, err)

	_, err = ha.Dial(ctx, ":0")
	require.Error(t, err)
	assert.True(t, errorIsConnRefused(err))
	assert.Contains(t, err.Error(), "[Errno 111] connection refused")
}

func TestJoinListenAllocatesPortOne(t *testing.T) {
	ctx := context.Background()
	n, err := Join(ctx, "", testConfig(t), nil)
	require.NoError(t, err)
	defer n.Close()

	ha, err := n.NewHost("alpha")
	require.NoError(t, err)

	l, err := ha.Listen("")
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 1, l.Addr().Port)
}

func TestJoinListenExplicitPortAndConflict(t *testing.T) {
	ctx := context.Background()
	n, err := Join(ctx, "", testConfig(t), nil)
	require.NoError(t, err)
	defer n.Close()

	ha, err := n.NewHost("alpha")
	require.NoError(t, err)

	l, err := ha.Listen(":7")
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 7, l.Addr().Port)

	_, err = ha.Listen(":7")
	require.Error(t, err)
}

func TestTwoProcessesDialAndEcho(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	n1, err := Join(ctx, "", cfg, nil)
	require.NoError(t, err)
	defer n1.Close()

	network := strings.TrimPrefix(n1.Network(), "lonet")

	n2, err := Join(ctx, network, cfg, nil)
	require.NoError(t, err)
	defer n2.Close()

	ha, err := n1.NewHost("alpha")
	require.NoError(t, err)
	hb, err := n2.NewHost("beta")
	require.NoError(t, err)

	l, err := ha.Listen("")
	require.NoError(t, err)
	defer l.Close()

	srvCh := make(chan *Conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := l.Accept()
		if err != nil {
			errCh <- err
			return
		}
		srvCh <- c
	}()

	cli, err := hb.Dial(ctx, "alpha:1")
	require.NoError(t, err)
	defer cli.Close()

	var srv *Conn
	select {
	case srv = <-srvCh:
	case err := <-errCh:
		t.Fatalf("accept failed: %v", err)
	}
	defer srv.Close()

	_, err = cli.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(srv, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	_, err = srv.Write([]byte("pong"))
	require.NoError(t, err)

	_, err = io.ReadFull(cli, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf))

	assert.Equal(t, "beta", cli.LocalAddr().Host)
	assert.Equal(t, "alpha", cli.RemoteAddr().Host)
	assert.Equal(t, "beta", srv.RemoteAddr().Host)
	assert.Equal(t, "alpha", srv.LocalAddr().Host)
}

func TestJoinCreatesNewNamedNetwork(t *testing.T) {
	ctx := context.Background()
	n, err := Join(ctx, "brand-new-network", testConfig(t), nil)
	require.NoError(t, err)
	defer n.Close()
	assert.Equal(t, "lonetbrand-new-network", n.Network())
}

func TestDialUnknownHost(t *testing.T) {
	ctx := context.Background()
	n, err := Join(ctx, "", testConfig(t), nil)
	require.NoError(t, err)
	defer n.Close()

	ha, err := n.NewHost("alpha")
	require.NoError(t, err)

	_, err = ha.Dial(ctx, "ghost:1")
	require.Error(t, err)
	assert.True(t, xerr.Cause(err) == xerr.ErrNoHost)
}

func errorIsConnRefused(err error) bool {
	return xerr.Cause(err) == xerr.ErrConnRefused
}
