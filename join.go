package lonet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kirr-labs/lonet/internal/config"
	"github.com/kirr-labs/lonet/internal/metrics"
	"github.com/kirr-labs/lonet/internal/registry"
	"github.com/kirr-labs/lonet/internal/virtnet"
	"github.com/kirr-labs/lonet/internal/xerr"
)

// Join joins the lonet network named network, creating its directory
// if it does not exist yet. Every subnetwork of one network shares a
// registry file rooted under cfg.TempDirRoot (or the OS temp
// directory, under a "lonet" subdirectory, if unset); joining with an
// empty name allocates a fresh, uniquely-named network the way a fresh
// temporary directory is allocated. mc may be nil, in which case no
// metrics are recorded.
func Join(ctx context.Context, network string, cfg config.Config, mc *metrics.Collector) (*SubNetwork, error) {
	root := cfg.TempDirRoot
	if root == "" {
		root = filepath.Join(os.TempDir(), "lonet")
	}
	// World-writable + sticky, like /tmp itself: any user's process must
	// be able to create or join a network under this root, while still
	// only being able to remove entries it owns.
	rootMode := os.FileMode(0o777) | os.ModeSticky
	if err := os.MkdirAll(root, rootMode); err != nil {
		return nil, xerr.Context("lonet join", err)
	}
	if err := os.Chmod(root, rootMode); err != nil {
		return nil, xerr.Context("lonet join", err)
	}

	var netdir string
	if network == "" {
		dir, err := os.MkdirTemp(root, "")
		if err != nil {
			return nil, xerr.Context("lonet join", err)
		}
		netdir = dir
		network = filepath.Base(dir)
	} else {
		netdir = filepath.Join(root, network)
		if err := os.MkdirAll(netdir, 0o700); err != nil {
			return nil, xerr.Context(fmt.Sprintf("lonet join %s", network), err)
		}
	}

	fullNetwork := "lonet" + network
	op := fmt.Sprintf("lonet join %s", network)

	dbpath := filepath.Join(netdir, "registry.db")
	reg, err := registry.Open(dbpath, fullNetwork, cfg.RegistryPoolSize, mc)
	if err != nil {
		return nil, xerr.Context(op, err)
	}

	e, err := newEngine(ctx, fullNetwork, cfg, mc, reg)
	if err != nil {
		reg.Close()
		return nil, xerr.Context(op, err)
	}

	n := virtnet.New(fullNetwork, reg, e, mc)
	e.subnet = n
	e.serve()

	return n, nil
}
