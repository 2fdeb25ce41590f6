package main

import (
	"os"
	"path/filepath"

	"github.com/kirr-labs/lonet/internal/config"
	"github.com/kirr-labs/lonet/internal/registry"
)

// openRegistry opens the registry belonging to network, whose
// directory defaults to <root>/<network> under the configured temp
// root, the same layout lonet.Join uses.
func openRegistry(cfg config.Config, dir, network string) (*registry.Registry, error) {
	if dir == "" {
		root := cfg.TempDirRoot
		if root == "" {
			root = filepath.Join(os.TempDir(), "lonet")
		}
		dir = filepath.Join(root, network)
	}
	dbpath := filepath.Join(dir, "registry.db")
	return registry.Open(dbpath, "lonet"+network, cfg.RegistryPoolSize, nil)
}
