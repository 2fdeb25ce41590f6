// Package config loads the small set of daemon-wide tunables lonet
// exposes, from an optional TOML file. Per spec.md §1, the *policy* of
// where these knobs come from is an external collaborator's concern;
// this package only provides the mechanism, following the same
// "defaults first, override from file" shape as the rest of the
// corpus's config loaders.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the tunables a lonet subnetwork or registry reads at
// startup. All fields have sensible defaults; Load never errors on a
// missing file.
type Config struct {
	// TempDirRoot is the directory network directories are created
	// in. Empty means `$TMPDIR/lonet` (spec.md §6), i.e.
	// filepath.Join(os.TempDir(), "lonet").
	TempDirRoot string `toml:"temp_dir_root"`

	// HandshakeLineLimit bounds a single handshake line, per spec.md §4.8.
	HandshakeLineLimit int `toml:"handshake_line_limit"`

	// RegistryPoolSize bounds the registry's connection pool; 0 means
	// unbounded (connections are opened on demand and never evicted
	// except on Close, matching the original's DBPool).
	RegistryPoolSize int `toml:"registry_pool_size"`

	// AcceptRateLimit/AcceptRateBurst throttle the lonet adapter's
	// serve loop against connection floods, mirroring the teacher's
	// rate.NewLimiter(1000, 1000) in listeners.go's ListenQUIC.
	AcceptRateLimit float64 `toml:"accept_rate_limit"`
	AcceptRateBurst int     `toml:"accept_rate_burst"`

	// AcceptPollInterval is the fallback poll period the serve loop
	// would need on a platform where closing a listener does not
	// interrupt a blocked Accept (spec.md §9's design note). Go's
	// net.Listener.Close always interrupts Accept, and the serve loop
	// does not read this value.
	AcceptPollInterval time.Duration `toml:"accept_poll_interval"`
}

// Default returns the configuration lonet uses when no file is
// loaded.
func Default() Config {
	return Config{
		HandshakeLineLimit: 1024,
		RegistryPoolSize:   8,
		AcceptRateLimit:    1000,
		AcceptRateBurst:    1000,
		AcceptPollInterval: time.Millisecond,
	}
}

// Load reads cfg from path, starting from Default() and overriding
// whatever the TOML file specifies. A missing file is not an error:
// Load returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
