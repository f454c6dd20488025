// Package config loads the service configuration: a TOML file with
// sensible defaults, overridable per-key by CLI flags.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config carries every tunable of the binary.
type Config struct {
	// Upstream is the base URL of the mirrored monorepo.
	Upstream string `toml:"upstream"`
	// Token is the optional bearer token for upstream requests.
	Token string `toml:"token"`
	// IndexPath is the SQLite index file.
	IndexPath string `toml:"index_path"`
	// SupplementSources are tried in order; "none" disables.
	SupplementSources []string `toml:"supplement_sources"`
	// Listen is the serve address.
	Listen string `toml:"listen"`
	// SnapshotTemplate renders snapshot redirect targets; %s is replaced
	// by the commit id.
	SnapshotTemplate string `toml:"snapshot_template"`

	FetchBatchSize int `toml:"fetch_batch_size"`
	WriteBatchSize int `toml:"write_batch_size"`
	Concurrency    int `toml:"concurrency"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Upstream:          "https://github.com/archlinux/aur.git",
		IndexPath:         "aurmeta.db",
		SupplementSources: []string{"https://aur.archlinux.org/packages-meta-ext-v1.json.gz"},
		Listen:            ":8080",
		SnapshotTemplate:  "https://github.com/archlinux/aur/archive/%s.tar.gz",
	}
}

// Load reads the TOML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
