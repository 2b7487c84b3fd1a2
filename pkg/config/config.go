// Package config loads the node's TOML configuration file, the one format
// this system reads configuration from (no environment-variable surface
// beyond DATABASE_URL, which pkg/store's caller reads directly).
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the parsed contents of <home>/config/config.toml.
type Config struct {
	RPC      RPCConfig      `toml:"rpc"`
	CA       CAConfig       `toml:"ca"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Database DatabaseConfig `toml:"database"`
}

// RPCConfig carries the consensus host's RPC listen address, used by
// pkg/rpcclient to broadcast autonomously-signed certificates.
type RPCConfig struct {
	Laddr string `toml:"laddr"`
}

// CAConfig is the CA service's tuning: allowed templates, path length for
// newly-issued intermediates, validity windows per role, and the stagger
// delay between hierarchy levels.
type CAConfig struct {
	CAKeyFile            string   `toml:"ca_key_file"`
	AllowTemplates       []string `toml:"allow_templates"`
	NextPathLength       int      `toml:"next_path_length"`
	CAValidFor           string   `toml:"ca_valid_for"`
	HostValidFor         string   `toml:"host_valid_for"`
	UserValidFor         string   `toml:"user_valid_for"`
	WaitingForDownstream string   `toml:"waiting_for_downstream"`
}

// MetricsConfig is ambient: a node process always exposes a health/metrics
// surface regardless of the PKI business logic's own scope.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// DatabaseConfig is ambient: the store's DSN, defaulting to a local sqlite
// file when unset (matching DATABASE_URL's documented default).
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// Defaults mirror CA.DEFAULT_CONFIG, with waiting_for_downstream
// canonicalized to the 900s variant (the two values the upstream source
// disagreed on).
func Defaults() Config {
	return Config{
		CA: CAConfig{
			AllowTemplates:       []string{"CA", "Host", "User"},
			NextPathLength:       3,
			CAValidFor:           "795d",
			HostValidFor:         "530d",
			UserValidFor:         "365d",
			WaitingForDownstream: "900s",
		},
		Metrics:  MetricsConfig{ListenAddr: ":9090"},
		Database: DatabaseConfig{URL: ""},
	}
}

// Load reads and parses path (typically <home>/config/config.toml),
// overlaying it onto Defaults so a config file only needs to set the keys
// it wants to change.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

var durationPattern = regexp.MustCompile(`^(\d+)(s|ms|d)$`)

// ParseDuration accepts the three suffixes this system's config values use:
// "s" (seconds), "ms" (milliseconds) and "d" (days).
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("config: invalid duration %q, want N(s|ms|d)", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	switch m[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "ms":
		return time.Duration(n) * time.Millisecond, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("config: unreachable duration suffix %q", m[2])
	}
}
