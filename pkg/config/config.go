// Package config holds the coordinator's startup configuration. Values are
// read once at startup and never changed afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full coordinator configuration.
type Config struct {
	// ListenAddr is the UDP address the coordinator receives on.
	ListenAddr string `yaml:"listen_addr"`

	// HTTPAddr serves the inspection API, metrics and the blacklist feed.
	// Empty disables the HTTP server.
	HTTPAddr string `yaml:"http_addr"`

	// InboxSize bounds the queue between the transport and the event loop.
	InboxSize int `yaml:"inbox_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Pools     PoolConfig      `yaml:"pools"`
	Detection DetectionConfig `yaml:"detection"`
}

// PoolConfig sizes the bounded pools and their timers.
type PoolConfig struct {
	MaxNodes         int           `yaml:"max_nodes"`
	MaxBlacklist     int           `yaml:"max_blacklist"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	EntryTimeout     time.Duration `yaml:"entry_timeout"`
	BlacklistTimeout time.Duration `yaml:"blacklist_timeout"`
}

// DetectionConfig tunes the risk score.
type DetectionConfig struct {
	MinPacketsForDetection int     `yaml:"min_packets_for_detection"`
	RateLimitPackets       int     `yaml:"rate_limit_packets"`
	RateWeight             float64 `yaml:"rate_weight"`
	PatternWeight          float64 `yaml:"pattern_weight"`
	DetectionThreshold     float64 `yaml:"detection_threshold"`
	AttackThreshold        float64 `yaml:"attack_threshold"`

	// BaselineSize is the expected steady-state payload length.
	BaselineSize uint32 `yaml:"baseline_size"`
}

// Default returns the reference configuration of the mesh controller.
func Default() *Config {
	return &Config{
		ListenAddr: "[::]:5678",
		HTTPAddr:   "127.0.0.1:9090",
		InboxSize:  64,
		LogLevel:   "info",
		LogFormat:  "text",
		Pools: PoolConfig{
			MaxNodes:         4,
			MaxBlacklist:     4,
			CleanupInterval:  10 * time.Second,
			EntryTimeout:     30 * time.Second,
			BlacklistTimeout: 60 * time.Second,
		},
		Detection: DetectionConfig{
			MinPacketsForDetection: 5,
			RateLimitPackets:       5,
			RateWeight:             0.4,
			PatternWeight:          0.6,
			DetectionThreshold:     0.6,
			AttackThreshold:        0.8,
			BaselineSize:           64,
		},
	}
}

// Load reads a YAML file over the defaults. A missing path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks ranges. It does not touch the network.
func (c *Config) Validate() error {
	p, d := c.Pools, c.Detection

	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("%w: listen_addr is empty", ErrInvalid)
	case c.InboxSize <= 0:
		return fmt.Errorf("%w: inbox_size must be positive", ErrInvalid)
	case p.MaxNodes <= 0:
		return fmt.Errorf("%w: max_nodes must be positive", ErrInvalid)
	case p.MaxBlacklist <= 0:
		return fmt.Errorf("%w: max_blacklist must be positive", ErrInvalid)
	case p.CleanupInterval < time.Second:
		return fmt.Errorf("%w: cleanup_interval must be at least 1s", ErrInvalid)
	case p.EntryTimeout < time.Second:
		return fmt.Errorf("%w: entry_timeout must be at least 1s", ErrInvalid)
	case p.BlacklistTimeout < time.Second:
		return fmt.Errorf("%w: blacklist_timeout must be at least 1s", ErrInvalid)
	case p.EntryTimeout%time.Second != 0:
		return fmt.Errorf("%w: entry_timeout must be whole seconds, got %s", ErrInvalid, p.EntryTimeout)
	case p.BlacklistTimeout%time.Second != 0:
		return fmt.Errorf("%w: blacklist_timeout must be whole seconds, got %s", ErrInvalid, p.BlacklistTimeout)
	case d.MinPacketsForDetection <= 0:
		return fmt.Errorf("%w: min_packets_for_detection must be positive", ErrInvalid)
	case d.RateLimitPackets <= 0:
		return fmt.Errorf("%w: rate_limit_packets must be positive", ErrInvalid)
	case d.BaselineSize == 0:
		return fmt.Errorf("%w: baseline_size must be positive", ErrInvalid)
	}

	for name, v := range map[string]float64{
		"rate_weight":         d.RateWeight,
		"pattern_weight":      d.PatternWeight,
		"detection_threshold": d.DetectionThreshold,
		"attack_threshold":    d.AttackThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be within [0,1], got %g", ErrInvalid, name, v)
		}
	}
	return nil
}

// Seconds converts d to whole seconds, the resolution of the coordinator
// clock. Validate rejects timeouts that would be truncated.
func Seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
