// Package config loads Mudpie's configuration surface (spec §6): a list
// of ports with protocol tags, the directories searched for program
// source during seeding, the composed-cache TTL, the precompile deadline
// and the persistence path.
//
// Loading is a thin, mechanical YAML read, same as the rest of the pack
// (gopkg.in/yaml.v3) — the Non-goal on "configuration file loading" is
// about not building a general config-management subsystem on top of
// this, which Mudpie does not.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PortConfig is one listener: an address to bind and a protocol tag
// (currently informational; the session layer speaks one line protocol
// regardless of the tag).
type PortConfig struct {
	Address  string `yaml:"address"`
	Protocol string `yaml:"protocol"`
}

// Config is the parsed configuration surface.
type Config struct {
	Ports             []PortConfig  `yaml:"-"`
	ProgramDirs       []string      `yaml:"programDirs"`
	CacheTTL          time.Duration `yaml:"-"`
	// PrecompileTimeout is parsed and validated but not passed to the
	// server: mudserver's start-time precompile uses its own fixed
	// 60-second deadline.
	PrecompileTimeout time.Duration `yaml:"-"`
	DBPath            string        `yaml:"dbPath"`
}

// raw mirrors Config but keeps durations as their literal YAML strings
// ("10m", "60s"), since yaml.v3 does not know time.Duration natively.
type raw struct {
	Ports             []PortConfig `yaml:"ports"`
	ProgramDirs       []string     `yaml:"programDirs"`
	CacheTTL          string       `yaml:"cacheTTL"`
	PrecompileTimeout string       `yaml:"precompileTimeout"`
	DBPath            string       `yaml:"dbPath"`
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes config YAML from an in-memory buffer.
func Parse(data []byte) (*Config, error) {
	var r raw
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	cfg := &Config{
		Ports:       r.Ports,
		ProgramDirs: r.ProgramDirs,
		DBPath:      r.DBPath,
	}

	ttl, err := parseDurationOr(r.CacheTTL, 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config: cacheTTL: %w", err)
	}
	cfg.CacheTTL = ttl

	deadline, err := parseDurationOr(r.PrecompileTimeout, 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config: precompileTimeout: %w", err)
	}
	cfg.PrecompileTimeout = deadline

	if cfg.DBPath == "" {
		cfg.DBPath = "./mudpie.db"
	}
	return cfg, nil
}

func parseDurationOr(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}
