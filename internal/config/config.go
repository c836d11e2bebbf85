// Package config carries process-wide settings as an explicit object
// rather than free-standing globals, per the core's design notes on
// re-expressing mutable global state as a context object created once
// at startup and threaded through constructors.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StageConfig controls a single operator kind's worker pool and OSP
// sharing policy.
type StageConfig struct {
	Workers        int  `yaml:"workers"`
	SharingEnabled bool `yaml:"sharing_enabled"`
}

// Config is the process-wide settings object. It is constructed once
// before any Page is allocated and passed explicitly to the dispatcher,
// page pools, and temp-file helper.
type Config struct {
	// DefaultPageSize is the page size of the engine's shared pool. Once
	// FreezePageSize has been called, SetDefaultPageSize panics instead
	// of changing it.
	DefaultPageSize int `yaml:"default_page_size"`

	// Stages maps an operator kind name (e.g. "hash-join", "sort") to its
	// worker pool and sharing configuration.
	Stages map[string]StageConfig `yaml:"stages"`

	// TempDir is the directory used by the temp-file helper for spill
	// files, sort runs, and merge outputs.
	TempDir string `yaml:"temp_dir"`

	// MaxConcurrentMerges is the merge fan-in handed to the sort operator
	// (see qflow's Engine.SortDefaults): the most runs one merge pass
	// combines. Zero leaves the sort operator's own default
	// (sort.DefaultMaxConcurrentMerges).
	MaxConcurrentMerges int `yaml:"max_concurrent_merges"`

	// MaxJoinRecursionDepth bounds how many times a hash-join spilled
	// partition may recurse before falling back to a sort-merge join.
	MaxJoinRecursionDepth int `yaml:"max_join_recursion_depth"`

	pageSizeFrozen bool
}

// Default returns a Config with sensible defaults for a single process.
func Default() *Config {
	return &Config{
		DefaultPageSize: 8192,
		Stages: map[string]StageConfig{
			"scan":       {Workers: 4, SharingEnabled: true},
			"filter":     {Workers: 4, SharingEnabled: false},
			"project":    {Workers: 4, SharingEnabled: false},
			"hash-join":  {Workers: 2, SharingEnabled: false},
			"sort":       {Workers: 2, SharingEnabled: false},
			"merge":      {Workers: 4, SharingEnabled: false},
			"aggregate":  {Workers: 2, SharingEnabled: true},
			"sieve":      {Workers: 2, SharingEnabled: false},
			"echo":       {Workers: 2, SharingEnabled: false},
			"func-call":  {Workers: 2, SharingEnabled: false},
			"fscan":      {Workers: 4, SharingEnabled: true},
			"fdump":      {Workers: 2, SharingEnabled: false},
		},
		TempDir:               os.TempDir(),
		MaxConcurrentMerges:   4,
		MaxJoinRecursionDepth: 6,
	}
}

// Load reads a YAML configuration file and merges it over Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if overlay.DefaultPageSize != 0 {
		cfg.DefaultPageSize = overlay.DefaultPageSize
	}
	if overlay.TempDir != "" {
		cfg.TempDir = overlay.TempDir
	}
	if overlay.MaxConcurrentMerges != 0 {
		cfg.MaxConcurrentMerges = overlay.MaxConcurrentMerges
	}
	if overlay.MaxJoinRecursionDepth != 0 {
		cfg.MaxJoinRecursionDepth = overlay.MaxJoinRecursionDepth
	}
	for kind, sc := range overlay.Stages {
		cfg.Stages[kind] = sc
	}

	return cfg, nil
}

// StageFor returns the configuration for a given operator kind, falling
// back to a single-worker, non-sharing default if the kind was never
// registered explicitly.
func (c *Config) StageFor(kind string) StageConfig {
	if sc, ok := c.Stages[kind]; ok {
		return sc
	}
	return StageConfig{Workers: 1, SharingEnabled: false}
}

// FreezePageSize marks the default page size as no longer changeable.
// Nothing in this module calls it: allocating a Page, from the engine's
// pool or any other, does not freeze the size.
func (c *Config) FreezePageSize() {
	c.pageSizeFrozen = true
}

// SetDefaultPageSize changes DefaultPageSize. It panics once
// FreezePageSize has been called; allocating pages alone does not make
// it panic.
func (c *Config) SetDefaultPageSize(n int) {
	if c.pageSizeFrozen {
		panic("config: SetDefaultPageSize called after first page allocation")
	}
	c.DefaultPageSize = n
}
