// Package config loads the handful of engine-level knobs spec.md
// leaves to "the implementer's choice": the base directory table files
// live under, the per-table file extension, and the buffer pool's
// frame count.
//
// Grounded on the teacher's YAML struct-tag/yaml.Unmarshal pattern
// (internal/testhelper/examples_test.go), the only place the teacher's
// own tree actually parses YAML — relstore generalizes that pattern
// from test fixtures to a real engine config file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultExtension is used when a config file omits Extension.
const DefaultExtension = ".tbl"

// DefaultBufferPoolSize is used when a config file omits BufferPoolSize.
const DefaultBufferPoolSize = 128

// Config holds the engine's on-disk and buffer pool settings.
type Config struct {
	// BaseDir is the directory table files are created under.
	BaseDir string `yaml:"base_dir"`
	// Extension is the per-table file suffix (spec.md §6's EXT).
	Extension string `yaml:"extension"`
	// BufferPoolSize is the number of frames in the buffer pool.
	BufferPoolSize int `yaml:"buffer_pool_size"`
}

// Default returns a Config with BaseDir set to baseDir and every other
// field at its documented default.
func Default(baseDir string) Config {
	return Config{
		BaseDir:        baseDir,
		Extension:      DefaultExtension,
		BufferPoolSize: DefaultBufferPoolSize,
	}
}

// Load reads and parses a YAML config file at path, filling in
// documented defaults for any field the file omits.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Config{Extension: DefaultExtension, BufferPoolSize: DefaultBufferPoolSize}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports whether cfg is usable: BaseDir must be set and
// BufferPoolSize must be positive (a pool of zero frames could never
// hold even the page currently being read).
func (c Config) Validate() error {
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir must not be empty")
	}
	if c.BufferPoolSize <= 0 {
		return fmt.Errorf("buffer_pool_size must be positive, got %d", c.BufferPoolSize)
	}
	return nil
}
