// Package config loads the jsonline CLI configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/invopop/jsonschema"
	"github.com/maruel/jsonline/internal/jsonline"
	"github.com/maruel/jsonline/internal/posindex"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration of the CLI. Flags override its values.
type Config struct {
	CacheSize     int    `yaml:"cache_size,omitempty" json:"cache_size,omitempty" jsonschema:"description=Decoded records kept in memory; 0 disables the cache,minimum=0"`
	Compression   string `yaml:"compression,omitempty" json:"compression,omitempty" jsonschema:"description=Index artifact compression,enum=gzip,enum=zstd,enum=snappy,enum=none"`
	NonStringKeys bool   `yaml:"non_string_keys,omitempty" json:"non_string_keys,omitempty" jsonschema:"description=Accept maps with integer keys and write them as strings"`
	NoSync        bool   `yaml:"no_sync,omitempty" json:"no_sync,omitempty" jsonschema:"description=Skip fsync after writes"`
	Watch         bool   `yaml:"watch,omitempty" json:"watch,omitempty" jsonschema:"description=Watch the data file for external modifications"`
	LogLevel      string `yaml:"log_level,omitempty" json:"log_level,omitempty" jsonschema:"description=Log level,enum=debug,enum=info,enum=warn,enum=error"`
	// Catalog is the path of a bbolt database holding index artifacts instead
	// of sidecar files.
	Catalog string `yaml:"catalog,omitempty" json:"catalog,omitempty" jsonschema:"description=bbolt database storing index artifacts instead of sidecar .idx files"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	return &Config{
		CacheSize:   jsonline.DefaultCacheSize,
		Compression: posindex.CompressionGzip.String(),
		LogLevel:    "info",
	}
}

// Load reads the YAML file at path on top of Default(). A missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-specified config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size must be >= 0, got %d", c.CacheSize)
	}
	if _, err := posindex.ParseCompression(c.Compression); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", c.LogLevel)
	}
}

// Options converts the configuration to store options. Artifacts, Logger and
// Registerer are left to the caller.
func (c *Config) Options() (*jsonline.Options, error) {
	comp, err := posindex.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	cacheSize := c.CacheSize
	if cacheSize == 0 {
		// The file uses 0 for "no cache", Options uses a negative value.
		cacheSize = -1
	}
	return &jsonline.Options{
		CacheSize:     cacheSize,
		Compression:   comp,
		NonStringKeys: c.NonStringKeys,
		NoSync:        c.NoSync,
		Watch:         c.Watch,
	}, nil
}

// Schema returns the JSON schema of the configuration file, indented.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.Reflect(&Config{})
	s.Title = "jsonline configuration"
	return json.MarshalIndent(s, "", "  ")
}
