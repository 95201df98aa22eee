// Package config loads minicl configuration from YAML, environment and defaults.
//
// Precedence, lowest to highest: DefaultConfig, the YAML file, MINICL_* environment
// variables. Environment names are the YAML path upper-cased with dots replaced by
// underscores, e.g. device.backend → MINICL_DEVICE_BACKEND.
//
// Example config.yaml:
//
//	device:
//	  backend: auto        # auto | opencl | host
//	  selector: 0
//	  fallback_on_error: true
//	build:
//	  options: "-w"
//	cache:
//	  enabled: true
//	  max_entries: 64
//	  ttl: 10m
//	pool:
//	  enabled: true
//	  max_bytes: 1048576
//	profile:
//	  dir: ~/.minicl/profile
//	log:
//	  verbosity: 0
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/minicl/pkg/gpu"
	"github.com/orneryd/minicl/pkg/pool"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MINICL"

// Config represents the application configuration
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Build   BuildConfig   `yaml:"build"`
	Cache   CacheConfig   `yaml:"cache"`
	Pool    PoolConfig    `yaml:"pool"`
	Profile ProfileConfig `yaml:"profile"`
	Log     LogConfig     `yaml:"log"`
}

type DeviceConfig struct {
	Backend         string `yaml:"backend"`
	Selector        int    `yaml:"selector"`
	FallbackOnError bool   `yaml:"fallback_on_error"`
}

type BuildConfig struct {
	Options string `yaml:"options"`
}

type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// PoolConfig sizes the host device's work-group scratch pool.
type PoolConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxBytes int  `yaml:"max_bytes"`
}

type ProfileConfig struct {
	// Dir is the profile store directory. Empty disables profiling.
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	// Verbosity is the klog -v level.
	Verbosity int `yaml:"verbosity"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Backend:         gpu.BackendAuto,
			Selector:        0,
			FallbackOnError: true,
		},
		Build: BuildConfig{
			Options: "-w",
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 64,
		},
		Pool: PoolConfig{
			Enabled:  true,
			MaxBytes: 1 << 20,
		},
	}
}

// DefaultPaths lists where Load looks for a config file when none is given.
func DefaultPaths() []string {
	paths := []string{"minicl.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".minicl", "config.yaml"))
	}
	return paths
}

// Load loads configuration from file, environment, and defaults.
//
// An explicit path must exist. With an empty path the first existing file of
// DefaultPaths is used, and having none is fine.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, p := range DefaultPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading config")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, errors.Wrap(err, "environment override")
	}

	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envName(key)); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(envName(key))
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "%s", envName(key))
		}
		*dst = n
		return nil
	}

	str("device.backend", &c.Device.Backend)
	str("build.options", &c.Build.Options)
	str("profile.dir", &c.Profile.Dir)

	for key, dst := range map[string]*bool{
		"device.fallback_on_error": &c.Device.FallbackOnError,
		"cache.enabled":            &c.Cache.Enabled,
		"pool.enabled":             &c.Pool.Enabled,
	} {
		v, ok := lookup(envName(key))
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "%s", envName(key))
		}
		*dst = b
	}
	if v, ok := lookup(envName("cache.ttl")); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "%s", envName("cache.ttl"))
		}
		c.Cache.TTL = d
	}

	for key, dst := range map[string]*int{
		"device.selector":   &c.Device.Selector,
		"cache.max_entries": &c.Cache.MaxEntries,
		"pool.max_bytes":    &c.Pool.MaxBytes,
		"log.verbosity":     &c.Log.Verbosity,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Device.Backend {
	case gpu.BackendAuto, gpu.BackendOpenCL, gpu.BackendHost:
	default:
		return fmt.Errorf("device.backend must be one of: %v", []string{gpu.BackendAuto, gpu.BackendOpenCL, gpu.BackendHost})
	}
	if c.Device.Selector < 0 {
		return errors.New("device.selector must not be negative")
	}
	if c.Cache.MaxEntries < 1 {
		return errors.New("cache.max_entries must be at least 1")
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must not be negative")
	}
	if c.Pool.MaxBytes < 1 {
		return errors.New("pool.max_bytes must be at least 1")
	}
	if c.Log.Verbosity < 0 || c.Log.Verbosity > 10 {
		return errors.New("log.verbosity must be between 0 and 10")
	}
	return nil
}

// ExpandPaths expands ~ and environment variables in paths
func (c *Config) ExpandPaths() {
	c.Profile.Dir = expandPath(c.Profile.Dir)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// ToGPU derives the device factory configuration.
func (c *Config) ToGPU() *gpu.Config {
	return &gpu.Config{
		Backend:         c.Device.Backend,
		Selector:        c.Device.Selector,
		BuildOptions:    c.Build.Options,
		FallbackOnError: c.Device.FallbackOnError,
		CacheEntries:    c.Cache.MaxEntries,
		CacheTTL:        c.Cache.TTL,
		DisableCache:    !c.Cache.Enabled,
	}
}

// ToPool derives the scratch pool configuration.
func (c *Config) ToPool() pool.PoolConfig {
	return pool.PoolConfig{
		Enabled:  c.Pool.Enabled,
		MaxBytes: c.Pool.MaxBytes,
	}
}
