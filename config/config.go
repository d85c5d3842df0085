// ABOUTME: Runtime configuration for embudo surfaces
// ABOUTME: Layers defaults, .env, the XDG YAML file, EMBUDO_* environment and command-line flags

package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/harperreed/embudo/bus"
	"github.com/harperreed/embudo/charm"
)

// AppName names the XDG directories.
const AppName = "embudo"

// Replica backends.
const (
	ReplicaBadger = "badger"
	ReplicaCharm  = "charm"
	ReplicaMemory = "memory"
)

// Config holds every runtime setting. An empty DatabaseURL selects the
// in-memory mock tables.
type Config struct {
	DatabaseURL    string `yaml:"database_url"`
	RedisURL       string `yaml:"redis_url"`
	Channel        string `yaml:"channel"`
	ReplicaBackend string `yaml:"replica_backend"`
	ReplicaDir     string `yaml:"replica_dir"`
	Origin         string `yaml:"origin"`
	SalesOwner     string `yaml:"sales_owner"`
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsAddr    string `yaml:"metrics_addr"`

	Charm charm.Config `yaml:"charm"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Channel:        bus.DefaultChannel,
		ReplicaBackend: ReplicaBadger,
		ReplicaDir:     filepath.Join(xdg.DataHome, AppName, "replica"),
		Origin:         "local",
		LogLevel:       "warn",
		LogFormat:      "console",
		Charm: charm.Config{
			Host:     charm.DefaultCharmHost,
			AutoSync: true,
		},
	}
}

// Path returns the YAML config file location.
func Path() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// Load reads .env (if present), the YAML file at path (if present) and the
// EMBUDO_* environment on top of the defaults.
func Load(path string) (*Config, error) {
	// .env is optional; existing environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.DatabaseURL, "EMBUDO_DATABASE_URL")
	set(&c.RedisURL, "EMBUDO_REDIS_URL")
	set(&c.Channel, "EMBUDO_CHANNEL")
	set(&c.ReplicaBackend, "EMBUDO_REPLICA_BACKEND")
	set(&c.ReplicaDir, "EMBUDO_REPLICA_DIR")
	set(&c.Origin, "EMBUDO_ORIGIN")
	set(&c.SalesOwner, "EMBUDO_SALES_OWNER")
	set(&c.LogLevel, "EMBUDO_LOG_LEVEL")
	set(&c.LogFormat, "EMBUDO_LOG_FORMAT")
	set(&c.MetricsAddr, "EMBUDO_METRICS_ADDR")
	set(&c.Charm.Host, "EMBUDO_CHARM_HOST")
	if v := getenv("EMBUDO_CHARM_AUTOSYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Charm.AutoSync = b
		}
	}
}

// RegisterFlags binds the global command-line flags. Flags left at their
// zero value do not override the loaded configuration.
func (c *Config) RegisterFlags(fs *flag.FlagSet) *Overrides {
	o := &Overrides{}
	fs.StringVar(&o.DatabaseURL, "database-url", "", "Relational database (postgres://, sqlite://, or a file path); empty uses in-memory tables")
	fs.StringVar(&o.RedisURL, "redis-url", "", "Redis URL for cross-process replication (redis://host:6379/0)")
	fs.StringVar(&o.Origin, "origin", "", "Origin name that scopes the local replica")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	fs.StringVar(&o.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	return o
}

// Overrides collects command-line values.
type Overrides struct {
	DatabaseURL string
	RedisURL    string
	Origin      string
	MetricsAddr string
	LogLevel    string
}

// Apply copies every non-empty override onto c.
func (c *Config) Apply(o *Overrides) {
	if o == nil {
		return
	}
	for dst, src := range map[*string]string{
		&c.DatabaseURL: o.DatabaseURL,
		&c.RedisURL:    o.RedisURL,
		&c.Origin:      o.Origin,
		&c.MetricsAddr: o.MetricsAddr,
		&c.LogLevel:    o.LogLevel,
	} {
		if src != "" {
			*dst = src
		}
	}
}

// Validate checks enumerated fields.
func (c *Config) Validate() error {
	switch c.ReplicaBackend {
	case ReplicaBadger, ReplicaCharm, ReplicaMemory:
	default:
		return fmt.Errorf("replica_backend must be badger, charm or memory, got %q", c.ReplicaBackend)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log_format must be console or json, got %q", c.LogFormat)
	}
	if strings.TrimSpace(c.Channel) == "" {
		return fmt.Errorf("channel must not be empty")
	}
	return nil
}

// CharmConfig returns the charm settings scoped to this origin.
func (c *Config) CharmConfig() *charm.Config {
	cc := c.Charm
	if cc.Origin == "" {
		cc.Origin = c.Origin
	}
	return &cc
}

// Save writes the configuration as YAML to path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
