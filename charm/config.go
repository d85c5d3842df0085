// ABOUTME: Configuration for the Charm KV replica backend
// ABOUTME: Server host, auto-sync preference and the per-origin database name

package charm

import (
	"strings"
)

const (
	// DefaultCharmHost is the self-hosted 2389 research server.
	DefaultCharmHost = "charm.2389.dev"

	// AppName prefixes the Charm KV database name.
	AppName = "embudo"
)

// Config holds charm connection settings.
type Config struct {
	// Host is the charm server hostname (default: charm.2389.dev)
	Host string `yaml:"host,omitempty"`

	// AutoSync syncs before and after every replica write
	AutoSync bool `yaml:"auto_sync"`

	// Origin scopes the database so each origin keeps its own replica
	Origin string `yaml:"origin,omitempty"`
}

// DefaultConfig returns a new config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:     DefaultCharmHost,
		AutoSync: true,
	}
}

// database is the charm KV name for this config's origin.
func (c *Config) database() string {
	origin := strings.TrimSpace(c.Origin)
	if origin == "" {
		return AppName
	}
	return AppName + "-" + sanitize(origin)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
