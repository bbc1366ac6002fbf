package config

import (
	"fmt"
	"slices"
	"strings"
)

var localBackends = []string{"sqlite", "mongo", "memory"}

// Validate checks values that cleanenv cannot. Absent remote, storage and
// caption credentials are valid: those features are simply off.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range (got %d)", c.Server.Port)
	}

	c.Local.Backend = strings.ToLower(strings.TrimSpace(c.Local.Backend))
	if !slices.Contains(localBackends, c.Local.Backend) {
		return fmt.Errorf("local.backend must be one of %s (got %q)", strings.Join(localBackends, ", "), c.Local.Backend)
	}
	if c.Local.Backend == "sqlite" && c.Local.SQLitePath == "" {
		return fmt.Errorf("local.sqlite_path is required for the sqlite backend")
	}

	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters (got %d)", len(c.Auth.JWTSecret))
	}

	if c.Sync.FeedPageSize <= 0 {
		return fmt.Errorf("sync.feed_page_size must be > 0 (got %d)", c.Sync.FeedPageSize)
	}
	if c.Sync.RetentionDays <= 0 {
		return fmt.Errorf("sync.retention_days must be > 0 (got %d)", c.Sync.RetentionDays)
	}
	if c.Sync.DetailPollInterval <= 0 {
		return fmt.Errorf("sync.detail_poll_interval must be > 0 (got %s)", c.Sync.DetailPollInterval)
	}

	if c.Remote.Enabled() && c.Remote.Exchange == "" {
		return fmt.Errorf("remote.exchange is required when the remote backend is enabled")
	}
	return nil
}

// Addr is the HTTP listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
