package config

import "time"

// SystemConfig holds resolved system-wide infrastructure settings.
type SystemConfig struct {
	// APIAddr is the listen address of the HTTP API.
	APIAddr string

	// AllowedWSOrigins are additional origin patterns accepted by the
	// notification stream endpoint.
	AllowedWSOrigins []string

	// WebFetch configures the built-in web_fetch tool.
	WebFetch *WebFetchConfig
}

// WebFetchConfig holds resolved web_fetch tool configuration.
type WebFetchConfig struct {
	AllowedDomains []string      // Domains web_fetch may reach (default: none beyond search results)
	CacheTTL       time.Duration // Response cache duration (default: 1m)
	MaxBodyBytes   int64         // Cap on fetched body size
}

const (
	defaultWebFetchCacheTTL = 1 * time.Minute
	defaultWebFetchMaxBody  = int64(2 << 20) // 2 MiB
)

// NotificationsConfig controls notification delivery behavior.
type NotificationsConfig struct {
	// DedupeWindow coalesces duplicate notifications published within it.
	DedupeWindow time.Duration `yaml:"dedupe_window"`

	// SnapshotLimit caps the items sent in a stream attach snapshot.
	SnapshotLimit int `yaml:"snapshot_limit"`
}

// DefaultNotificationsConfig returns the built-in notification defaults.
func DefaultNotificationsConfig() *NotificationsConfig {
	return &NotificationsConfig{
		DedupeWindow:  60 * time.Second,
		SnapshotLimit: 50,
	}
}
