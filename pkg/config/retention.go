package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// ArchivedSessionRetentionDays is how many days archived sessions are
	// kept before hard deletion.
	ArchivedSessionRetentionDays int `yaml:"archived_session_retention_days"`

	// NotificationRetentionDays is how long read notifications are kept.
	NotificationRetentionDays int `yaml:"notification_retention_days"`

	// CleanupInterval is how often the retention loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		ArchivedSessionRetentionDays: 90,
		NotificationRetentionDays:    30,
		CleanupInterval:              12 * time.Hour,
	}
}
