package config

import "time"

// PollersConfig controls the background pollers: email, calendar, and
// service health probes.
type PollersConfig struct {
	// EmailInterval is how often enabled email integrations are polled.
	EmailInterval time.Duration `yaml:"email_interval"`

	// EmailLookback bounds the unread-message window on each poll.
	EmailLookback time.Duration `yaml:"email_lookback"`

	// EmailBootstrapMax caps notifications on the first poll for an
	// integration, keeping only the newest messages.
	EmailBootstrapMax int `yaml:"email_bootstrap_max"`

	// UrgentSubjectTokens upgrade an email notification to high priority
	// when one appears in the subject.
	UrgentSubjectTokens []string `yaml:"urgent_subject_tokens"`

	// CalendarInterval is how often upcoming events are scanned.
	CalendarInterval time.Duration `yaml:"calendar_interval"`

	// CalendarHorizon is how far ahead the watcher looks.
	CalendarHorizon time.Duration `yaml:"calendar_horizon"`

	// HealthInterval is the default probe interval for service health checks.
	HealthInterval time.Duration `yaml:"health_interval"`

	// HealthConfirmations is how many consecutive probes must agree before
	// a state transition is reported.
	HealthConfirmations int `yaml:"health_confirmations"`
}

// DefaultPollersConfig returns the built-in poller defaults.
func DefaultPollersConfig() *PollersConfig {
	return &PollersConfig{
		EmailInterval:       2 * time.Minute,
		EmailLookback:       24 * time.Hour,
		EmailBootstrapMax:   5,
		UrgentSubjectTokens: []string{"urgent", "asap", "emergency", "immediately"},
		CalendarInterval:    1 * time.Minute,
		CalendarHorizon:     2 * time.Hour,
		HealthInterval:      30 * time.Second,
		HealthConfirmations: 2,
	}
}
