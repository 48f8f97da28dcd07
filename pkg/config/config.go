package config

// Config is the umbrella configuration object that encapsulates all
// registries, defaults, and resolved settings. This is the primary object
// returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// System-wide defaults (provider selection, tool budgets)
	Defaults *Defaults

	// Resolved section configs
	Runtime       *RuntimeConfig
	Memory        *MemoryConfig
	Pollers       *PollersConfig
	Retention     *RetentionConfig
	Notifications *NotificationsConfig
	System        *SystemConfig

	// Component registries
	LLMProviderRegistry *LLMProviderRegistry
	ToolServerRegistry  *ToolServerRegistry

	// Masking rules applied before auto-indexing tool output
	MaskingPatterns map[string]MaskingPattern
	PatternGroups   map[string][]string
}

// Stats contains statistics about loaded configuration
type Stats struct {
	LLMProviders int
	ToolServers  int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.LLMProviderRegistry != nil {
		s.LLMProviders = c.LLMProviderRegistry.Len()
	}
	if c.ToolServerRegistry != nil {
		s.ToolServers = c.ToolServerRegistry.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// GetToolServer retrieves a tool server configuration by ID.
// This is a convenience method that wraps ToolServerRegistry.Get().
func (c *Config) GetToolServer(serverID string) (*ToolServerConfig, error) {
	return c.ToolServerRegistry.Get(serverID)
}

// AllToolServerIDs returns a sorted list of all configured tool server IDs.
func (c *Config) AllToolServerIDs() []string {
	return c.ToolServerRegistry.ServerIDs()
}

// PlannerProvider resolves the provider used for planning calls.
func (c *Config) PlannerProvider() string {
	if c.Defaults.PlannerProvider != "" {
		return c.Defaults.PlannerProvider
	}
	return c.Defaults.LLMProvider
}

// UtilityProvider resolves the provider used for extraction and comparison.
func (c *Config) UtilityProvider() string {
	if c.Defaults.UtilityProvider != "" {
		return c.Defaults.UtilityProvider
	}
	return c.Defaults.LLMProvider
}
