// Package config loads, merges, and validates the famulus YAML
// configuration: runtime knobs, LLM providers, tool servers, pollers, and
// retention policy.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// FamulusYAMLConfig represents the complete famulus.yaml file structure
type FamulusYAMLConfig struct {
	System          *SystemYAMLConfig            `yaml:"system"`
	LLMProviders    map[string]LLMProviderConfig `yaml:"llm_providers"`
	ToolServers     map[string]ToolServerConfig  `yaml:"tool_servers"`
	MaskingPatterns map[string]MaskingPattern    `yaml:"masking_patterns"`
	Defaults        *Defaults                    `yaml:"defaults"`
	Runtime         *RuntimeConfig               `yaml:"runtime"`
	Memory          *MemoryConfig                `yaml:"memory"`
	Pollers         *PollersConfig               `yaml:"pollers"`
	Retention       *RetentionConfig             `yaml:"retention"`
	Notifications   *NotificationsConfig         `yaml:"notifications"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	APIAddr          string              `yaml:"api_addr"`
	AllowedWSOrigins []string            `yaml:"allowed_ws_origins"`
	WebFetch         *WebFetchYAMLConfig `yaml:"web_fetch"`
}

// WebFetchYAMLConfig holds web_fetch tool settings from YAML.
type WebFetchYAMLConfig struct {
	AllowedDomains []string `yaml:"allowed_domains,omitempty"`
	CacheTTL       string   `yaml:"cache_ttl,omitempty"` // Parsed to time.Duration
	MaxBodyBytes   int64    `yaml:"max_body_bytes,omitempty"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load famulus.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined providers and patterns
//  5. Merge section configs over built-in defaults
//  6. Build in-memory registries
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"llm_providers", stats.LLMProviders,
		"tool_servers", stats.ToolServers)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	yamlCfg, err := loader.loadFamulusYAML()
	if err != nil {
		return nil, NewLoadError("famulus.yaml", err)
	}

	builtin := GetBuiltinConfig()

	// Merge built-in + user-defined components (user overrides built-in)
	providers := mergeLLMProviders(builtin.LLMProviders, yamlCfg.LLMProviders)
	toolServers := mergeToolServers(yamlCfg.ToolServers)
	maskingPatterns := mergeMaskingPatterns(builtin.MaskingPatterns, yamlCfg.MaskingPatterns)

	providerRegistry := NewLLMProviderRegistry(providers)
	toolServerRegistry := NewToolServerRegistry(toolServers)

	// Resolve defaults (YAML overrides built-in)
	defaults := yamlCfg.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	applyDefaultValues(defaults, builtin)

	// Resolve section configs: start with defaults, then merge user config
	// on top so unset fields keep their built-in values
	runtimeCfg, err := mergeSection(DefaultRuntimeConfig(), yamlCfg.Runtime, "runtime")
	if err != nil {
		return nil, err
	}
	memoryCfg, err := mergeSection(DefaultMemoryConfig(), yamlCfg.Memory, "memory")
	if err != nil {
		return nil, err
	}
	pollersCfg, err := mergeSection(DefaultPollersConfig(), yamlCfg.Pollers, "pollers")
	if err != nil {
		return nil, err
	}
	retentionCfg, err := mergeSection(DefaultRetentionConfig(), yamlCfg.Retention, "retention")
	if err != nil {
		return nil, err
	}
	notificationsCfg, err := mergeSection(DefaultNotificationsConfig(), yamlCfg.Notifications, "notifications")
	if err != nil {
		return nil, err
	}

	systemCfg := resolveSystemConfig(yamlCfg.System)

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		Runtime:             runtimeCfg,
		Memory:              memoryCfg,
		Pollers:             pollersCfg,
		Retention:           retentionCfg,
		Notifications:       notificationsCfg,
		System:              systemCfg,
		LLMProviderRegistry: providerRegistry,
		ToolServerRegistry:  toolServerRegistry,
		MaskingPatterns:     maskingPatterns,
		PatternGroups:       builtin.PatternGroups,
	}, nil
}

// mergeSection merges user-provided section config into built-in defaults
// (non-zero user values override).
func mergeSection[T any](defaults *T, user *T, name string) (*T, error) {
	if user == nil {
		return defaults, nil
	}
	if err := mergo.Merge(defaults, user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge %s config: %w", name, err)
	}
	return defaults, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through original data on parse/execution errors,
	// letting the YAML parser produce the clearer error message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadFamulusYAML() (*FamulusYAMLConfig, error) {
	var config FamulusYAMLConfig

	// Initialize maps to avoid nil maps
	config.LLMProviders = make(map[string]LLMProviderConfig)
	config.ToolServers = make(map[string]ToolServerConfig)
	config.MaskingPatterns = make(map[string]MaskingPattern)

	if err := l.loadYAML("famulus.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// resolveSystemConfig resolves system configuration from YAML, applying defaults.
func resolveSystemConfig(sys *SystemYAMLConfig) *SystemConfig {
	cfg := &SystemConfig{
		APIAddr: ":8090",
		WebFetch: &WebFetchConfig{
			CacheTTL:     defaultWebFetchCacheTTL,
			MaxBodyBytes: defaultWebFetchMaxBody,
		},
	}

	if sys == nil {
		return cfg
	}

	if sys.APIAddr != "" {
		cfg.APIAddr = sys.APIAddr
	}
	cfg.AllowedWSOrigins = sys.AllowedWSOrigins

	if wf := sys.WebFetch; wf != nil {
		if len(wf.AllowedDomains) > 0 {
			cfg.WebFetch.AllowedDomains = wf.AllowedDomains
		}
		if wf.CacheTTL != "" {
			if d, err := time.ParseDuration(wf.CacheTTL); err == nil {
				cfg.WebFetch.CacheTTL = d
			} else {
				slog.Warn("Invalid cache_ttl in web_fetch config, using default",
					"value", wf.CacheTTL,
					"default", cfg.WebFetch.CacheTTL,
					"error", err)
			}
		}
		if wf.MaxBodyBytes > 0 {
			cfg.WebFetch.MaxBodyBytes = wf.MaxBodyBytes
		}
	}

	return cfg
}
