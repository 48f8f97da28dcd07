package config

import (
	"fmt"
	"os"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Providers before defaults: default selections reference the registry
	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateToolServers(); err != nil {
		return fmt.Errorf("tool server validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	if err := v.validateRuntime(); err != nil {
		return fmt.Errorf("runtime validation failed: %w", err)
	}

	if err := v.validateMemory(); err != nil {
		return fmt.Errorf("memory validation failed: %w", err)
	}

	if err := v.validatePollers(); err != nil {
		return fmt.Errorf("poller validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if provider.Type == "" {
			return NewValidationError("llm_provider", name, "type", ErrMissingRequiredField)
		}
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("%w: %s", ErrInvalidValue, provider.Type))
		}
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", ErrMissingRequiredField)
		}
		// Local endpoints run without a key; everything else needs the env
		// var name, though its value is only required at client build time.
		if provider.Type != LLMProviderTypeLocal && provider.APIKeyEnv == "" {
			return NewValidationError("llm_provider", name, "api_key_env", ErrMissingRequiredField)
		}
		if provider.Temperature != nil && (*provider.Temperature < 0 || *provider.Temperature > 2) {
			return NewValidationError("llm_provider", name, "temperature", fmt.Errorf("%w: must be in [0, 2]", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateToolServers() error {
	for id, server := range v.cfg.ToolServerRegistry.GetAll() {
		t := server.Transport
		if t.Type == "" {
			return NewValidationError("tool_server", id, "transport.type", ErrMissingRequiredField)
		}
		if !t.Type.IsValid() {
			return NewValidationError("tool_server", id, "transport.type", fmt.Errorf("%w: %s", ErrInvalidValue, t.Type))
		}
		switch t.Type {
		case TransportTypeStdio:
			if t.Command == "" {
				return NewValidationError("tool_server", id, "transport.command", ErrMissingRequiredField)
			}
		case TransportTypeHTTP, TransportTypeSSE:
			if t.URL == "" {
				return NewValidationError("tool_server", id, "transport.url", ErrMissingRequiredField)
			}
		}
		if (server.OwnerTenantID == "") != (server.OwnerUserID == "") {
			return NewValidationError("tool_server", id, "owner_user_id",
				fmt.Errorf("owner_tenant_id and owner_user_id must be set together"))
		}
		if server.OwnerUserID != "" && t.Type == TransportTypeStdio {
			return NewValidationError("tool_server", id, "owner_user_id",
				fmt.Errorf("owner requires an http or sse transport"))
		}
		if server.DataMasking != nil && server.DataMasking.Enabled {
			for _, group := range server.DataMasking.PatternGroups {
				if _, ok := v.cfg.PatternGroups[group]; !ok {
					return NewValidationError("tool_server", id, "data_masking.pattern_groups",
						fmt.Errorf("pattern group '%s' not found", group))
				}
			}
			for _, pattern := range server.DataMasking.Patterns {
				if _, ok := v.cfg.MaskingPatterns[pattern]; !ok {
					return NewValidationError("tool_server", id, "data_masking.patterns",
						fmt.Errorf("pattern '%s' not found", pattern))
				}
			}
		}
	}
	return nil
}

func (v *ConfigValidator) validateDefaults() error {
	d := v.cfg.Defaults
	if d.LLMProvider == "" {
		return NewValidationError("defaults", "defaults", "llm_provider", ErrMissingRequiredField)
	}
	for field, name := range map[string]string{
		"llm_provider":     d.LLMProvider,
		"planner_provider": d.PlannerProvider,
		"utility_provider": d.UtilityProvider,
	} {
		if name == "" {
			continue
		}
		if !v.cfg.LLMProviderRegistry.Has(name) {
			return NewValidationError("defaults", "defaults", field,
				fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name))
		}
	}
	if v.requireAPIKeys() {
		provider, err := v.cfg.LLMProviderRegistry.Get(d.LLMProvider)
		if err != nil {
			return err
		}
		if provider.APIKeyEnv != "" && os.Getenv(provider.APIKeyEnv) == "" {
			return NewValidationError("defaults", "defaults", "llm_provider",
				fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
		}
	}
	return nil
}

// requireAPIKeys reports whether the default provider's API key must be
// present at startup. Disabled under test harnesses that inject clients.
func (v *ConfigValidator) requireAPIKeys() bool {
	return os.Getenv("FAMULUS_SKIP_API_KEY_CHECK") == ""
}

func (v *ConfigValidator) validateRuntime() error {
	r := v.cfg.Runtime
	if r.WorkerPoolMax < 1 {
		return NewValidationError("runtime", "runtime", "worker_pool_max", fmt.Errorf("must be at least 1"))
	}
	if r.DispatcherCount < 1 {
		return NewValidationError("runtime", "runtime", "dispatcher_count", fmt.Errorf("must be at least 1"))
	}
	if r.QueueSoftCap < 1 {
		return NewValidationError("runtime", "runtime", "queue_soft_cap", fmt.Errorf("must be at least 1"))
	}
	if r.TaskLease <= 0 {
		return NewValidationError("runtime", "runtime", "task_lease", fmt.Errorf("must be positive"))
	}
	if r.RequestTimeout <= 0 {
		return NewValidationError("runtime", "runtime", "request_timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *ConfigValidator) validateMemory() error {
	m := v.cfg.Memory
	if m.ShortWindow < 1 {
		return NewValidationError("memory", "memory", "short_window", fmt.Errorf("must be at least 1"))
	}
	if m.HybridAlpha < 0 || m.HybridAlpha > 1 {
		return NewValidationError("memory", "memory", "hybrid_alpha", fmt.Errorf("must be in [0, 1]"))
	}
	if m.MediumTTL <= 0 {
		return NewValidationError("memory", "memory", "medium_ttl", fmt.Errorf("must be positive"))
	}
	if m.QueryK < 1 {
		return NewValidationError("memory", "memory", "query_k", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validatePollers() error {
	p := v.cfg.Pollers
	if p.EmailInterval <= 0 {
		return NewValidationError("pollers", "pollers", "email_interval", fmt.Errorf("must be positive"))
	}
	if p.EmailBootstrapMax < 1 {
		return NewValidationError("pollers", "pollers", "email_bootstrap_max", fmt.Errorf("must be at least 1"))
	}
	if p.CalendarInterval <= 0 {
		return NewValidationError("pollers", "pollers", "calendar_interval", fmt.Errorf("must be positive"))
	}
	if p.HealthConfirmations < 1 {
		return NewValidationError("pollers", "pollers", "health_confirmations", fmt.Errorf("must be at least 1"))
	}
	return nil
}
