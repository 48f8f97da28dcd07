package config

import "sync"

// BuiltinConfig holds all built-in configuration data: default LLM
// providers, masking patterns, and pattern groups. User YAML overrides
// built-ins key by key.
type BuiltinConfig struct {
	LLMProviders       map[string]LLMProviderConfig
	MaskingPatterns    map[string]MaskingPattern
	PatternGroups      map[string][]string
	DefaultLLMProvider string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		LLMProviders:       initBuiltinLLMProviders(),
		MaskingPatterns:    initBuiltinMaskingPatterns(),
		PatternGroups:      initBuiltinPatternGroups(),
		DefaultLLMProvider: "anthropic-default",
	}
}

func initBuiltinLLMProviders() map[string]LLMProviderConfig {
	return map[string]LLMProviderConfig{
		"anthropic-default": {
			Type:      LLMProviderTypeAnthropic,
			Model:     "claude-sonnet-4-5",
			APIKeyEnv: "ANTHROPIC_API_KEY",
		},
		"openai-default": {
			Type:      LLMProviderTypeOpenAI,
			Model:     "gpt-5",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		"google-default": {
			Type:      LLMProviderTypeGoogle,
			Model:     "gemini-2.5-pro",
			APIKeyEnv: "GOOGLE_API_KEY",
		},
		"local-default": {
			Type:    LLMProviderTypeLocal,
			Model:   "llama3.1",
			BaseURL: "http://localhost:11434/v1",
		},
	}
}

// initBuiltinMaskingPatterns returns regex rules applied to tool output
// before it is indexed into long-term memory. Indexed text is queryable
// forever, so anything credential-shaped must not reach it.
func initBuiltinMaskingPatterns() map[string]MaskingPattern {
	return map[string]MaskingPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-]{16,})["']?`,
			Replacement: `"api_key": "__MASKED_API_KEY__"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|passwd|pwd)["']?\s*[:=]\s*["']?([^"'\s\n]{6,})["']?`,
			Replacement: `"password": "__MASKED_PASSWORD__"`,
			Description: "Passwords",
		},
		"bearer_token": {
			Pattern:     `(?i)bearer\s+([A-Za-z0-9_\-\.=]{16,})`,
			Replacement: `Bearer __MASKED_TOKEN__`,
			Description: "Bearer tokens in headers",
		},
		"token": {
			Pattern:     `(?i)(?:token|jwt|secret)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-\.]{16,})["']?`,
			Replacement: `"token": "__MASKED_TOKEN__"`,
			Description: "Access tokens and secrets",
		},
		"private_key": {
			Pattern:     `(?s)-----BEGIN [A-Z ]*PRIVATE KEY-----.*?-----END [A-Z ]*PRIVATE KEY-----`,
			Replacement: `__MASKED_PRIVATE_KEY__`,
			Description: "PEM private keys",
		},
		"credit_card": {
			Pattern:     `\b(?:\d[ -]?){13,16}\b`,
			Replacement: `__MASKED_CARD_NUMBER__`,
			Description: "Payment card numbers",
		},
	}
}

// initBuiltinPatternGroups returns predefined groups of masking patterns.
func initBuiltinPatternGroups() map[string][]string {
	return map[string][]string{
		"security": {"api_key", "password", "bearer_token", "token", "private_key"},
		"all":      {"api_key", "password", "bearer_token", "token", "private_key", "credit_card"},
	}
}
