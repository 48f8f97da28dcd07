package config

// Merge helpers: user-defined YAML entries override built-ins key by key.

func mergeLLMProviders(builtin map[string]LLMProviderConfig, user map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	merged := make(map[string]*LLMProviderConfig, len(builtin)+len(user))
	for name := range builtin {
		cfg := builtin[name]
		merged[name] = &cfg
	}
	for name := range user {
		cfg := user[name]
		merged[name] = &cfg
	}
	return merged
}

func mergeToolServers(user map[string]ToolServerConfig) map[string]*ToolServerConfig {
	merged := make(map[string]*ToolServerConfig, len(user))
	for name := range user {
		cfg := user[name]
		merged[name] = &cfg
	}
	return merged
}

func mergeMaskingPatterns(builtin map[string]MaskingPattern, user map[string]MaskingPattern) map[string]MaskingPattern {
	merged := make(map[string]MaskingPattern, len(builtin)+len(user))
	for name, p := range builtin {
		merged[name] = p
	}
	for name, p := range user {
		merged[name] = p
	}
	return merged
}
