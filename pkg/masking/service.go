// Package masking scrubs credential-shaped data from tool output before it
// is indexed into long-term memory. Indexed text is queryable forever, so
// the filter fails closed: content that cannot be processed safely is
// replaced with a redaction notice instead of being stored raw.
package masking

import (
	"log/slog"

	"github.com/famulus-ai/famulus/pkg/config"
)

// DefaultPatternGroup is applied when a tool has no masking config of its own.
const DefaultPatternGroup = "all"

// RedactionNotice replaces content that could not be masked.
const RedactionNotice = "[REDACTED: masking failure, tool result was not indexed verbatim]"

// Service applies data masking to tool results bound for the memory index.
// Created once at startup; thread-safe and stateless aside from compiled
// patterns.
type Service struct {
	patterns map[string]*CompiledPattern
	groups   map[string][]string
	maskers  map[string]Masker
}

// NewService creates a masking service with compiled patterns and registered
// maskers. All patterns are compiled eagerly at creation time.
func NewService() *Service {
	s := &Service{
		patterns: make(map[string]*CompiledPattern),
		groups:   config.GetBuiltinConfig().PatternGroups,
		maskers:  make(map[string]Masker),
	}
	s.compileBuiltinPatterns()
	s.registerMasker(&JSONCredentialMasker{})

	slog.Info("Masking service initialized",
		"patterns", len(s.patterns),
		"code_maskers", len(s.maskers))
	return s
}

// MaskForIndex scrubs content before it is written to long-term memory.
// A nil cfg applies the default pattern group; a config with Enabled=false
// is an explicit opt-out. On masking failure the content is replaced with a
// redaction notice (fail-closed).
func (s *Service) MaskForIndex(content string, cfg *config.MaskingConfig) string {
	if content == "" {
		return content
	}
	if cfg != nil && !cfg.Enabled {
		return content
	}

	resolved := s.resolve(cfg)
	if len(resolved.codeMaskerNames) == 0 && len(resolved.regexPatterns) == 0 {
		return content
	}

	masked, err := s.applyMasking(content, resolved)
	if err != nil {
		slog.Error("Masking failed, redacting content", "error", err)
		return RedactionNotice
	}
	return masked
}

// applyMasking applies code-based maskers then regex patterns to content.
func (s *Service) applyMasking(content string, resolved *resolvedPatterns) (string, error) {
	masked := content

	// Code-based maskers first: structural awareness beats the regex sweep.
	for _, maskerName := range resolved.codeMaskerNames {
		masker, ok := s.maskers[maskerName]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	for _, pattern := range resolved.regexPatterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked, nil
}

func (s *Service) registerMasker(m Masker) {
	s.maskers[m.Name()] = m
}
