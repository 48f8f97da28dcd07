package masking

import (
	"log/slog"
	"regexp"
	"slices"
	"sort"

	"github.com/famulus-ai/famulus/pkg/config"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// resolvedPatterns holds the resolved set of maskers and patterns for one
// masking operation.
type resolvedPatterns struct {
	codeMaskerNames []string
	regexPatterns   []*CompiledPattern
}

// compileBuiltinPatterns compiles all built-in regex patterns from config.
// Invalid patterns are logged and skipped.
func (s *Service) compileBuiltinPatterns() {
	for name, pattern := range config.GetBuiltinConfig().MaskingPatterns {
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("Failed to compile built-in masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.patterns[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		}
	}
}

// resolve expands a masking config into concrete patterns and maskers.
// A nil config selects the default group; groups expand to their member
// patterns; unknown references are logged and skipped.
func (s *Service) resolve(cfg *config.MaskingConfig) *resolvedPatterns {
	groupNames := []string{DefaultPatternGroup}
	var patternNames []string
	if cfg != nil {
		groupNames = cfg.PatternGroups
		patternNames = cfg.Patterns
	}

	var names []string
	for _, group := range groupNames {
		members, ok := s.groups[group]
		if !ok {
			slog.Warn("Unknown masking pattern group, skipping", "group", group)
			continue
		}
		names = append(names, members...)
	}
	names = append(names, patternNames...)

	resolved := &resolvedPatterns{codeMaskerNames: s.maskerNames()}
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		pattern, ok := s.patterns[name]
		if !ok {
			slog.Warn("Unknown masking pattern, skipping", "pattern", name)
			continue
		}
		resolved.regexPatterns = append(resolved.regexPatterns, pattern)
	}
	slices.SortFunc(resolved.regexPatterns, func(a, b *CompiledPattern) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return resolved
}

func (s *Service) maskerNames() []string {
	names := make([]string, 0, len(s.maskers))
	for name := range s.maskers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
