package agents

import (
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// DetectVariables returns the {placeholder} names found in text.
func DetectVariables(text string) []string {
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = true
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DetectConfigVariables scans the prompt-bearing fields of an agent config.
func DetectConfigVariables(cfg *Config) []string {
	seen := map[string]bool{}
	for _, text := range []string{cfg.WelcomeMessage, cfg.SystemPrompt, cfg.HangupPrompt} {
		for _, v := range DetectVariables(text) {
			seen[v] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ReplaceVariables substitutes {name} placeholders with the given values.
// Unknown placeholders are left in place.
func ReplaceVariables(text string, values map[string]string) string {
	result := text
	for name, value := range values {
		result = strings.ReplaceAll(result, "{"+name+"}", value)
	}
	return result
}

// ReplaceConfigVariables returns a copy of cfg with placeholders in its
// prompts filled in.
func ReplaceConfigVariables(cfg *Config, values map[string]string) *Config {
	out := *cfg
	out.WelcomeMessage = ReplaceVariables(cfg.WelcomeMessage, values)
	out.SystemPrompt = ReplaceVariables(cfg.SystemPrompt, values)
	out.HangupPrompt = ReplaceVariables(cfg.HangupPrompt, values)
	return &out
}
