package scenario

import (
	"fmt"
	"strings"
)

// Config describes the simulated conversation every agent is put through.
type Config struct {
	AgentOverview   string `json:"agent_overview" mapstructure:"agent_overview"`
	UserPersona     string `json:"user_persona" mapstructure:"user_persona"`
	Situation       string `json:"situation" mapstructure:"situation"`
	PrimaryLanguage string `json:"primary_language" mapstructure:"primary_language"`
	ExpectedOutcome string `json:"expected_outcome" mapstructure:"expected_outcome"`
}

const minFieldLength = 10

var supportedLanguages = map[string]bool{
	"english":    true,
	"hindi":      true,
	"hinglish":   true,
	"spanish":    true,
	"french":     true,
	"german":     true,
	"portuguese": true,
	"arabic":     true,
}

// Validate checks that all scenario fields are present and descriptive
// enough to drive a believable simulated user.
func (c Config) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"agent_overview", c.AgentOverview},
		{"user_persona", c.UserPersona},
		{"situation", c.Situation},
		{"expected_outcome", c.ExpectedOutcome},
	}

	var problems []string
	for _, f := range fields {
		trimmed := strings.TrimSpace(f.value)
		if trimmed == "" {
			problems = append(problems, fmt.Sprintf("%s is required", f.name))
			continue
		}
		if len(trimmed) < minFieldLength {
			problems = append(problems, fmt.Sprintf("%s is too short (minimum %d characters)", f.name, minFieldLength))
		}
	}

	lang := strings.ToLower(strings.TrimSpace(c.PrimaryLanguage))
	if lang == "" {
		problems = append(problems, "primary_language is required")
	} else if !supportedLanguages[lang] {
		problems = append(problems, fmt.Sprintf("primary_language %q is not supported", c.PrimaryLanguage))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid scenario: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SupportedLanguages returns the languages a simulated user can speak.
func SupportedLanguages() []string {
	langs := make([]string, 0, len(supportedLanguages))
	for l := range supportedLanguages {
		langs = append(langs, l)
	}
	return langs
}
