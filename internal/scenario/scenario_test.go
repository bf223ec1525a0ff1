package scenario

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		AgentOverview:   "A restaurant booking assistant that confirms reservations",
		UserPersona:     "A busy professional who wants a table for two tonight",
		Situation:       "The user calls to book a table for dinner at 8pm",
		PrimaryLanguage: "English",
		ExpectedOutcome: "A confirmed reservation with date, time and party size",
	}
}

func TestValidateAcceptsCompleteScenario(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cfg := validConfig()
	cfg.UserPersona = ""
	cfg.Situation = "   "

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_persona is required")
	assert.Contains(t, err.Error(), "situation is required")
}

func TestValidateRejectsShortFields(t *testing.T) {
	cfg := validConfig()
	cfg.AgentOverview = "too short"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent_overview is too short")
}

func TestValidateLanguage(t *testing.T) {
	cfg := validConfig()
	cfg.PrimaryLanguage = "Klingon"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")

	cfg.PrimaryLanguage = "HINDI"
	assert.NoError(t, cfg.Validate())

	cfg.PrimaryLanguage = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary_language is required")
}

func TestSupportedLanguagesIncludesEnglish(t *testing.T) {
	langs := SupportedLanguages()
	joined := strings.Join(langs, ",")
	assert.Contains(t, joined, "english")
}
