package agents

import (
	"fmt"

	"github.com/google/uuid"
)

// Config holds everything needed to impersonate a deployed voice agent:
// its prompts, its welcome line and its model settings.
type Config struct {
	AgentID        string  `json:"agent_id"`
	AgentName      string  `json:"agent_name"`
	WelcomeMessage string  `json:"welcome_message"`
	SystemPrompt   string  `json:"system_prompt"`
	HangupPrompt   string  `json:"hangup_prompt"`
	LLMFamily      string  `json:"llm_family"`
	LLMModel       string  `json:"llm_model"`
	Temperature    float32 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
	TopP           float32 `json:"top_p"`
	Supported      bool    `json:"supported"`
}

// NewManualConfig builds a config for an agent defined inline in a request
// rather than hosted on the voice platform. The shape matches platform
// configs so the rest of the engine never cares where an agent came from.
func NewManualConfig(name, welcomeMessage, systemPrompt, hangupPrompt, model string, temperature float32, maxTokens int) *Config {
	if model == "" {
		model = "gpt-4o"
	}
	if temperature == 0 {
		temperature = 0.7
	}
	if maxTokens == 0 {
		maxTokens = 1000
	}

	return &Config{
		AgentID:        fmt.Sprintf("manual-%s", uuid.New().String()),
		AgentName:      name,
		WelcomeMessage: welcomeMessage,
		SystemPrompt:   systemPrompt,
		HangupPrompt:   hangupPrompt,
		LLMFamily:      "openai",
		LLMModel:       model,
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		TopP:           1.0,
		Supported:      true,
	}
}
