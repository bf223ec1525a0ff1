package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voicearena/backend/pkg/logger"
)

// ConfigCache caches fetched agent configs between comparisons. A nil cache
// is valid and means every fetch hits the platform.
type ConfigCache interface {
	GetAgentConfig(ctx context.Context, agentID string) (*Config, bool)
	SetAgentConfig(ctx context.Context, agentID string, cfg *Config) error
}

// Fetcher pulls agent configurations from the voice platform API.
type Fetcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      ConfigCache
}

func NewFetcher(baseURL, apiKey string, timeoutSec int, cache ConfigCache) *Fetcher {
	if timeoutSec == 0 {
		timeoutSec = 10
	}
	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
		cache: cache,
	}
}

type platformAgent struct {
	AgentName           string                          `json:"agent_name"`
	AgentWelcomeMessage string                          `json:"agent_welcome_message"`
	AgentPrompts        map[string]platformAgentPrompts `json:"agent_prompts"`
	Tasks               []platformTask                  `json:"tasks"`
}

type platformAgentPrompts struct {
	SystemPrompt string `json:"system_prompt"`
}

type platformTask struct {
	ToolsConfig struct {
		LLMAgent struct {
			LLMConfig struct {
				Family      string  `json:"family"`
				Model       string  `json:"model"`
				Temperature float32 `json:"temperature"`
				MaxTokens   int     `json:"max_tokens"`
				TopP        float32 `json:"top_p"`
			} `json:"llm_config"`
		} `json:"llm_agent"`
	} `json:"tools_config"`
	TaskConfig struct {
		CallCancellationPrompt string `json:"call_cancellation_prompt"`
	} `json:"task_config"`
}

// Fetch returns the parsed config for a platform-hosted agent, consulting
// the cache first.
func (f *Fetcher) Fetch(ctx context.Context, agentID string) (*Config, error) {
	if f.cache != nil {
		if cfg, ok := f.cache.GetAgentConfig(ctx, agentID); ok {
			logger.Debug("Agent config cache hit", zap.String("agent_id", agentID))
			return cfg, nil
		}
	}

	url := fmt.Sprintf("%s/agent/%s", f.baseURL, agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build agent config request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch agent config for %s: %w", agentID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("platform returned status %d for agent %s: %s", resp.StatusCode, agentID, strings.TrimSpace(string(body)))
	}

	var data platformAgent
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode agent config for %s: %w", agentID, err)
	}

	cfg, err := parsePlatformAgent(agentID, &data)
	if err != nil {
		return nil, err
	}

	logger.Info("Fetched agent config",
		zap.String("agent_id", agentID),
		zap.String("agent_name", cfg.AgentName),
		zap.Bool("supported", cfg.Supported),
	)

	if f.cache != nil {
		if err := f.cache.SetAgentConfig(ctx, agentID, cfg); err != nil {
			logger.Warn("Failed to cache agent config", zap.String("agent_id", agentID), zap.Error(err))
		}
	}

	return cfg, nil
}

func parsePlatformAgent(agentID string, data *platformAgent) (*Config, error) {
	if len(data.Tasks) == 0 {
		return nil, fmt.Errorf("agent %s has no tasks configured", agentID)
	}

	task := data.Tasks[0]
	llm := task.ToolsConfig.LLMAgent.LLMConfig

	family := llm.Family
	if family == "" {
		family = "unknown"
	}
	model := strings.TrimPrefix(llm.Model, "azure/")

	var systemPrompt string
	if prompts, ok := data.AgentPrompts["task_1"]; ok {
		systemPrompt = prompts.SystemPrompt
	}

	name := data.AgentName
	if name == "" {
		name = agentID
	}

	temperature := llm.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	maxTokens := llm.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1000
	}
	topP := llm.TopP
	if topP == 0 {
		topP = 1.0
	}

	return &Config{
		AgentID:        agentID,
		AgentName:      name,
		WelcomeMessage: data.AgentWelcomeMessage,
		SystemPrompt:   systemPrompt,
		HangupPrompt:   task.TaskConfig.CallCancellationPrompt,
		LLMFamily:      family,
		LLMModel:       model,
		Temperature:    temperature,
		MaxTokens:      maxTokens,
		TopP:           topP,
		Supported:      family == "openai",
	}, nil
}
