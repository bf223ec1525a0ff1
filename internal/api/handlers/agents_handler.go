package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/scenario"
	"github.com/voicearena/backend/pkg/logger"
)

type AgentsHandler struct {
	fetcher *agents.Fetcher
}

func NewAgentsHandler(fetcher *agents.Fetcher) *AgentsHandler {
	return &AgentsHandler{fetcher: fetcher}
}

func (h *AgentsHandler) GetAgentConfig(c *fiber.Ctx) error {
	agentID := c.Params("id")

	cfg, err := h.fetcher.Fetch(c.Context(), agentID)
	if err != nil {
		logger.Error("Failed to fetch agent config", zap.String("agent_id", agentID), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(cfg)
}

// GetAgentVariables reports the {placeholder} names found in an agent's
// prompts so a caller knows which variables a comparison should supply.
func (h *AgentsHandler) GetAgentVariables(c *fiber.Ctx) error {
	agentID := c.Params("id")

	cfg, err := h.fetcher.Fetch(c.Context(), agentID)
	if err != nil {
		logger.Error("Failed to fetch agent config", zap.String("agent_id", agentID), zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	vars := agents.DetectConfigVariables(cfg)
	return c.JSON(fiber.Map{
		"agent_id":  agentID,
		"variables": vars,
		"count":     len(vars),
	})
}

type detectVariablesRequest struct {
	Text string `json:"text"`
}

func (h *AgentsHandler) DetectVariables(c *fiber.Ctx) error {
	var req detectVariablesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	vars := agents.DetectVariables(req.Text)
	return c.JSON(fiber.Map{
		"variables": vars,
		"count":     len(vars),
	})
}

func (h *AgentsHandler) ValidateScenario(c *fiber.Ctx) error {
	var cfg scenario.Config
	if err := c.BodyParser(&cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := cfg.Validate(); err != nil {
		return c.JSON(fiber.Map{
			"valid": false,
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{"valid": true})
}

func (h *AgentsHandler) ListLanguages(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"languages": scenario.SupportedLanguages(),
	})
}
