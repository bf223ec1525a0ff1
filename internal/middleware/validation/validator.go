package validation

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voicearena/backend/pkg/logger"
)

type Config struct {
	MaxNameLength       int
	MaxPromptLength     int
	MaxAgents           int
	MaxSimulations      int
	AllowedContentTypes []string
}

// Middleware rejects malformed comparison payloads before they reach the
// orchestrator. Launching a comparison is expensive, so size and count
// limits are enforced at the edge.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxNameLength == 0 {
		cfg.MaxNameLength = 200
	}
	if cfg.MaxPromptLength == 0 {
		cfg.MaxPromptLength = 20000
	}
	if cfg.MaxAgents == 0 {
		cfg.MaxAgents = 10
	}
	if cfg.MaxSimulations == 0 {
		cfg.MaxSimulations = 20
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" || c.Method() == "PUT" {
			contentType := c.Get("Content-Type")
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
						"error": "Unsupported content type",
					})
				}
			}
		}

		if c.Method() == "POST" && c.Path() == "/api/v1/comparisons" {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			if name, ok := req["name"].(string); ok && len(name) > cfg.MaxNameLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": fmt.Sprintf("Comparison name exceeds %d characters", cfg.MaxNameLength),
				})
			}

			agentCount := 0
			if ids, ok := req["agent_ids"].([]interface{}); ok {
				agentCount += len(ids)
			}
			if manual, ok := req["manual_agents"].([]interface{}); ok {
				agentCount += len(manual)

				for _, entry := range manual {
					m, ok := entry.(map[string]interface{})
					if !ok {
						continue
					}
					if prompt, ok := m["system_prompt"].(string); ok && len(prompt) > cfg.MaxPromptLength {
						return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
							"error": fmt.Sprintf("Manual agent system prompt exceeds %d characters", cfg.MaxPromptLength),
						})
					}
				}
			}
			if agentCount > cfg.MaxAgents {
				logger.Warn("Comparison rejected, too many agents",
					zap.String("ip", c.IP()),
					zap.Int("agents", agentCount),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": fmt.Sprintf("A comparison supports at most %d agents", cfg.MaxAgents),
				})
			}

			if sims, ok := req["num_simulations"].(float64); ok && int(sims) > cfg.MaxSimulations {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": fmt.Sprintf("num_simulations is capped at %d", cfg.MaxSimulations),
				})
			}

			if sc, ok := req["scenario"].(map[string]interface{}); ok {
				for _, field := range []string{"agent_overview", "user_persona", "situation", "expected_outcome"} {
					if v, ok := sc[field].(string); ok && len(v) > cfg.MaxPromptLength {
						return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
							"error": fmt.Sprintf("Scenario field %s exceeds %d characters", field, cfg.MaxPromptLength),
						})
					}
				}
			}
		}

		return c.Next()
	}
}
