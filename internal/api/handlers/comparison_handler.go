package handlers

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/comparison"
	"github.com/voicearena/backend/internal/scenario"
	"github.com/voicearena/backend/pkg/logger"
)

type ComparisonHandler struct {
	orchestrator *comparison.Orchestrator
	store        comparison.Store
}

func NewComparisonHandler(orchestrator *comparison.Orchestrator, store comparison.Store) *ComparisonHandler {
	return &ComparisonHandler{
		orchestrator: orchestrator,
		store:        store,
	}
}

type manualAgentRequest struct {
	AgentName      string  `json:"agent_name"`
	WelcomeMessage string  `json:"welcome_message"`
	SystemPrompt   string  `json:"system_prompt"`
	HangupPrompt   string  `json:"hangup_prompt"`
	LLMModel       string  `json:"llm_model"`
	Temperature    float32 `json:"temperature"`
	MaxTokens      int     `json:"max_tokens"`
}

type createComparisonRequest struct {
	Name           string               `json:"name"`
	Scenario       scenario.Config      `json:"scenario"`
	AgentIDs       []string             `json:"agent_ids"`
	ManualAgents   []manualAgentRequest `json:"manual_agents"`
	NumSimulations int                  `json:"num_simulations"`
	Variables      map[string]string    `json:"variables"`
}

func (h *ComparisonHandler) CreateComparison(c *fiber.Ctx) error {
	var req createComparisonRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	params := comparison.CreateParams{
		Name:           req.Name,
		Scenario:       req.Scenario,
		AgentIDs:       req.AgentIDs,
		NumSimulations: req.NumSimulations,
		Variables:      req.Variables,
	}
	for _, m := range req.ManualAgents {
		if m.AgentName == "" || m.SystemPrompt == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Manual agents need agent_name and system_prompt",
			})
		}
		params.ManualAgents = append(params.ManualAgents, agents.NewManualConfig(
			m.AgentName, m.WelcomeMessage, m.SystemPrompt, m.HangupPrompt,
			m.LLMModel, m.Temperature, m.MaxTokens,
		))
	}

	comp, err := h.orchestrator.Create(c.Context(), params)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(comp)
}

func (h *ComparisonHandler) ExecuteComparison(c *fiber.Ctx) error {
	comparisonID := c.Params("id")

	if err := h.orchestrator.Execute(c.Context(), comparisonID); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"comparison_id": comparisonID,
		"status":        "started",
	})
}

// RerunComparison creates a fresh comparison with the same inputs and
// starts it immediately. The original comparison is left untouched.
func (h *ComparisonHandler) RerunComparison(c *fiber.Ctx) error {
	comparisonID := c.Params("id")

	rerun, err := h.orchestrator.Rerun(c.Context(), comparisonID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := h.orchestrator.Execute(c.Context(), rerun.ComparisonID); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"comparison_id":          rerun.ComparisonID,
		"original_comparison_id": comparisonID,
		"status":                 "started",
	})
}

func (h *ComparisonHandler) CancelComparison(c *fiber.Ctx) error {
	comparisonID := c.Params("id")

	if err := h.orchestrator.Cancel(comparisonID); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"comparison_id": comparisonID,
		"status":        "canceled",
	})
}

func (h *ComparisonHandler) GetStatus(c *fiber.Ctx) error {
	comparisonID := c.Params("id")

	status, err := h.orchestrator.Status(c.Context(), comparisonID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(status)
}

func (h *ComparisonHandler) GetResults(c *fiber.Ctx) error {
	comparisonID := c.Params("id")

	comp, err := h.store.GetComparison(c.Context(), comparisonID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if comp.Result == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": fmt.Sprintf("comparison %s has no results yet (phase %s)", comparisonID, comp.Phase),
		})
	}

	return c.JSON(comp.Result)
}

func (h *ComparisonHandler) GetComparison(c *fiber.Ctx) error {
	comparisonID := c.Params("id")

	comp, err := h.store.GetComparison(c.Context(), comparisonID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(comp)
}

func (h *ComparisonHandler) ListComparisons(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))

	comparisons, err := h.store.ListComparisons(c.Context(), limit, offset)
	if err != nil {
		logger.Error("Failed to list comparisons", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list comparisons",
		})
	}

	return c.JSON(fiber.Map{
		"comparisons": comparisons,
		"count":       len(comparisons),
	})
}

func (h *ComparisonHandler) ListRuns(c *fiber.Ctx) error {
	comparisonID := c.Params("id")

	runs, err := h.store.ListRuns(c.Context(), comparisonID)
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}

	return c.JSON(fiber.Map{
		"comparison_id": comparisonID,
		"runs":          runs,
		"count":         len(runs),
	})
}

func (h *ComparisonHandler) GetRun(c *fiber.Ctx) error {
	runID := c.Params("runId")

	run, err := h.store.GetRun(c.Context(), runID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(run)
}

// DownloadTranscripts bundles every run transcript of a comparison into a
// zip archive, one JSON file per run.
func (h *ComparisonHandler) DownloadTranscripts(c *fiber.Ctx) error {
	comparisonID := c.Params("id")

	runs, err := h.store.ListRuns(c.Context(), comparisonID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if len(runs) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("comparison %s has no runs", comparisonID),
		})
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, run := range runs {
		name := fmt.Sprintf("%s_sim%d_%s.json", run.AgentID, run.SimulationNumber, run.RunID)
		f, err := zw.Create(name)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to build archive",
			})
		}
		data, err := json.MarshalIndent(run, "", "  ")
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to encode transcript",
			})
		}
		if _, err := f.Write(data); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to build archive",
			})
		}
	}
	if err := zw.Close(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build archive",
		})
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="transcripts_%s.zip"`, comparisonID))
	return c.Send(buf.Bytes())
}
