package handlers

import (
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/voicearena/backend/internal/comparison"
	"github.com/voicearena/backend/pkg/logger"
)

type WebSocketHandler struct {
	orchestrator *comparison.Orchestrator
}

func NewWebSocketHandler(orchestrator *comparison.Orchestrator) *WebSocketHandler {
	return &WebSocketHandler{
		orchestrator: orchestrator,
	}
}

// HandleStatusStream pushes live status updates for a running comparison
// over the socket. The stream closes when the comparison finishes or the
// client disconnects.
func (h *WebSocketHandler) HandleStatusStream(c *websocket.Conn) {
	comparisonID := c.Params("id")

	logger.Info("WebSocket status stream opened", zap.String("comparison_id", comparisonID))

	defer func() {
		c.Close()
		logger.Info("WebSocket status stream closed", zap.String("comparison_id", comparisonID))
	}()

	updates, release, err := h.orchestrator.Subscribe(comparisonID)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}
	defer release()

	// Reads drain in the background so client close is noticed even
	// while we only write. Control messages come through ReadMessage.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case status, ok := <-updates:
			if !ok {
				h.sendFinal(c, comparisonID)
				return
			}
			if err := h.sendStatus(c, status); err != nil {
				logger.Warn("Failed to write status update",
					zap.String("comparison_id", comparisonID), zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

func (h *WebSocketHandler) sendStatus(c *websocket.Conn, status comparison.Status) error {
	msg := map[string]interface{}{
		"type":   "status",
		"status": status,
	}
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendFinal(c *websocket.Conn, comparisonID string) {
	msg := map[string]interface{}{
		"type":          "complete",
		"comparison_id": comparisonID,
	}
	c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}
	c.WriteJSON(msg)
}
