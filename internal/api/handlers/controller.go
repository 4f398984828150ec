package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"logrelay/internal/controller"
	"logrelay/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// ControllerService is the state behind the controller routes
type ControllerService interface {
	Configurations(node string) []models.Configuration
	Checkpoints(ctx context.Context, node string) ([]models.Checkpoint, error)
	SaveCheckpoints(ctx context.Context, node string, docs []models.Checkpoint) error
	MergeMetrics(ctx context.Context, node string, msg models.MetricsMessage) (bool, error)
	AppendEvents(ctx context.Context, node string, evs []models.Event) error
	Totals() []controller.Total
	Summary(rate int) controller.Summary
}

// ControllerHandler serves configurations to dispatchers and collects
// their checkpoints, metrics and events
type ControllerHandler struct {
	service     ControllerService
	summaryRate int
	logger      *pterm.Logger
}

// NewControllerHandler creates a new controller handler
func NewControllerHandler(service ControllerService, summaryRate int, logger *pterm.Logger) *ControllerHandler {
	if summaryRate <= 0 {
		summaryRate = 15
	}
	return &ControllerHandler{
		service:     service,
		summaryRate: summaryRate,
		logger:      logger,
	}
}

// GetConfigurations returns the enabled configurations of a dispatcher
func (h *ControllerHandler) GetConfigurations(c *gin.Context) {
	node := c.Param("hostname")
	docs := h.service.Configurations(node)
	h.logger.Debug("Serving configurations", h.logger.Args("node", node, "count", len(docs)))
	c.JSON(http.StatusOK, docs)
}

// GetCheckpoints returns the last checkpoints a dispatcher reported
func (h *ControllerHandler) GetCheckpoints(c *gin.Context) {
	node := c.Param("hostname")
	docs, err := h.service.Checkpoints(c.Request.Context(), node)
	if err != nil {
		h.logger.WithCaller().Error("Failed to read checkpoints", h.logger.Args("node", node, "error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read checkpoints"})
		return
	}
	c.JSON(http.StatusOK, docs)
}

// PostCheckpoints stores the checkpoints of a dispatcher. A failed write
// is logged; the dispatcher sends again on its next commit.
func (h *ControllerHandler) PostCheckpoints(c *gin.Context) {
	node := c.Param("hostname")
	var docs []models.Checkpoint
	if err := c.ShouldBindJSON(&docs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid checkpoints"})
		return
	}

	if err := h.service.SaveCheckpoints(c.Request.Context(), node, docs); err != nil {
		h.logger.WithCaller().Error("Failed to write checkpoints", h.logger.Args("node", node, "error", err))
	} else {
		h.logger.Trace("Checkpoints stored", h.logger.Args("node", node, "count", len(docs)))
	}
	c.Status(http.StatusOK)
}

// PostMetrics merges a metrics report. Both a bare list of series and the
// {code, metrics} envelope are accepted.
func (h *ControllerHandler) PostMetrics(c *gin.Context) {
	node := c.Param("hostname")
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	var msg models.MetricsMessage
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &msg.Metrics)
	} else {
		err = json.Unmarshal(body, &msg)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid metrics"})
		return
	}

	merged, err := h.service.MergeMetrics(c.Request.Context(), node, msg)
	if err != nil {
		h.logger.WithCaller().Error("Failed to persist metrics", h.logger.Args("node", node, "error", err))
	}
	c.JSON(http.StatusOK, gin.H{"merged": merged})
}

// PostEvents appends the events reported by a dispatcher
func (h *ControllerHandler) PostEvents(c *gin.Context) {
	node := c.Param("hostname")
	var evs []models.Event
	if err := c.ShouldBindJSON(&evs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid events"})
		return
	}

	if err := h.service.AppendEvents(c.Request.Context(), node, evs); err != nil {
		h.logger.WithCaller().Error("Failed to persist events", h.logger.Args("node", node, "error", err))
	}
	c.Status(http.StatusOK)
}

// GetMetrics returns the total of every series
func (h *ControllerHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Totals())
}

// GetSummary returns node activity and the volume chart
func (h *ControllerHandler) GetSummary(c *gin.Context) {
	rate, ok := parseRate(c, h.summaryRate)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.service.Summary(rate))
}

// parseRate reads the chart window in minutes from the query
func parseRate(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("rate")
	if raw == "" {
		return fallback, true
	}
	rate, err := strconv.Atoi(raw)
	if err != nil || rate < 1 || rate > 24*60 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rate must be between 1 and 1440 minutes"})
		return 0, false
	}
	return rate, true
}
