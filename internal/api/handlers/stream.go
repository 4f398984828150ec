package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"logrelay/internal/controller"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// SummarySource produces the data pushed to stream clients
type SummarySource interface {
	Summary(rate int) controller.Summary
}

// StreamHandler pushes the summary over Server-Sent Events
type StreamHandler struct {
	source      SummarySource
	interval    time.Duration
	summaryRate int
	logger      *pterm.Logger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(source SummarySource, interval time.Duration, summaryRate int, logger *pterm.Logger) *StreamHandler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if summaryRate <= 0 {
		summaryRate = 15
	}
	return &StreamHandler{
		source:      source,
		interval:    interval,
		summaryRate: summaryRate,
		logger:      logger,
	}
}

// StreamSummary sends the summary on connect and then every interval
func (h *StreamHandler) StreamSummary(c *gin.Context) {
	rate, ok := parseRate(c, h.summaryRate)
	if !ok {
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Debug("Client connected to summary stream", h.logger.Args("client_ip", c.ClientIP(), "rate", rate))

	if !h.send(c, rate) {
		return
	}
	for {
		select {
		case <-c.Request.Context().Done():
			h.logger.Debug("Client disconnected from summary stream", h.logger.Args("client_ip", c.ClientIP()))
			return

		case <-ticker.C:
			if !h.send(c, rate) {
				return
			}
		}
	}
}

func (h *StreamHandler) send(c *gin.Context, rate int) bool {
	data, err := json.Marshal(h.source.Summary(rate))
	if err != nil {
		h.logger.Error("Failed to marshal summary", h.logger.Args("error", err))
		return true
	}

	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		h.logger.Debug("Failed to write SSE data", h.logger.Args("error", err))
		return false
	}
	c.Writer.Flush()
	return true
}
