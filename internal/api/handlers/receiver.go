package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pterm/pterm"
)

// ReceiverHandler accepts batches from a URL destination and logs them
type ReceiverHandler struct {
	logger *pterm.Logger
}

func NewReceiverHandler(logger *pterm.Logger) *ReceiverHandler {
	return &ReceiverHandler{logger: logger}
}

// Receive logs every record of a posted batch. A body that is not a list
// is logged as a single document.
func (h *ReceiverHandler) Receive(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}

	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		var doc json.RawMessage
		if err := json.Unmarshal(body, &doc); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Body must be JSON"})
			return
		}
		batch = []json.RawMessage{doc}
	}

	for _, rec := range batch {
		h.logger.Info("Received", h.logger.Args("record", string(rec)))
	}
	c.JSON(http.StatusOK, gin.H{"received": len(batch)})
}
