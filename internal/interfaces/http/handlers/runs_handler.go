package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vizloop/enginecore/internal/infrastructure/runindex"
)

// RunsHandler serves GET /runs, the RunIndex cross-run listing addition.
type RunsHandler struct {
	index *runindex.Index
}

// NewRunsHandler wraps a RunIndex.
func NewRunsHandler(index *runindex.Index) *RunsHandler {
	return &RunsHandler{index: index}
}

// List returns every run, newest first.
func (h *RunsHandler) List(c *gin.Context) {
	runs, err := h.index.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}
