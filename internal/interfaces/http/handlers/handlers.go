// Package handlers implements the gin handler functions for every engine
// HTTP endpoint.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/domain/service"
	"github.com/vizloop/enginecore/internal/domain/toolpolicy"
	"github.com/vizloop/enginecore/internal/infrastructure/persistence"
	"github.com/vizloop/enginecore/internal/infrastructure/sse"
	apperrors "github.com/vizloop/enginecore/pkg/errors"
)

// Handlers groups every collaborator the HTTP surface touches. None of it
// mutates TurnStore directly except the annotated-image side write; the
// loop remains the sole writer of turns.jsonl.
type Handlers struct {
	loop     *service.EngineLoop
	gate     *service.RenderJobGate
	state    *entity.RunState
	policy   *toolpolicy.Policy
	store    *persistence.TurnStore
	broker   *sse.Broker
	executor service.Executor
	log      *zap.Logger
}

// New builds a Handlers bundle.
func New(
	loop *service.EngineLoop,
	gate *service.RenderJobGate,
	state *entity.RunState,
	policy *toolpolicy.Policy,
	store *persistence.TurnStore,
	broker *sse.Broker,
	executor service.Executor,
	log *zap.Logger,
) *Handlers {
	return &Handlers{
		loop: loop, gate: gate, state: state, policy: policy,
		store: store, broker: broker, executor: executor, log: log,
	}
}

// Panel serves the static HTML page that drives the other endpoints.
func (h *Handlers) Panel(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(panelHTML))
}

// Health implements GET /health.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":       true,
		"paused":   h.state.Paused(),
		"run_dir":  h.state.RunDir(),
		"ts":       time.Now().UTC(),
		"last_seq": h.state.LastSeq(),
	})
}

// RenderJob implements GET /render_job. Must answer within ~50ms
// regardless of engine state, which Peek's non-blocking read guarantees.
func (h *Handlers) RenderJob(c *gin.Context) {
	job := h.gate.Peek()
	if job == nil {
		c.JSON(http.StatusOK, gin.H{"waiting": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"seq":       job.Seq,
		"image_b64": job.RawImageB64,
		"actions":   job.Actions,
	})
}

type annotatedRequest struct {
	Seq      int64  `json:"seq"`
	ImageB64 string `json:"image_b64"`
}

// Annotated implements POST /annotated. Delivery is serialized entirely
// through the gate; this handler does nothing but validate, forward, and
// persist a copy of the image to disk for the turn's eventual record.
func (h *Handlers) Annotated(c *gin.Context) {
	var req annotatedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Seq <= 0 || req.ImageB64 == "" {
		writeAppError(c, http.StatusBadRequest, apperrors.NewInvalidInputError("seq and image_b64 are required"))
		return
	}

	switch h.gate.Deliver(req.Seq, req.ImageB64) {
	case service.DeliverOK:
		if err := h.store.WriteAnnotatedImage(req.Seq, req.ImageB64); err != nil {
			h.log.Warn("failed to persist annotated image", zap.Int64("seq", req.Seq), zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	case service.DeliverStale:
		writeAppError(c, http.StatusConflict, apperrors.NewAlreadyExistsError(fmt.Sprintf("seq %d is stale", req.Seq)))
	default:
		writeAppError(c, http.StatusBadRequest, apperrors.NewNotFoundError("no render job is pending"))
	}
}

// writeAppError renders an *errors.AppError as JSON, carrying its code
// alongside the message so enginectl can branch on Code rather than
// string-matching the message.
func writeAppError(c *gin.Context, status int, err *apperrors.AppError) {
	c.JSON(status, gin.H{"code": err.Code, "error": err.Message})
}

// Pause implements POST /pause.
func (h *Handlers) Pause(c *gin.Context) {
	h.state.SetPaused(true)
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Unpause implements POST /unpause.
func (h *Handlers) Unpause(c *gin.Context) {
	h.state.SetPaused(false)
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// GetAllowedTools implements GET /allowed_tools.
func (h *Handlers) GetAllowedTools(c *gin.Context) {
	c.JSON(http.StatusOK, h.policy.Snapshot())
}

// SetAllowedTools implements POST /allowed_tools — an atomic replace.
func (h *Handlers) SetAllowedTools(c *gin.Context) {
	var names []string
	if err := c.ShouldBindJSON(&names); err != nil {
		writeAppError(c, http.StatusBadRequest, apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if len(names) == 0 {
		writeAppError(c, http.StatusBadRequest, apperrors.NewInvalidInputError("allowlist must not be empty"))
		return
	}
	if err := h.policy.Replace(names); err != nil {
		writeAppError(c, http.StatusInternalServerError, apperrors.NewInternalErrorWithCause("persist allowlist", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type debugExecuteRequest struct {
	StoryText string `json:"story_text"`
}

// DebugExecute implements POST /debug/execute: runs the executor with
// debug=true (no physical actions), without advancing seq or publishing a
// render job.
func (h *Handlers) DebugExecute(c *gin.Context) {
	var req debugExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeAppError(c, http.StatusBadRequest, apperrors.NewInvalidInputError(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 20*time.Second)
	defer cancel()

	result, err := h.executor.Execute(ctx, service.ExecRequest{
		StoryText:    req.StoryText,
		AllowedTools: h.policy.Snapshot(),
		Debug:        true,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"executed":      result.Executed,
		"malformed":     result.Malformed,
		"raw_image_b64": result.RawImageB64,
	})
}

// Events implements GET /events: an SSE stream with an optional
// replay=<N> query parameter for bounded catch-up, and a heartbeat
// comment line every 15s to defeat proxy idle timeouts.
func (h *Handlers) Events(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	if n, err := strconv.Atoi(c.Query("replay")); err == nil && n > 0 {
		for _, turn := range h.store.Replay(n) {
			writeSSE(c.Writer, turn)
		}
		flusher.Flush()
	}

	sub := h.broker.Subscribe()
	defer h.broker.Unsubscribe(sub)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case turn, ok := <-sub.C():
			if !ok {
				return
			}
			writeSSE(c.Writer, turn)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, turn *entity.Turn) {
	data, err := json.Marshal(turn)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
