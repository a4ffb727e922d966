// Package http wires the gin router for every endpoint spec.md §6
// fixes, plus the two additions from SPEC_FULL.md §4.3.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vizloop/enginecore/internal/domain/entity"
	"github.com/vizloop/enginecore/internal/domain/service"
	"github.com/vizloop/enginecore/internal/domain/toolpolicy"
	"github.com/vizloop/enginecore/internal/infrastructure/persistence"
	"github.com/vizloop/enginecore/internal/infrastructure/renderhub"
	"github.com/vizloop/enginecore/internal/infrastructure/runindex"
	"github.com/vizloop/enginecore/internal/infrastructure/sse"
	"github.com/vizloop/enginecore/internal/interfaces/http/handlers"
)

// Config is the HTTP server's own listen address.
type Config struct {
	Host string
	Port int
}

// Server owns the gin router and the underlying net/http.Server.
type Server struct {
	server *http.Server
	log    *zap.Logger
}

// New builds the router and wires every handler.
func New(
	cfg Config,
	loop *service.EngineLoop,
	gate *service.RenderJobGate,
	state *entity.RunState,
	policy *toolpolicy.Policy,
	store *persistence.TurnStore,
	broker *sse.Broker,
	hub *renderhub.Hub,
	index *runindex.Index,
	executor service.Executor,
	log *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(log))

	h := handlers.New(loop, gate, state, policy, store, broker, executor, log)
	runsHandler := handlers.NewRunsHandler(index)

	router.GET("/", h.Panel)
	router.GET("/events", h.Events)
	router.GET("/health", h.Health)
	router.GET("/render_job", h.RenderJob)
	router.POST("/annotated", h.Annotated)
	router.POST("/pause", h.Pause)
	router.POST("/unpause", h.Unpause)
	router.GET("/allowed_tools", h.GetAllowedTools)
	router.POST("/allowed_tools", h.SetAllowedTools)
	router.POST("/debug/execute", h.DebugExecute)
	router.GET("/runs", runsHandler.List)
	router.GET("/ws/render_job", gin.WrapF(hub.ServeWS))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		log:    log,
	}
}

// Start listens in the background; errors other than a clean Shutdown are
// logged rather than returned, matching the teacher's fire-and-forget
// ListenAndServe goroutine.
func (s *Server) Start() {
	s.log.Info("starting http server", zap.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("stopping http server")
	return s.server.Shutdown(ctx)
}

func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
