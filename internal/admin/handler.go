// Package admin serves the administrative HTTP endpoints of a running
// process: configuration reload, statistics, validation and metrics.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mosberg/entomology/internal/core/observability/log"
	"github.com/Mosberg/entomology/internal/integration"
)

// Backend is the part of the running system the endpoints drive.
type Backend interface {
	Initialized() bool
	Reload(ctx context.Context) error
	Validate() integration.Report
	Stats() integration.Stats
}

type StatusResponse struct {
	Status string `json:"status"`
}

type Handlers struct {
	backend Backend
	logger  log.Log
}

func NewHandlers(backend Backend, logger log.Log) *Handlers {
	return &Handlers{backend: backend, logger: logger}
}

// HandleReload re-reads the configuration documents.
func (h *Handlers) HandleReload(c *gin.Context) {
	if err := h.backend.Reload(c.Request.Context()); err != nil {
		h.logger.Error("Reload failed", log.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  CodeReloadFailed,
		})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "reloaded"})
}

func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.backend.Stats())
}

// HandleValidate answers 422 with the full report when anything is invalid.
func (h *Handlers) HandleValidate(c *gin.Context) {
	report := h.backend.Validate()
	if !report.OK {
		c.JSON(http.StatusUnprocessableEntity, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) HandleHealth(c *gin.Context) {
	if !h.backend.Initialized() {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "system not initialized",
			Code:  CodeNotReady,
		})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// NewRouter wires the handlers. gatherer may be nil, which leaves /metrics unrouted.
func NewRouter(h *Handlers, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	r.GET("/healthz", h.HandleHealth)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	g := r.Group("/admin")
	g.POST("/reload", h.HandleReload)
	g.GET("/stats", h.HandleStats)
	g.GET("/validate", h.HandleValidate)
	return r
}

func requestLogger(logger log.Log) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("Admin request",
			log.String("method", c.Request.Method),
			log.String("path", c.FullPath()),
			log.Int("status", c.Writer.Status()),
			log.Duration("elapsed", time.Since(start)),
		)
	}
}
