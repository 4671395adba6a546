package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"market-intel/internal/market"
	"market-intel/internal/reconcile"
)

// Engine is the pricing engine surface served over HTTP.
type Engine interface {
	Lookup(ctx context.Context, query string, limit int) ([]market.SoldItem, error)
	Estimate(ctx context.Context, query string, limit int) (market.Snapshot, error)
	Reconcile(ctx context.Context, ids []string, opts reconcile.Options) (market.Report, error)
}

// RunRecorder persists reports of API-triggered batches.
type RunRecorder interface {
	SaveRun(ctx context.Context, trigger string, report market.Report) error
}

// TriggerAPI marks runs started through the HTTP API.
const TriggerAPI = "api"

// Handler serves the engine endpoints.
type Handler struct {
	engine   Engine
	runs     RunRecorder
	defaults reconcile.Options
	logger   zerolog.Logger

	reconcileOff bool
}

// NewHandler builds a Handler. defaults supply the options a request omits.
// runs may be nil.
func NewHandler(engine Engine, runs RunRecorder, defaults reconcile.Options, logger zerolog.Logger) *Handler {
	return &Handler{
		engine:   engine,
		runs:     runs,
		defaults: defaults,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// WithoutReconcile makes the reconcile endpoint answer 503, for deployments
// without a catalog store.
func (h *Handler) WithoutReconcile() *Handler {
	h.reconcileOff = true
	return h
}

// NewRouter wires the handler into a gin engine.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.GET("/comparables", h.Comparables)
		v1.GET("/estimate", h.Estimate)
		v1.POST("/reconcile", h.Reconcile)
	}
	return r
}

// Comparables returns comparable sold items for ?q=.
func (h *Handler) Comparables(c *gin.Context) {
	limit, ok := h.limitParam(c)
	if !ok {
		return
	}
	query := c.Query("q")
	items, err := h.engine.Lookup(c.Request.Context(), query, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": strings.TrimSpace(query), "count": len(items), "items": items})
}

// Estimate returns a snapshot for ?q= without persisting it.
func (h *Handler) Estimate(c *gin.Context) {
	limit, ok := h.limitParam(c)
	if !ok {
		return
	}
	snap, err := h.engine.Estimate(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type reconcileRequest struct {
	ItemIDs     []string `json:"item_ids"`
	Concurrency int      `json:"concurrency"`
	TTL         string   `json:"ttl"`
}

// Reconcile runs a batch over the posted item ids and returns the report.
func (h *Handler) Reconcile(c *gin.Context) {
	if h.reconcileOff {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reconciliation requires a catalog database"})
		return
	}

	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.ItemIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_ids is required"})
		return
	}

	opts := h.defaults
	if req.Concurrency != 0 {
		opts.Concurrency = req.Concurrency
	}
	if req.TTL != "" {
		ttl, err := time.ParseDuration(req.TTL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ttl"})
			return
		}
		opts.TTL = ttl
	}
	if err := opts.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.engine.Reconcile(c.Request.Context(), req.ItemIDs, opts)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if h.runs != nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 10*time.Second)
		defer cancel()
		if err := h.runs.SaveRun(saveCtx, TriggerAPI, report); err != nil {
			h.logger.Error().Err(err).Str("run_id", report.RunID).Msg("failed to record run")
		}
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return h.defaults.SampleBound, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return 0, false
	}
	return limit, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, market.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, market.ErrSourceUnavailable):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request served")
	}
}
