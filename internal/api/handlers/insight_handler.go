package handlers

import (
	"net/http"
	"strconv"

	"example.com/astrocoach/services/insight/internal/artifacts"
	"example.com/astrocoach/services/insight/internal/metrics"
	"example.com/astrocoach/services/insight/internal/services"
	"example.com/astrocoach/services/insight/internal/signals"
	"example.com/astrocoach/services/insight/internal/simulation"
	"example.com/astrocoach/services/insight/internal/tracing"
	"example.com/astrocoach/services/insight/internal/trend"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// InsightHandler handles scenario and trend HTTP requests
type InsightHandler struct {
	insightService *services.InsightService
	metrics        *metrics.Metrics
	tracer         tracing.Tracer
}

// NewInsightHandler creates a new insight handler
func NewInsightHandler(insightService *services.InsightService, m *metrics.Metrics, tracer tracing.Tracer) *InsightHandler {
	return &InsightHandler{
		insightService: insightService,
		metrics:        m,
		tracer:         tracer,
	}
}

// TargetingRequest is the body of a targeting simulation request
type TargetingRequest struct {
	MinProbability float64 `json:"min_probability"`
	Capacity       int     `json:"capacity"`
	Budget         float64 `json:"budget"`
	UnitCost       float64 `json:"unit_cost"`
	Clamp          bool    `json:"clamp"`
}

// EventImpactRequest is the body of an event impact simulation request
type EventImpactRequest struct {
	UserIDs       []string           `json:"user_ids" binding:"required"`
	FeatureDeltas map[string]float64 `json:"feature_deltas" binding:"required"`
}

// ChurnImpactRequest is the body of a churn impact simulation request
type ChurnImpactRequest struct {
	UserIDs            []string           `json:"user_ids"`
	InterventionEffect map[string]float64 `json:"intervention_effect" binding:"required"`
	RevenuePerUser     float64            `json:"revenue_per_user"`
}

// SweepRequest is the body of an event impact sweep request
type SweepRequest struct {
	UserIDs   []string             `json:"user_ids" binding:"required"`
	DeltaSets []map[string]float64 `json:"delta_sets" binding:"required"`
}

// HandleTargeting runs a targeting simulation
func (h *InsightHandler) HandleTargeting(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-targeting")
	defer h.tracer.EndTransaction(txn)

	var req TargetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "capacity", req.Capacity)
	h.metrics.IncrementCounter("simulations.targeting")

	result, err := h.insightService.RunTargetingScenario(c, simulation.TargetingRequest{
		MinProbability: req.MinProbability,
		Capacity:       req.Capacity,
		Budget:         req.Budget,
		UnitCost:       req.UnitCost,
		Clamp:          req.Clamp,
	})
	if err != nil {
		h.respondError(c, txn, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// HandleEventImpact runs an event impact simulation
func (h *InsightHandler) HandleEventImpact(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-event-impact")
	defer h.tracer.EndTransaction(txn)

	var req EventImpactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "users", len(req.UserIDs))
	h.metrics.IncrementCounter("simulations.event_impact")

	result, err := h.insightService.RunEventImpactScenario(c, req.UserIDs, req.FeatureDeltas)
	if err != nil {
		h.respondError(c, txn, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// HandleChurnImpact runs a churn impact simulation
func (h *InsightHandler) HandleChurnImpact(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-churn-impact")
	defer h.tracer.EndTransaction(txn)

	var req ChurnImpactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.metrics.IncrementCounter("simulations.churn_impact")

	result, err := h.insightService.RunChurnImpactScenario(c, req.UserIDs, req.InterventionEffect, req.RevenuePerUser)
	if err != nil {
		h.respondError(c, txn, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// HandleSweep runs several event impact simulations concurrently
func (h *InsightHandler) HandleSweep(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-event-impact-sweep")
	defer h.tracer.EndTransaction(txn)

	var req SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.tracer.AddAttribute(txn, "delta_sets", len(req.DeltaSets))
	h.metrics.IncrementCounter("simulations.sweep")

	results, err := h.insightService.RunEventImpactSweep(c, req.UserIDs, req.DeltaSets)
	if err != nil {
		h.respondError(c, txn, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"results": results})
}

// HandleGetTrend returns persisted trend labels
func (h *InsightHandler) HandleGetTrend(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-trend")
	defer h.tracer.EndTransaction(txn)

	window := trend.DefaultWindow
	if raw := c.Query("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 2 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be an integer >= 2"})
			return
		}
		window = parsed
	}

	labels, err := h.insightService.GetTrendLabels(c, window)
	if err != nil {
		h.respondError(c, txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"window": window, "labels": labels})
}

// HandleListScenarios returns recent scenario results
func (h *InsightHandler) HandleListScenarios(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	results, err := h.insightService.ListRecentScenarios(c, c.Query("kind"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

// HandleGetScenario returns a single scenario result by ID
func (h *InsightHandler) HandleGetScenario(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a valid UUID"})
		return
	}

	result, err := h.insightService.GetScenario(c, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "scenario not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}

// HandleSearchScenarios runs a raw Elasticsearch query over indexed scenarios
func (h *InsightHandler) HandleSearchScenarios(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-search-scenarios")
	defer h.tracer.EndTransaction(txn)

	var query map[string]interface{}
	if err := c.ShouldBindJSON(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	docs, err := h.insightService.SearchScenarios(c, query)
	if err != nil {
		h.respondError(c, txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"hits": docs})
}

// HandleOverview returns the executive overview
func (h *InsightHandler) HandleOverview(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-overview")
	defer h.tracer.EndTransaction(txn)

	overview, err := h.insightService.Overview(c)
	if err != nil {
		h.respondError(c, txn, err)
		return
	}

	c.JSON(http.StatusOK, overview)
}

// HandleRefreshFeatures rebuilds the consolidated feature table on demand
func (h *InsightHandler) HandleRefreshFeatures(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-refresh-features")
	defer h.tracer.EndTransaction(txn)

	count, err := h.insightService.RefreshBehavioralFeatures(c)
	if err != nil {
		h.respondError(c, txn, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"feature_rows": count})
}

// respondError maps domain errors onto HTTP statuses
func (h *InsightHandler) respondError(c *gin.Context, txn *newrelic.Transaction, err error) {
	log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	h.metrics.IncrementCounter("api.errors")
	h.tracer.RecordError(txn, err)

	var capacityErr *simulation.InvalidCapacityError
	var featureErr *simulation.UnknownFeatureError
	var interventionErr *simulation.InvalidInterventionError
	var schemaErr *artifacts.SchemaMismatchError
	var dataErr *trend.InsufficientDataError
	var unmappedErr *signals.UnmappedEventTypeError

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &capacityErr), errors.As(err, &featureErr), errors.As(err, &interventionErr):
		status = http.StatusBadRequest
	case errors.As(err, &schemaErr), errors.As(err, &dataErr), errors.As(err, &unmappedErr):
		status = http.StatusUnprocessableEntity
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

// RegisterRoutes registers the handler's routes
func (h *InsightHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/simulations/targeting", h.HandleTargeting)
	router.POST("/simulations/event-impact", h.HandleEventImpact)
	router.POST("/simulations/churn-impact", h.HandleChurnImpact)
	router.POST("/simulations/sweep", h.HandleSweep)
	router.GET("/trend", h.HandleGetTrend)
	router.GET("/scenarios", h.HandleListScenarios)
	router.GET("/scenarios/:id", h.HandleGetScenario)
	router.POST("/scenarios/search", h.HandleSearchScenarios)
	router.GET("/overview", h.HandleOverview)
	router.POST("/refresh/features", h.HandleRefreshFeatures)
}
