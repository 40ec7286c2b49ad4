// Package api exposes the intelligence engine over HTTP: per-shipment
// delivery probability estimates and the dashboard read views derived from
// persisted outcome records and survival curves.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quaymark/shipsight/internal/platform/metrics"
	"github.com/quaymark/shipsight/internal/services/intelligence/domain"
	"github.com/quaymark/shipsight/internal/services/intelligence/storage"
)

// Pinger verifies the backing store is reachable, for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server holds the HTTP handler dependencies.
type Server struct {
	estimator *domain.Estimator
	outcomes  storage.OutcomeStore
	curves    storage.CurveStore
	pinger    Pinger
	now       func() time.Time
}

// New wires the HTTP server. A nil clock uses time.Now.
func New(estimator *domain.Estimator, outcomes storage.OutcomeStore, curves storage.CurveStore, pinger Pinger, now func() time.Time) *Server {
	if now == nil {
		now = time.Now
	}
	return &Server{estimator: estimator, outcomes: outcomes, curves: curves, pinger: pinger, now: now}
}

// Register mounts all routes on the engine.
func (s *Server) Register(r *gin.Engine) {
	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/shipments/:id/delivery-probability", s.estimate)
		v1.POST("/delivery-probability/batch", s.estimateBatch)
		v1.GET("/intelligence/outcomes/summary", s.outcomeSummary)
		v1.GET("/intelligence/carriers/performance", s.carrierPerformance)
		v1.GET("/intelligence/curves/confidence", s.curveConfidence)
		v1.GET("/intelligence/curves/heatmap", s.confidenceHeatmap)
	}
}

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

func (s *Server) health(c *gin.Context) {
	if s.pinger != nil {
		if err := s.pinger.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) estimate(c *gin.Context) {
	shipmentID := c.Param("id")
	start := time.Now()
	estimate, err := s.estimator.Estimate(c.Request.Context(), shipmentID, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "shipment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	metrics.EstimatesServed.Inc()
	metrics.EstimateDuration.Observe(time.Since(start).Seconds())
	if estimate == nil {
		// The shipment exists but has not started transit; an expected
		// state, not an error.
		c.JSON(http.StatusOK, gin.H{"shipment_id": shipmentID, "eligible": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipment_id": shipmentID, "eligible": true, "estimate": estimate})
}

type batchEstimateRequest struct {
	ShipmentIDs []string `json:"shipment_ids"`
}

func (s *Server) estimateBatch(c *gin.Context) {
	var req batchEstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.ShipmentIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "shipment_ids is required"})
		return
	}
	start := time.Now()
	estimates, err := s.estimator.EstimateBatch(c.Request.Context(), req.ShipmentIDs, s.now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	metrics.EstimatesServed.Add(float64(len(estimates)))
	metrics.EstimateDuration.Observe(time.Since(start).Seconds())

	var missing []string
	for _, id := range req.ShipmentIDs {
		if _, ok := estimates[id]; !ok {
			missing = append(missing, id)
		}
	}
	c.JSON(http.StatusOK, gin.H{"estimates": estimates, "missing": missing})
}

func (s *Server) outcomeSummary(c *gin.Context) {
	summary, err := s.outcomes.OutcomeSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": summary})
}

func (s *Server) carrierPerformance(c *gin.Context) {
	stats, err := s.outcomes.CarrierPerformance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"carriers": stats})
}

func (s *Server) curveConfidence(c *gin.Context) {
	distribution, err := s.curves.ConfidenceDistribution(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"confidence": distribution})
}

func (s *Server) confidenceHeatmap(c *gin.Context) {
	cells, err := s.curves.ConfidenceHeatmap(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cells": cells})
}
