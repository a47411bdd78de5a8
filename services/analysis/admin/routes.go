// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package admin exposes the orchestrator over HTTP for operators: health,
// statistics, the pipeline catalog, cache clearing, metrics, and a
// synchronous process endpoint.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/mosaic/services/analysis/datatypes"
	"github.com/AleutianAI/mosaic/services/analysis/orchestrator"
	"github.com/AleutianAI/mosaic/services/analysis/pipelines"
)

// Service is the part of the orchestrator the admin routes use.
type Service interface {
	Process(ctx context.Context, req datatypes.Request) ([]datatypes.Result, error)
	GetStats() orchestrator.Stats
	ClearCache(ctx context.Context) error
	Pipelines() []pipelines.Pipeline
}

var _ Service = (*orchestrator.Orchestrator)(nil)

// ProcessResponse is the body of a successful POST /v1/process.
type ProcessResponse struct {
	RequestID string             `json:"request_id"`
	Results   []datatypes.Result `json:"results"`
	Duration  string             `json:"duration"`
}

// NewRouter creates the admin gin engine.
//
// Description:
//
//	Registers every admin route on a new engine with recovery and
//	otelgin tracing middleware:
//
//	  GET    /healthz
//	  GET    /metrics
//	  GET    /v1/stats
//	  GET    /v1/pipelines
//	  DELETE /v1/cache
//	  POST   /v1/process
//
// Inputs:
//
//	svc - The orchestrator.
//	metrics - Handler for /metrics. nil serves the default Prometheus registry.
//	logger - Request logger. nil uses slog.Default().
//
// Outputs:
//
//	*gin.Engine - Ready to serve.
func NewRouter(svc Service, metrics http.Handler, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("mosaic-admin"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics))

	v1 := router.Group("/v1")
	{
		v1.GET("/stats", handleStats(svc))
		v1.GET("/pipelines", handlePipelines(svc))
		v1.DELETE("/cache", handleClearCache(svc, logger))
		v1.POST("/process", handleProcess(svc, logger))
	}
	return router
}

func handleStats(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.GetStats())
	}
}

func handlePipelines(svc Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pipelines": svc.Pipelines()})
	}
}

func handleClearCache(svc Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.ClearCache(c.Request.Context()); err != nil {
			logger.Error("cache clear failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear cache"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func handleProcess(svc Service, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.ID == "" {
			req.ID = uuid.NewString()
		}

		start := time.Now()
		results, err := svc.Process(c.Request.Context(), req)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				logger.Warn("process request failed",
					slog.String("request_id", req.ID),
					slog.Int("status", status),
					slog.String("error", err.Error()))
			}
			c.JSON(status, gin.H{"request_id": req.ID, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ProcessResponse{
			RequestID: req.ID,
			Results:   results,
			Duration:  time.Since(start).String(),
		})
	}
}

// statusFor maps a Process error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, datatypes.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, datatypes.ErrCycleDetected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, datatypes.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
