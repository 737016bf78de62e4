// Package httpapi provides the HTTP API for recalld.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/episodic"
	"github.com/fyrsmithlabs/recalld/internal/store"
)

// Server provides HTTP endpoints for recalld.
type Server struct {
	echo   *echo.Echo
	svc    *episodic.Service
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host          string
	Port          int
	EnableMetrics bool
}

// NewServer creates a new HTTP server over the engine.
func NewServer(svc *episodic.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("episodic service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host:          "localhost",
			Port:          9177,
			EnableMetrics: true,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		svc:    svc,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	if s.config.EnableMetrics {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	api := s.echo.Group("/api")
	api.POST("/experiences", s.handleRecordExperience)
	api.GET("/recall", s.handleRecall)
	api.GET("/lessons", s.handleGetLessons)
	api.POST("/lessons", s.handleLearnFromPattern)
	api.POST("/lessons/:id/apply", s.handleApplyLesson)
	api.POST("/lessons/:id/deprecate", s.handleDeprecateLesson)
	api.POST("/maintenance/cleanup", s.handleCleanup)
	api.GET("/stats", s.handleStats)
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleRecordExperience(c echo.Context) error {
	var req episodic.RecordRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid record request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.svc.RecordExperience(c.Request().Context(), &req)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

func (s *Server) handleRecall(c echo.Context) error {
	operationType := c.QueryParam("type")
	outcome := store.Outcome(c.QueryParam("outcome"))
	limit := queryInt(c, "limit", 20)

	ctx := c.Request().Context()
	var (
		result *episodic.RecallResult
		err    error
	)
	switch {
	case operationType != "":
		result, err = s.svc.RecallByType(ctx, operationType, outcome, limit)
	case outcome != "":
		result, err = s.svc.RecallByOutcome(ctx, outcome, "", limit)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "either 'type' or 'outcome' query parameter is required")
	}
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetLessons(c echo.Context) error {
	minConfidence, err := queryFloat(c, "min_confidence", 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "min_confidence must be a number")
	}

	// Context keys arrive as a comma-separated list and are matched loosely
	// against lesson statements and tags.
	var contextKeys map[string]any
	if raw := c.QueryParam("context"); raw != "" {
		contextKeys = make(map[string]any)
		for _, key := range strings.Split(raw, ",") {
			if key = strings.TrimSpace(key); key != "" {
				contextKeys[key] = true
			}
		}
	}

	report, err := s.svc.Lessons(c.Request().Context(), contextKeys, c.QueryParam("operation_type"), minConfidence)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleLearnFromPattern(c echo.Context) error {
	var req episodic.LearnRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid learn request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.svc.LearnFromPattern(c.Request().Context(), &req)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusCreated, result)
}

// ApplyRequest is the request body for POST /api/lessons/:id/apply.
type ApplyRequest struct {
	Outcome store.Outcome `json:"outcome"`
}

func (s *Server) handleApplyLesson(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "lesson id must be an integer")
	}

	var req ApplyRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid apply request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.svc.ApplyLesson(c.Request().Context(), id, req.Outcome)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleDeprecateLesson(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "lesson id must be an integer")
	}

	if err := s.svc.DeprecateLesson(c.Request().Context(), id); err != nil {
		return s.engineError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CleanupRequest is the request body for POST /api/maintenance/cleanup.
type CleanupRequest struct {
	RetentionDays int `json:"retention_days"`
}

func (s *Server) handleCleanup(c echo.Context) error {
	var req CleanupRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid cleanup request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.svc.Cleanup(c.Request().Context(), req.RetentionDays)
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.svc.ReadStats(c.Request().Context())
	if err != nil {
		return s.engineError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// engineError maps engine errors onto HTTP status codes: validation to 400,
// missing rows to 404, insufficient evidence to 422, everything else to 500.
func (s *Server) engineError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, episodic.ErrEmptyOperationType),
		errors.Is(err, episodic.ErrEmptyStatement),
		errors.Is(err, episodic.ErrInvalidOutcome):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, episodic.ErrNotFound), errors.Is(err, store.ErrRowNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, episodic.ErrInsufficientEvidence):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func queryFloat(c echo.Context, name string, fallback float64) (float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(raw, 64)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
