// Package server provides HTTP routing, handlers and middleware for the image
// gateway.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"imgproxy/config"
	"imgproxy/internal/core"
	"imgproxy/internal/pipeline"
	"imgproxy/internal/ratelimit"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New creates the HTTP server over the wired capabilities. The rate limiter
// factory decides whether counters live in-process or in redis.
func New(store core.ObjectStore, pipe *pipeline.Pipeline, limits *ratelimit.Factory, cfg *config.Config, log *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(store, pipe, cfg, log)

	e.HTTPErrorHandler = errorHandler(log)

	// Global middleware stack (order matters)
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORS.Origins,
		AllowMethods: cfg.CORS.Methods,
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))
	e.Use(middleware.BodyLimit(strconv.FormatInt(cfg.Upload.MaxSize, 10)))
	e.Use(SecurityHeaders(SecurityConfig{
		ForceHTTPS: cfg.Server.ForceHTTPS,
		NoncePaths: []string{"/test"},
	}))

	// Routes with dedicated budgets carry their own limiter; everything else
	// shares the default budget.
	e.Use(rateLimiter(limits.Store("default", cfg.RateLimit.Default), func(c echo.Context) bool {
		p := c.Path()
		return p == "/upload" || strings.HasPrefix(p, "/img/") ||
			(cfg.Metrics.Enabled && p == metricsPath(cfg))
	}))

	e.GET("/", handler.Index)
	e.GET("/health", handler.Health)
	e.GET("/test", handler.TestPage)
	e.GET("/img/:bucket/*", handler.ServeImage,
		rateLimiter(limits.Store("image", cfg.RateLimit.Image), nil))
	e.POST("/upload", handler.Upload,
		rateLimiter(limits.Store("upload", cfg.RateLimit.Upload), nil))

	if cfg.Metrics.Enabled {
		e.GET(metricsPath(cfg), echo.WrapHandler(promhttp.Handler()))
	}

	return &Server{
		echo:    e,
		handler: handler,
	}
}

func metricsPath(cfg *config.Config) string {
	if cfg.Metrics.Endpoint == "" {
		return "/metrics"
	}
	return path.Clean(cfg.Metrics.Endpoint)
}

// rateLimiter builds a per-client limiter over the given store. Denials are
// JSON like every other error body.
func rateLimiter(store middleware.RateLimiterStore, skipper middleware.Skipper) echo.MiddlewareFunc {
	cfg := middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
				"error": "rate limit exceeded",
			})
		},
	}
	if skipper != nil {
		cfg.Skipper = skipper
	}
	return middleware.RateLimiterWithConfig(cfg)
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogMethod: true,
		LogURI:    true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			log.Info("request", attrs...)
			return nil
		},
	})
}

// errorHandler renders framework-level errors (404 routes, 413 body limit,
// panics recovered to 500) in the gateway's JSON error shape.
func errorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		message := "internal server error"

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
			switch status {
			case http.StatusNotFound:
				message = "endpoint not found"
			case http.StatusRequestEntityTooLarge:
				message = "file too large"
			default:
				if s, ok := httpErr.Message.(string); ok {
					message = s
				}
			}
		}

		if status >= http.StatusInternalServerError {
			log.Error("request failed", "status", status, "error", err)
		}

		if jerr := c.JSON(status, map[string]interface{}{"error": message}); jerr != nil {
			log.Error("writing error response failed", "error", jerr)
		}
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
