package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"imgproxy/config"
	"imgproxy/internal/core"
	"imgproxy/internal/pipeline"
)

// Handler holds the HTTP handlers
type Handler struct {
	store core.ObjectStore
	pipe  *pipeline.Pipeline
	cfg   *config.Config
	log   *slog.Logger
}

// NewHandler creates a new handler over the wired capabilities
func NewHandler(store core.ObjectStore, pipe *pipeline.Pipeline, cfg *config.Config, log *slog.Logger) *Handler {
	return &Handler{store: store, pipe: pipe, cfg: cfg, log: log}
}

// Index handles GET / with a liveness and connectivity summary
func (h *Handler) Index(c echo.Context) error {
	connected := h.store.Connected()
	message := "OK"
	if !connected {
		message = "object store connection not initialized"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":            "running",
		"storage_connected": connected,
		"message":           message,
		"endpoints": map[string]string{
			"image_proxy": "/img/<bucket>/<object_name>",
			"upload":      "/upload (POST)",
			"health":      "/health",
			"test":        "/test",
		},
	})
}

// Health handles GET /health. Connectivity is fixed at startup, so repeated
// probes answer identically until the process restarts.
func (h *Handler) Health(c echo.Context) error {
	if !h.store.Connected() {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status":             "unhealthy",
			"storage_connection": "object store connection not initialized",
			"timestamp":          time.Now().Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"storage_connection": "OK",
		"timestamp":          time.Now().Format(time.RFC3339),
	})
}

// ServeImage handles GET /img/:bucket/* and streams the object back with
// cache headers. The wildcard segment is the object key and may itself
// contain slashes.
func (h *Handler) ServeImage(c echo.Context) error {
	bucket := c.Param("bucket")
	key := c.Param("*")
	if key == "" {
		proxyServes.WithLabelValues("not_found").Inc()
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "image not found"})
	}

	if !h.store.Connected() {
		h.log.Error("image fetch refused, object store not connected")
		proxyServes.WithLabelValues("error").Inc()
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": "object store connection error"})
	}

	data, contentType, err := h.store.Get(c.Request().Context(), bucket, key)
	if err != nil {
		h.log.Warn("image fetch failed", "bucket", bucket, "key", key, "error", err)
		proxyServes.WithLabelValues(outcomeLabel(err)).Inc()
		return h.handleError(c, err)
	}

	basename := key
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		basename = key[i+1:]
	}

	c.Response().Header().Set("Cache-Control", "max-age=3600")
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", basename))

	proxyServes.WithLabelValues("success").Inc()
	return c.Blob(http.StatusOK, contentType, data)
}

// Upload handles POST /upload: multipart form with a required "file" part and
// optional "bucket" and "folder" fields.
func (h *Handler) Upload(c echo.Context) error {
	if !h.store.Connected() {
		h.log.Error("upload refused, object store not connected")
		uploads.WithLabelValues("error").Inc()
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": "object store connection error"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		uploads.WithLabelValues("validation_error").Inc()
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "no file provided"})
	}

	src, err := fileHeader.Open()
	if err != nil {
		uploads.WithLabelValues("error").Inc()
		return h.handleError(c, core.NewValidationError("file part is unreadable"))
	}
	defer src.Close() //nolint:errcheck

	data, err := io.ReadAll(src)
	if err != nil {
		uploads.WithLabelValues("error").Inc()
		return h.handleError(c, core.NewBackendError("reading upload failed", err))
	}

	res, err := h.pipe.Run(c.Request().Context(), core.UploadInput{
		Filename:    fileHeader.Filename,
		Data:        data,
		ContentType: fileHeader.Header.Get(echo.HeaderContentType),
		Bucket:      c.FormValue("bucket"),
		Folder:      c.FormValue("folder"),
	})
	if err != nil {
		uploads.WithLabelValues(outcomeLabel(err)).Inc()
		return h.handleError(c, err)
	}

	if res.VectorComputed {
		uploads.WithLabelValues("success").Inc()
	} else {
		uploads.WithLabelValues("degraded").Inc()
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "upload complete",
		"data": map[string]interface{}{
			"object_name":     res.ObjectName,
			"bucket":          res.Bucket,
			"proxy_url":       res.ProxyURL,
			"file_size":       res.FileSize,
			"content_type":    res.ContentType,
			"uploaded_at":     res.UploadedAt.Format(time.RFC3339),
			"embedding_saved": res.VectorComputed,
		},
	})
}

// handleError converts gateway errors to JSON responses, hiding internals
// unless debug mode is on.
func (h *Handler) handleError(c echo.Context, err error) error {
	var gw *core.GatewayError
	if errors.As(err, &gw) {
		return c.JSON(gw.HTTPStatusCode(), gw.ToJSON(h.cfg.Server.Debug))
	}
	return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": "internal server error"})
}

// outcomeLabel maps an error to a metric label.
func outcomeLabel(err error) string {
	var gw *core.GatewayError
	if !errors.As(err, &gw) {
		return "error"
	}
	switch gw.Kind {
	case core.ErrorKindValidation:
		return "validation_error"
	case core.ErrorKindNotFound:
		return "not_found"
	default:
		return "error"
	}
}
