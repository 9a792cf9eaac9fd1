// Package objectstore wraps the object storage backend behind the
// core.ObjectStore capability. Connectivity is resolved once at startup; a
// failed probe leaves the client in a disconnected state where every operation
// returns a typed connection error. There is no reconnect loop, a process
// restart is the recovery mechanism.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"imgproxy/config"
	"imgproxy/internal/core"
)

const probeTimeout = 10 * time.Second

// fallbackContentType is served when the backend did not record one.
const fallbackContentType = "image/jpeg"

// Client is a connectivity-checked object store client. The connected flag is
// written once during New and only read afterwards, so the client is safe for
// concurrent use by all request workers.
type Client struct {
	mc        *minio.Client
	connected bool
	log       *slog.Logger
}

// New builds the store client and probes the backend with the configured
// default bucket. Backend failures are not returned: they are logged and the
// client starts disconnected, matching the gateway's fail-soft startup.
func New(cfg config.StorageConfig, log *slog.Logger) *Client {
	c := &Client{log: log}

	if cfg.Endpoint == "" {
		log.Warn("object store endpoint not configured, starting disconnected")
		return c
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		log.Error("object store client init failed", "error", err, "endpoint", cfg.Endpoint)
		return c
	}
	c.mc = mc

	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		log.Error("object store probe failed", "error", err, "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
		return c
	}
	if !exists {
		log.Warn("default bucket does not exist", "bucket", cfg.Bucket)
	}

	c.connected = true
	log.Info("object store connected", "endpoint", cfg.Endpoint, "region", cfg.Region, "bucket", cfg.Bucket)
	return c
}

// Connected reports whether the startup probe succeeded.
func (c *Client) Connected() bool {
	return c.connected
}

// Get fetches an object and its stored content type.
func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, string, error) {
	if !c.connected {
		return nil, "", core.NewConnectionError("object store not initialized", nil)
	}

	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", mapBackendError("get object failed", err)
	}
	defer func() {
		if cerr := obj.Close(); cerr != nil {
			c.log.Warn("closing object reader failed", "error", cerr, "bucket", bucket, "key", key)
		}
	}()

	// GetObject is lazy; Stat performs the request and surfaces NotFound.
	info, err := obj.Stat()
	if err != nil {
		return nil, "", mapBackendError("stat object failed", err)
	}

	data := make([]byte, info.Size)
	if _, err := io.ReadFull(obj, data); err != nil {
		return nil, "", mapBackendError("read object failed", err)
	}

	contentType := info.ContentType
	if contentType == "" {
		contentType = fallbackContentType
	}
	return data, contentType, nil
}

// Put writes an object under the given key. No retries are performed at this
// layer.
func (c *Client) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if !c.connected {
		return core.NewConnectionError("object store not initialized", nil)
	}

	_, err := c.mc.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return mapBackendError("put object failed", err)
	}
	return nil
}

// mapBackendError distinguishes a backend 404 from any other fault.
func mapBackendError(msg string, err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.StatusCode == http.StatusNotFound {
		return core.NewNotFoundError("image not found")
	}
	return core.NewBackendError(msg, err)
}

var _ core.ObjectStore = (*Client)(nil)
