// Package embedding provides the HTTP client for the image embedding inference
// capability. Images are submitted as base64 data URIs in a single-element
// batch; the service answers with fixed-length float32 vectors.
package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"imgproxy/config"
	"imgproxy/internal/core"
)

// Inference latency can be large relative to ordinary HTTP latency, so the
// client carries its own timeout budget independent of the server's.
const (
	dialTimeout     = 10 * time.Second
	readTimeout     = 240 * time.Second
	requestTimeout  = 250 * time.Second
	embedActionPath = "/20231130/actions/embedText"
)

// Client calls the embedding inference service.
type Client struct {
	cfg        config.InferenceConfig
	httpClient *http.Client
	baseURL    string
}

// New creates an embedding client from the inference configuration. The base
// URL is the configured endpoint, or derived from the region when only that is
// set. A client with neither is still returned; Embed reports the missing
// configuration as an error.
func New(cfg config.InferenceConfig) *Client {
	baseURL := cfg.Endpoint
	if baseURL == "" && cfg.Region != "" {
		baseURL = fmt.Sprintf("https://inference.generativeai.%s.oci.oraclecloud.com", cfg.Region)
	}

	return &Client{
		cfg:     cfg,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   dialTimeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   dialTimeout,
				ResponseHeaderTimeout: readTimeout,
				MaxIdleConnsPerHost:   4,
			},
		},
	}
}

type servingMode struct {
	ServingType string `json:"serving_type"`
	ModelID     string `json:"model_id"`
}

type embedRequest struct {
	ServingMode   servingMode `json:"serving_mode"`
	CompartmentID string      `json:"compartment_id"`
	InputType     string      `json:"input_type"`
	Truncate      string      `json:"truncate"`
	Inputs        []string    `json:"inputs"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed converts raw image bytes into an embedding vector. The image travels
// as a data URI in a single-element IMAGE batch with truncation disabled; the
// first returned vector is the result. Every fault, including missing
// configuration and an empty result batch, surfaces as an embed error.
func (c *Client) Embed(ctx context.Context, data []byte, contentType string) ([]float32, error) {
	if c.baseURL == "" {
		return nil, core.NewEmbedError("inference endpoint not configured", nil)
	}
	if c.cfg.Model == "" || c.cfg.CompartmentID == "" {
		return nil, core.NewEmbedError("inference model or compartment not configured", nil)
	}

	dataURI := fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(data))

	body, err := json.Marshal(embedRequest{
		ServingMode:   servingMode{ServingType: "ON_DEMAND", ModelID: c.cfg.Model},
		CompartmentID: c.cfg.CompartmentID,
		InputType:     "IMAGE",
		Truncate:      "NONE",
		Inputs:        []string{dataURI},
	})
	if err != nil {
		return nil, core.NewEmbedError("encoding embed request failed", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+embedActionPath, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewEmbedError("building embed request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, core.NewEmbedError("inference request failed", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, core.NewEmbedError(
			fmt.Sprintf("inference service returned status %d", resp.StatusCode),
			fmt.Errorf("%s", snippet),
		)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, core.NewEmbedError("decoding embed response failed", err)
	}
	if len(out.Embeddings) == 0 || len(out.Embeddings[0]) == 0 {
		return nil, core.NewEmbedError("inference service returned an empty batch", nil)
	}

	return out.Embeddings[0], nil
}

var _ core.Embedder = (*Client)(nil)
