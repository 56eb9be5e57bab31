// Package vision talks to the external face detection service, which
// returns bounding boxes and 512-dimensional embeddings for an image.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jlahut/chirp/internal/config"
	"github.com/jlahut/chirp/internal/models"
	"github.com/jlahut/chirp/internal/observability"
)

// DetectedFace is one face reported by the detector.
type DetectedFace struct {
	Location  models.FaceLocation `json:"location"`
	Embedding []float32           `json:"embedding"`
}

type detectResponse struct {
	Faces []DetectedFace `json:"faces"`
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(cfg config.DetectorConfig) *Client {
	return &Client{
		baseURL: cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Detect submits raw image bytes and returns the faces found. An image
// with no faces yields an empty slice, not an error.
func (c *Client) Detect(ctx context.Context, image []byte, contentType string) ([]DetectedFace, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("build detect request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	defer func() {
		observability.DetectorDuration.Observe(time.Since(start).Seconds())
	}()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call detector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, body)
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}
	return out.Faces, nil
}

// Ping checks that the detector is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ping detector: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
