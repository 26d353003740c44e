// Package inference talks to multi2vec-clip style inference containers, the
// same ones the vector database calls when it vectorizes server-side.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "clip-arena/internal/errors"
)

const (
	vectorizePath = "/vectorize"
	readyPath     = "/.well-known/ready"
)

type vectorizeRequest struct {
	Texts  []string `json:"texts"`
	Images []string `json:"images"`
}

type vectorizeResponse struct {
	TextVectors  [][]float32 `json:"textVectors"`
	ImageVectors [][]float32 `json:"imageVectors"`
}

// Client is an HTTP client for a single inference endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the endpoint at baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the endpoint this client talks to
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ready reports whether the inference container is ready to serve
func (c *Client) Ready(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+readyPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewNetworkError("inference endpoint unreachable", err).WithContext("url", c.baseURL)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return apperrors.NewNetworkError(
			fmt.Sprintf("inference endpoint not ready: %s", resp.Status), nil).WithContext("url", c.baseURL)
	}
	return nil
}

// VectorizeImages embeds base64-encoded images, one vector per image in input order
func (c *Client) VectorizeImages(ctx context.Context, images []string) ([][]float32, error) {
	if len(images) == 0 {
		return nil, nil
	}
	resp, err := c.vectorize(ctx, vectorizeRequest{Texts: []string{}, Images: images})
	if err != nil {
		return nil, err
	}
	if len(resp.ImageVectors) != len(images) {
		return nil, fmt.Errorf("inference endpoint %s returned %d image vectors for %d images",
			c.baseURL, len(resp.ImageVectors), len(images))
	}
	return resp.ImageVectors, nil
}

// VectorizeText embeds a single text query
func (c *Client) VectorizeText(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.vectorize(ctx, vectorizeRequest{Texts: []string{text}, Images: []string{}})
	if err != nil {
		return nil, err
	}
	if len(resp.TextVectors) != 1 {
		return nil, fmt.Errorf("inference endpoint %s returned %d text vectors, want 1",
			c.baseURL, len(resp.TextVectors))
	}
	return resp.TextVectors[0], nil
}

// Dimensions probes the embedding dimension by vectorizing a short text
func (c *Client) Dimensions(ctx context.Context) (int, error) {
	vec, err := c.VectorizeText(ctx, "dimension probe")
	if err != nil {
		return 0, err
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("inference endpoint %s returned an empty vector", c.baseURL)
	}
	return len(vec), nil
}

func (c *Client) vectorize(ctx context.Context, body vectorizeRequest) (*vectorizeResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+vectorizePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkError("vectorize request failed", err).WithContext("url", c.baseURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("vectorize failed with status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var out vectorizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode vectorize response: %w", err)
	}
	return &out, nil
}
