// Package embeddings provides an HTTP client for the SBERT sidecar service
// that turns text into sentence embeddings.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the sbert-service sidecar.
type Client struct {
	baseURL string
	client  *http.Client
}

// HealthInfo is the sidecar's health report.
type HealthInfo struct {
	Status       string `json:"status"`
	Model        string `json:"model"`
	EmbeddingDim int    `json:"embedding_dim"`
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Embed returns the embedding vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	var vector []float64
	if err := c.post(ctx, "/embed", map[string]string{"text": text}, &vector); err != nil {
		return nil, err
	}
	return vector, nil
}

// EmbedBatch returns one embedding vector per input text, in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	var vectors [][]float64
	if err := c.post(ctx, "/batch-embed", map[string][]string{"texts": texts}, &vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Health reports the sidecar's model and readiness.
func (c *Client) Health(ctx context.Context) (HealthInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return HealthInfo{}, fmt.Errorf("create request: %w", err)
	}
	res, err := c.client.Do(req)
	if err != nil {
		return HealthInfo{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return HealthInfo{}, statusError(res)
	}
	var info HealthInfo
	if err := json.NewDecoder(res.Body).Decode(&info); err != nil {
		return HealthInfo{}, fmt.Errorf("decode health response: %w", err)
	}
	return info, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return statusError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return fmt.Errorf("sbert http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
}
