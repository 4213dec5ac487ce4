// Package embedclient provides a minimal ptypes.Embedder that calls an
// external HTTP embeddings endpoint (e.g. an OpenAI-compatible
// /v1/embeddings route). Embedding producers are explicitly out of this
// system's scope (spec.md's Non-goals: "embeddings as an async function
// from text to a fixed-dimensional vector") — this client exists only
// so cmd/ptolemies-server can exercise pkg/store/pgstore against a real
// endpoint when one is configured. No library in the example pack fits
// this concern: the teacher's own Bedrock client
// (pkg/embedding/expansion/bedrock_llm_client.go) depends on
// aws-sdk-go-v2, which is not a dependency of this module (see
// DESIGN.md), so this client is deliberately built on net/http.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/developer-mesh/ptolemies/pkg/ptypes"
)

var _ ptypes.Embedder = (*Client)(nil)

// Client calls an HTTP endpoint that accepts {"model","input"} and
// returns {"data":[{"embedding":[...]}]}, the shape shared by OpenAI and
// most OpenAI-compatible embedding servers.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

func New(endpoint, apiKey, model string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedclient: unexpected status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embedclient: decode response: %w", err)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("embedclient: empty embedding response")
	}
	return out.Data[0].Embedding, nil
}
