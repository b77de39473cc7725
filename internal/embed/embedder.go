// Package embed derives fixed-dimension vectors for transcripts via an
// Ollama-compatible embeddings endpoint.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	defaultModel   = "all-minilm"
	requestTimeout = 10 * time.Second

	// DefaultDimensions matches the MiniLM-family sentence embedding size
	// the embeddings collection was built around.
	DefaultDimensions = 384
)

// ErrDimensionMismatch marks a vector of the wrong length. A malformed
// vector must never be stored silently.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Embedder generates embeddings for transcript text.
type Embedder struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

// NewEmbedder creates an Embedder. Model falls back to the default when
// empty; dimensions to DefaultDimensions when non-positive.
func NewEmbedder(baseURL, model string, dimensions int) *Embedder {
	if model == "" {
		model = defaultModel
	}
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding vector for text, verifying the configured
// dimension.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("embed: empty embeddings array")
	}

	vec := result.Embeddings[0]
	if len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), e.dimensions)
	}
	return vec, nil
}
