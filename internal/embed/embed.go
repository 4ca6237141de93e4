// Package embed wraps the external embedding collaborator.
//
// Embedding generation is out of process; a Provider failure never fails a
// ledger write. Pending candidates are embedded in the background and the
// resulting vectors land in the vector store keyed by fragment.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tesela-labs/tesela/internal/apperr"
)

// Provider produces embeddings for a batch of texts. Implementations must
// return one vector per input, in order.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// HTTPConfig configures the HTTP provider.
type HTTPConfig struct {
	URL     string // base URL of the embedder service
	Model   string
	APIKey  string
	Timeout time.Duration
}

// HTTPProvider calls an embedder service over HTTP.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider builds the HTTP provider.
func NewHTTPProvider(cfg HTTPConfig) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured model name.
func (p *HTTPProvider) Model() string { return p.cfg.Model }

type embedRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed posts the batch to the embedder and returns one vector per text.
func (p *HTTPProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.Dependency(err, "embedder")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperr.Dependency(fmt.Errorf("embedder returned %d: %s", resp.StatusCode, msg), "embedder")
	}
	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Dependency(fmt.Errorf("failed to decode embed response: %w", err), "embedder")
	}
	if len(out.Embeddings) != len(texts) {
		return nil, apperr.Dependency(
			fmt.Errorf("embedder returned %d vectors for %d inputs", len(out.Embeddings), len(texts)), "embedder")
	}
	return out.Embeddings, nil
}
