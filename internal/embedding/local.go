package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// LocalProvider implements Provider against an Ollama-compatible embeddings
// endpoint, one text per request.
type LocalProvider struct {
	endpoint string
	model    string
	client   *http.Client

	configured int
	mu         sync.Mutex
	observed   int
}

// NewLocalProvider creates a LocalProvider from the given Config.
func NewLocalProvider(cfg Config) *LocalProvider {
	return &LocalProvider{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		configured: cfg.Dimension,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

type localEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests one vector per text sequentially.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := p.embedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}

	if len(vectors[0]) > 0 {
		p.mu.Lock()
		if p.observed == 0 {
			p.observed = len(vectors[0])
		}
		p.mu.Unlock()
	}
	return vectors, nil
}

func (p *LocalProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(localEmbedRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result localEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embedding: decode response: %w", err)
	}
	return result.Embedding, nil
}

// Dimension returns the dimension observed from the first result, falling
// back to the configured value before any call succeeds.
func (p *LocalProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.observed > 0 {
		return p.observed
	}
	return p.configured
}
