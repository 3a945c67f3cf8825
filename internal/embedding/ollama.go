package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nowtrending/nowtrending/internal/config"
)

var _ Provider = (*OllamaProvider)(nil)

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// OllamaProvider embeds text with a local Ollama server
type OllamaProvider struct {
	host       string
	model      string
	httpClient *http.Client
}

// NewOllamaProvider creates a new Ollama embedding provider
func NewOllamaProvider(cfg config.OllamaConfig) *OllamaProvider {
	return &OllamaProvider{
		host:  cfg.Host,
		model: cfg.EmbeddingModel,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

// Embed generates embeddings for the given text
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: p.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, providerError(p.Name(), fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, providerError(p.Name(), fmt.Errorf("status %d: %s", resp.StatusCode, string(bodyBytes)))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, providerError(p.Name(), fmt.Errorf("failed to decode response: %w", err))
	}
	if len(out.Embedding) == 0 {
		return nil, providerError(p.Name(), fmt.Errorf("empty embedding for model %s", p.model))
	}
	return out.Embedding, nil
}

// EmbedBatch embeds texts one request at a time, the endpoint takes a
// single prompt
func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := p.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}

// CheckHealth checks if Ollama is running and accessible
func (p *OllamaProvider) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return providerError(p.Name(), fmt.Errorf("not accessible at %s: %w", p.host, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providerError(p.Name(), fmt.Errorf("health check failed with status %d", resp.StatusCode))
	}
	return nil
}
