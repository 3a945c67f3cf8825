// Package embedding turns topic text into vectors through an external
// provider and writes them back to the trends document.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/nowtrending/nowtrending/internal/config"
)

// ErrProvider wraps every failure reported by an embedding provider
var ErrProvider = errors.New("embedding provider error")

// Provider is the interface for embedding providers
type Provider interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// CheckHealth checks if the provider is reachable
	CheckHealth(ctx context.Context) error

	// Name returns the provider name
	Name() string
}

// NewProvider creates an embedding provider based on configuration
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Embedding.Provider {
	case "openai", "":
		return NewOpenAIProvider(cfg.Embedding)
	case "ollama":
		return NewOllamaProvider(cfg.Ollama), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
	}
}

func providerError(name string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrProvider, name, err)
}
