package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/xhad/studyroom/internal/types"
)

var ErrEmptyInput = errors.New("empty embedding input")

// EmbedderConfig represents the configuration for an embedding function.
type EmbedderConfig struct {
	Provider  string // "ollama", "fastembed" or "hash"
	Model     string
	BaseURL   string // Ollama server URL
	CacheDir  string // fastembed model cache
	Dimension int
}

// NewEmbedder builds the embedding function for the configured provider.
func NewEmbedder(config EmbedderConfig) (types.Embedder, error) {
	switch config.Provider {
	case "ollama", "":
		emb, err := NewOllamaEmbedder(config)
		if err != nil {
			return nil, err
		}
		return emb, nil
	case "fastembed":
		emb, err := NewFastEmbedProvider(FastEmbedConfig{Model: config.Model, CacheDir: config.CacheDir})
		if err != nil {
			return nil, err
		}
		return emb, nil
	case "hash":
		return NewHashEmbedder(config.Dimension), nil
	default:
		return nil, &ConfigurationError{Field: "embedder.provider", Message: fmt.Sprintf("unknown provider %q", config.Provider)}
	}
}

// OllamaEmbedder embeds text with an Ollama embedding model through langchaingo.
type OllamaEmbedder struct {
	config   EmbedderConfig
	embedder *embeddings.EmbedderImpl
}

func NewOllamaEmbedder(config EmbedderConfig) (*OllamaEmbedder, error) {
	if config.Model == "" {
		config.Model = "nomic-embed-text:latest"
	}
	if config.BaseURL == "" {
		return nil, &ConfigurationError{Field: "embedder.base_url", Message: "Ollama server URL is required"}
	}
	if config.Dimension <= 0 {
		return nil, &ConfigurationError{Field: "embedder.dimension", Message: "dimension must be positive"}
	}

	client, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding model: %w", err)
	}

	emb, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	return &OllamaEmbedder{
		config:   config,
		embedder: emb,
	}, nil
}

func (e *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	return vectors, nil
}

func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	return vector, nil
}

func (e *OllamaEmbedder) Dimension() int {
	return e.config.Dimension
}
