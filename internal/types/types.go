package types

import (
	"context"

	"github.com/xhad/studyroom/internal/models"
)

// Core interfaces
type Extractor interface {
	Extract(ctx context.Context, path string) ([]models.TextBlock, error)
}

type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

type Index interface {
	Add(ctx context.Context, documentID int, chunks []models.Chunk) error
	Query(ctx context.Context, documentID int, query string, k int) ([]models.SearchResult, error)
	Delete(ctx context.Context, documentID int) error
	Count(ctx context.Context, documentID int) (int, error)
	Close()
}

type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type Chunker interface {
	Process(documentID int, text string) ([]models.Chunk, error)
}
