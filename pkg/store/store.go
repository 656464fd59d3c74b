// Package store holds the document-scoped vector index backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/xhad/studyroom/internal/models"
	"github.com/xhad/studyroom/internal/types"
	"go.uber.org/zap"
)

const (
	BackendChromem  = "chromem"
	BackendPGVector = "pgvector"
	BackendQdrant   = "qdrant"

	metaDocumentID = "document_id"
	metaOrdinal    = "ordinal"
)

var (
	ErrUnknownBackend   = errors.New("unknown index backend")
	ErrNilEmbedder      = errors.New("embedder is required")
	ErrVectorDimensions = errors.New("embedding dimension mismatch")
)

// Config selects and configures an index backend.
type Config struct {
	Backend    string
	Path       string // chromem persistence directory
	Compress   bool
	Collection string // chromem and qdrant collection name
	URL        string // postgres connection string or qdrant address
	APIKey     string
	TableName  string
	VectorDim  int
	BatchSize  int
}

// New opens the configured backend. Every backend embeds with the same
// embedder on Add and Query.
func New(ctx context.Context, config Config, embedder types.Embedder, logger *zap.Logger) (types.Index, error) {
	switch config.Backend {
	case BackendChromem, "":
		return NewChromemStore(ChromemConfig{
			Path:       config.Path,
			Compress:   config.Compress,
			Collection: config.Collection,
			BatchSize:  config.BatchSize,
		}, embedder, logger)
	case BackendPGVector:
		return NewWithConfig(ctx, VectorStoreConfig{
			ConnString: config.URL,
			TableName:  config.TableName,
			VectorDim:  config.VectorDim,
			BatchSize:  config.BatchSize,
		}, embedder, logger)
	case BackendQdrant:
		return NewQdrantStore(ctx, QdrantConfig{
			URL:        config.URL,
			APIKey:     config.APIKey,
			Collection: config.Collection,
			VectorDim:  config.VectorDim,
			BatchSize:  config.BatchSize,
		}, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, config.Backend)
	}
}

// embedChunks embeds chunk texts in batches and checks every vector has the
// expected dimension. A dim of 0 skips the check.
func embedChunks(ctx context.Context, embedder types.Embedder, chunks []models.Chunk, batchSize, dim int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, sanitizeUTF8(c.Text))
		}

		batch, err := embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to create embeddings: %w", err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), len(texts))
		}
		for _, v := range batch {
			if dim > 0 && len(v) != dim {
				return nil, fmt.Errorf("%w: got %d, want %d", ErrVectorDimensions, len(v), dim)
			}
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func documentKey(documentID int) string {
	return strconv.Itoa(documentID)
}

// sanitizeUTF8 drops invalid bytes so the text is storable.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
