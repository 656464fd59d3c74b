package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/xhad/studyroom/internal/models"
	"github.com/xhad/studyroom/internal/types"
	"go.uber.org/zap"
)

// ChromemConfig configures the embedded, file-persisted index.
type ChromemConfig struct {
	Path       string
	Compress   bool
	Collection string
	BatchSize  int
}

// ChromemStore keeps chunks in a chromem-go collection persisted under
// Path. mu spans the collection count read and the query that depends on
// it, so a concurrent Delete cannot shrink the collection in between.
type ChromemStore struct {
	mu         sync.RWMutex
	config     ChromemConfig
	db         *chromem.DB
	collection *chromem.Collection
	embedder   types.Embedder
	logger     *zap.Logger
}

func NewChromemStore(config ChromemConfig, embedder types.Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, ErrNilEmbedder
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Path == "" {
		config.Path = "chroma_db"
	}
	if config.Collection == "" {
		config.Collection = "study_chunks"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	s := &ChromemStore{
		config:   config,
		db:       db,
		embedder: embedder,
		logger:   logger.Named("chromem"),
	}
	s.collection, err = db.GetOrCreateCollection(config.Collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", config.Collection, err)
	}

	s.logger.Info("index opened",
		zap.String("path", path),
		zap.String("collection", config.Collection),
		zap.Int("entries", s.collection.Count()),
	)
	return s, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc is only used if chromem has to embed on its own; Add and
// Query always pass precomputed vectors.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) Add(ctx context.Context, documentID int, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	vectors, err := embedChunks(ctx, s.embedder, chunks, s.config.BatchSize, 0)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:      c.ID,
			Content: sanitizeUTF8(c.Text),
			Metadata: map[string]string{
				metaDocumentID: documentKey(documentID),
				metaOrdinal:    strconv.Itoa(c.Ordinal),
			},
			Embedding: vectors[i],
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// vectors are precomputed, one goroutine is enough
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding chunks: %w", err)
	}

	s.logger.Debug("chunks added",
		zap.Int("document_id", documentID),
		zap.Int("count", len(docs)),
	)
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, documentID int, query string, k int) ([]models.SearchResult, error) {
	if k <= 0 || strings.TrimSpace(query) == "" {
		return []models.SearchResult{}, nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// chromem rejects nResults above the collection size
	total := s.collection.Count()
	if total == 0 {
		return []models.SearchResult{}, nil
	}
	k = min(k, total)

	where := map[string]string{metaDocumentID: documentKey(documentID)}
	found, err := s.collection.QueryEmbedding(ctx, vector, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	results := make([]models.SearchResult, 0, len(found))
	for _, r := range found {
		// the where filter already scopes by document; recheck before returning
		if r.Metadata[metaDocumentID] != documentKey(documentID) {
			continue
		}
		ordinal, _ := strconv.Atoi(r.Metadata[metaOrdinal])
		results = append(results, models.SearchResult{
			Chunk: models.Chunk{
				ID:         r.ID,
				DocumentID: documentID,
				Ordinal:    ordinal,
				Text:       r.Content,
			},
			Score: r.Similarity,
		})
	}
	return results, nil
}

func (s *ChromemStore) Delete(ctx context.Context, documentID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collection.Count() == 0 {
		return nil
	}
	where := map[string]string{metaDocumentID: documentKey(documentID)}
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("deleting chunks of document %d: %w", documentID, err)
	}
	return nil
}

// Count probes the collection with a unit vector; chromem has no filtered
// count.
func (s *ChromemStore) Count(ctx context.Context, documentID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := s.collection.Count()
	if total == 0 {
		return 0, nil
	}

	probe := make([]float32, s.embedder.Dimension())
	if len(probe) == 0 {
		return 0, fmt.Errorf("%w: embedder reports no dimension", ErrVectorDimensions)
	}
	probe[0] = 1

	where := map[string]string{metaDocumentID: documentKey(documentID)}
	found, err := s.collection.QueryEmbedding(ctx, probe, total, where, nil)
	if err != nil {
		return 0, fmt.Errorf("counting chunks of document %d: %w", documentID, err)
	}
	return len(found), nil
}

// Close is a no-op: the persistent DB writes through on every change.
func (s *ChromemStore) Close() {}
