package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"github.com/xhad/studyroom/internal/models"
	"github.com/xhad/studyroom/internal/types"
	"go.uber.org/zap"
)

const defaultQdrantPort = 6334

// QdrantConfig configures the Qdrant backend. URL is host:port or a URL
// such as http://localhost:6334 pointing at the gRPC port.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	VectorDim  int
	BatchSize  int
}

// QdrantStore keeps chunks as Qdrant points with the document id in the
// payload.
type QdrantStore struct {
	config   QdrantConfig
	client   *qdrant.Client
	embedder types.Embedder
	logger   *zap.Logger
}

func NewQdrantStore(ctx context.Context, config QdrantConfig, embedder types.Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, ErrNilEmbedder
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Collection == "" {
		config.Collection = "study_chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = embedder.Dimension()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	host, port, useTLS, err := parseQdrantURL(config.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: config.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	s := &QdrantStore{
		config:   config,
		client:   client,
		embedder: embedder,
		logger:   logger.Named("qdrant"),
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func parseQdrantURL(raw string) (string, int, bool, error) {
	if raw == "" {
		return "", 0, false, fmt.Errorf("qdrant url is required")
	}
	u := &url.URL{Host: raw}
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid qdrant url %q: %w", raw, err)
		}
		if parsed.Host == "" {
			return "", 0, false, fmt.Errorf("invalid qdrant url %q: missing host", raw)
		}
		u = parsed
	}

	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) && addrErr.Err == "missing port in address" {
			return u.Host, defaultQdrantPort, u.Scheme == "https", nil
		}
		return "", 0, false, fmt.Errorf("invalid qdrant address %q: %w", u.Host, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid qdrant port %q", portStr)
	}
	return host, port, u.Scheme == "https", nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorDim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.config.Collection,
		FieldName:      metaDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
	})
	if err != nil {
		return fmt.Errorf("indexing %s: %w", metaDocumentID, err)
	}

	s.logger.Info("collection created",
		zap.String("collection", s.config.Collection),
		zap.Int("vector_dim", s.config.VectorDim),
	)
	return nil
}

func documentFilter(documentID int) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatchInt(metaDocumentID, int64(documentID)),
		},
	}
}

func (s *QdrantStore) Add(ctx context.Context, documentID int, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	vectors, err := embedChunks(ctx, s.embedder, chunks, s.config.BatchSize, s.config.VectorDim)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &qdrant.PointStruct{
			// chunk ids are UUIDs, which Qdrant accepts as point ids
			Id:      qdrant.NewIDUUID(c.ID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: map[string]*qdrant.Value{
				metaDocumentID: {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(documentID)}},
				metaOrdinal:    {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.Ordinal)}},
				"text":         {Kind: &qdrant.Value_StringValue{StringValue: sanitizeUTF8(c.Text)}},
			},
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upserting points to collection %s: %w", s.config.Collection, err)
	}

	s.logger.Debug("chunks added",
		zap.Int("document_id", documentID),
		zap.Int("count", len(points)),
	)
	return nil
}

func (s *QdrantStore) Query(ctx context.Context, documentID int, query string, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		return []models.SearchResult{}, nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         documentFilter(documentID),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	results := make([]models.SearchResult, 0, len(points))
	for _, p := range points {
		if p.GetPayload()[metaDocumentID].GetIntegerValue() != int64(documentID) {
			continue
		}
		results = append(results, models.SearchResult{
			Chunk: models.Chunk{
				ID:         p.GetId().GetUuid(),
				DocumentID: documentID,
				Ordinal:    int(p.GetPayload()[metaOrdinal].GetIntegerValue()),
				Text:       p.GetPayload()["text"].GetStringValue(),
			},
			Score: p.GetScore(),
		})
	}
	return results, nil
}

func (s *QdrantStore) Delete(ctx context.Context, documentID int) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: documentFilter(documentID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting chunks of document %d: %w", documentID, err)
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context, documentID int) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.config.Collection,
		Filter:         documentFilter(documentID),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting chunks of document %d: %w", documentID, err)
	}
	return int(n), nil
}

func (s *QdrantStore) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("closing qdrant client", zap.Error(err))
	}
}
