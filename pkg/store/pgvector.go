package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/studyroom/internal/models"
	"github.com/xhad/studyroom/internal/types"
	"go.uber.org/zap"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

// VectorStore keeps chunks in PostgreSQL with the pgvector extension.
type VectorStore struct {
	config   VectorStoreConfig
	pool     *pgxpool.Pool
	embedder types.Embedder
	logger   *zap.Logger
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig, embedder types.Embedder, logger *zap.Logger) (*VectorStore, error) {
	if embedder == nil {
		return nil, ErrNilEmbedder
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TableName == "" {
		config.TableName = "study_chunks"
	}
	if !validTableName.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}
	if config.VectorDim == 0 {
		config.VectorDim = embedder.Dimension()
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := &VectorStore{
		config:   config,
		pool:     pool,
		embedder: embedder,
		logger:   logger.Named("pgvector"),
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	// Enable pgvector extension
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			document_id INTEGER NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createDocIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_document_idx
		ON %s (document_id)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createDocIndex)
	if err != nil {
		return fmt.Errorf("failed to create document index: %w", err)
	}

	// Query must scan a document's rows exactly; an hnsw index filters
	// after its candidate list and returns short result sets.
	dropVectorIndex := fmt.Sprintf(`DROP INDEX IF EXISTS %s_embedding_idx`, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, dropVectorIndex)
	if err != nil {
		return fmt.Errorf("failed to drop vector index: %w", err)
	}

	return nil
}

func (vs *VectorStore) Add(ctx context.Context, documentID int, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	vectors, err := embedChunks(ctx, vs.embedder, chunks, vs.config.BatchSize, vs.config.VectorDim)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, document_id, ordinal, content, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding`,
		vs.config.TableName)

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i, c := range chunks {
		batch.Queue(stmt, c.ID, documentID, c.Ordinal, sanitizeUTF8(c.Text), pgvector.NewVector(vectors[i]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.logger.Debug("chunks added",
		zap.Int("document_id", documentID),
		zap.Int("count", len(chunks)),
	)
	return nil
}

func (vs *VectorStore) Query(ctx context.Context, documentID int, query string, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		return []models.SearchResult{}, nil
	}

	vector, err := vs.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	stmt := fmt.Sprintf(`
		SELECT id, ordinal, content, 1 - (embedding <=> $2) AS similarity
		FROM %s
		WHERE document_id = $1
		ORDER BY embedding <=> $2
		LIMIT $3`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, stmt, documentID, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	results := []models.SearchResult{}
	for rows.Next() {
		r := models.SearchResult{Chunk: models.Chunk{DocumentID: documentID}}
		var similarity float64
		if err := rows.Scan(&r.ID, &r.Ordinal, &r.Text, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Score = float32(similarity)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return results, nil
}

func (vs *VectorStore) Delete(ctx context.Context, documentID int) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, vs.config.TableName)
	if _, err := vs.pool.Exec(ctx, stmt, documentID); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

func (vs *VectorStore) Count(ctx context.Context, documentID int) (int, error) {
	stmt := fmt.Sprintf(`SELECT count(*) FROM %s WHERE document_id = $1`, vs.config.TableName)
	var n int
	if err := vs.pool.QueryRow(ctx, stmt, documentID).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
