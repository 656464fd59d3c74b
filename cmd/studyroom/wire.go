package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	cfgPkg "github.com/xhad/studyroom/pkg/config"
	"github.com/xhad/studyroom/pkg/extractor"
	"github.com/xhad/studyroom/pkg/filter"
	"github.com/xhad/studyroom/pkg/llm"
	"github.com/xhad/studyroom/pkg/pipeline"
	"github.com/xhad/studyroom/pkg/processor"
	"github.com/xhad/studyroom/pkg/store"
	"go.uber.org/zap"
)

// buildPipeline wires every component from config. The returned func
// releases the index and embedder.
func buildPipeline(ctx context.Context, config *cfgPkg.Config, logger *zap.Logger, reg prometheus.Registerer) (*pipeline.Pipeline, func(), error) {
	gateway, err := llm.NewWithConfig(ctx, llm.GatewayConfig{
		Provider:    config.LLM.Provider,
		Model:       config.LLM.Model,
		BaseURL:     config.LLM.BaseURL,
		APIKey:      config.LLM.APIKey,
		Temperature: config.Temperature(),
		MaxTokens:   config.LLM.MaxTokens,
		Timeout:     config.LLM.Timeout,
		RateLimit:   config.LLM.RateLimit,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize model gateway: %w", err)
	}

	embedder, err := llm.NewEmbedder(llm.EmbedderConfig{
		Provider:  config.Embedder.Provider,
		Model:     config.Embedder.Model,
		BaseURL:   config.Embedder.BaseURL,
		CacheDir:  config.Embedder.CacheDir,
		Dimension: config.Embedder.Dimension,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	closeEmbedder := func() {
		if c, ok := embedder.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				logger.Warn("closing embedder", zap.Error(err))
			}
		}
	}

	index, err := store.New(ctx, store.Config{
		Backend:    config.Index.Backend,
		Path:       config.Index.Path,
		Compress:   config.Index.Compress,
		Collection: config.Index.Collection,
		URL:        config.Index.URL,
		APIKey:     config.Index.APIKey,
		TableName:  config.Index.TableName,
		VectorDim:  config.Index.VectorDim,
		BatchSize:  config.Index.BatchSize,
	}, embedder, logger)
	if err != nil {
		closeEmbedder()
		return nil, nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	p, err := pipeline.New(pipeline.Config{
		ChatResults:     config.Pipeline.ChatResults,
		QuizCandidates:  config.Pipeline.QuizCandidates,
		QuizSample:      config.Pipeline.QuizSample,
		QuizAttempts:    config.Pipeline.QuizAttempts,
		HistoryTurns:    config.Pipeline.HistoryTurns,
		SummaryBudget:   config.Pipeline.SummaryBudget,
		ReplaceOnIngest: config.ReplaceOnIngest(),
	}, pipeline.Deps{
		Extractor: extractor.New(),
		Filter: filter.NewWithConfig(filter.FilterConfig{
			MinBlockLength: config.Filter.MinBlockLength,
			MaxBlocks:      config.Filter.MaxBlocks,
			ScanWindow:     config.Filter.ScanWindow,
		}),
		Chunker: processor.NewWithConfig(processor.ProcessorConfig{
			ChunkSize:    config.Processor.ChunkSize,
			ChunkOverlap: config.Processor.ChunkOverlap,
		}),
		Index:     index,
		Generator: gateway,
	}, logger, pipeline.NewMetrics(reg))
	if err != nil {
		index.Close()
		closeEmbedder()
		return nil, nil, err
	}

	cleanup := func() {
		index.Close()
		closeEmbedder()
	}
	return p, cleanup, nil
}
