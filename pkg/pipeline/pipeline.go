// Package pipeline composes extraction, filtering, chunking, indexing and
// generation into the ingest, chat and quiz operations.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/xhad/studyroom/internal/models"
	"github.com/xhad/studyroom/internal/types"
	"github.com/xhad/studyroom/pkg/extractor"
	"github.com/xhad/studyroom/pkg/llm"
	"github.com/xhad/studyroom/pkg/prompt"
	"github.com/xhad/studyroom/pkg/quiz"
	"go.uber.org/zap"
)

const (
	// SummaryFailed replaces the summary when the model call fails.
	SummaryFailed = "Summary generation failed."
	// NoInformation answers a chat question when nothing was retrieved.
	NoInformation = "I couldn't find any relevant information about that in this document."
	// QuizSeed is the retrieval query used to gather quiz material.
	QuizSeed = "key concepts, definitions, processes and important facts"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	errEmptySummary  = errors.New("model returned an empty summary")
)

// Config tunes retrieval sizes and retry bounds.
type Config struct {
	ChatResults     int
	QuizCandidates  int
	QuizSample      int
	QuizAttempts    int
	HistoryTurns    int
	SummaryBudget   int
	ReplaceOnIngest bool
	// Seed fixes quiz sampling; 0 seeds from the clock.
	Seed int64
}

// ContentFilter builds the summary context from extracted blocks.
type ContentFilter interface {
	SummaryContext(blocks []models.TextBlock) string
}

// Deps are the collaborators a Pipeline is built from.
type Deps struct {
	Extractor types.Extractor
	Filter    ContentFilter
	Chunker   types.Chunker
	Index     types.Index
	Generator types.Generator
}

type Pipeline struct {
	config  Config
	deps    Deps
	logger  *zap.Logger
	metrics *Metrics
	locks   *documentLocks

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(config Config, deps Deps, logger *zap.Logger, metrics *Metrics) (*Pipeline, error) {
	switch {
	case deps.Extractor == nil:
		return nil, errors.New("pipeline: extractor is required")
	case deps.Filter == nil:
		return nil, errors.New("pipeline: filter is required")
	case deps.Chunker == nil:
		return nil, errors.New("pipeline: chunker is required")
	case deps.Index == nil:
		return nil, errors.New("pipeline: index is required")
	case deps.Generator == nil:
		return nil, errors.New("pipeline: generator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	if config.ChatResults <= 0 {
		config.ChatResults = 5
	}
	if config.QuizCandidates <= 0 {
		config.QuizCandidates = 20
	}
	if config.QuizSample <= 0 {
		config.QuizSample = prompt.DefaultQuizSample
	}
	if config.QuizAttempts <= 0 {
		config.QuizAttempts = 3
	}
	if config.HistoryTurns <= 0 {
		config.HistoryTurns = 10
	}
	if config.SummaryBudget <= 0 {
		config.SummaryBudget = prompt.DefaultSummaryBudget
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Pipeline{
		config:  config,
		deps:    deps,
		logger:  logger.Named("pipeline"),
		metrics: metrics,
		locks:   newDocumentLocks(),
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
}

// Ingest extracts the file, then summarizes and indexes it concurrently.
// Only an extraction failure is returned as an error; the outcome of each
// sub-step is reported in the result. Ingests of the same document are
// serialized.
func (p *Pipeline) Ingest(ctx context.Context, filePath string, documentID int) (models.IngestResult, error) {
	start := time.Now()
	defer p.observe("ingest", start)

	unlock := p.locks.lock(documentID)
	defer unlock()

	result := models.IngestResult{DocumentID: documentID}

	blocks, err := p.deps.Extractor.Extract(ctx, filePath)
	if err != nil {
		p.metrics.OperationsTotal.WithLabelValues("ingest", "extraction_error").Inc()
		var extErr *extractor.ExtractionError
		if !errors.As(err, &extErr) {
			err = &extractor.ExtractionError{Path: filePath, Err: err}
		}
		p.logger.Error("extraction failed", zap.Int("document_id", documentID), zap.Error(err))
		return result, err
	}

	var (
		wg                   sync.WaitGroup
		summary              string
		summaryErr, indexErr error
		chunkCount           int
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		summary, summaryErr = p.summarize(ctx, blocks)
	}()
	go func() {
		defer wg.Done()
		chunkCount, indexErr = p.index(ctx, documentID, blocks)
	}()
	wg.Wait()

	result.Summary = summary
	result.Summarized = summaryErr == nil
	result.SummaryErr = summaryErr
	result.Indexed = indexErr == nil
	result.IndexErr = indexErr
	if indexErr == nil {
		result.ChunkCount = chunkCount
	}

	status := "ok"
	if summaryErr != nil || indexErr != nil {
		status = "partial"
	}
	p.metrics.OperationsTotal.WithLabelValues("ingest", status).Inc()

	p.logger.Info("document ingested",
		zap.Int("document_id", documentID),
		zap.Int("blocks", len(blocks)),
		zap.Bool("summarized", result.Summarized),
		zap.Bool("indexed", result.Indexed),
		zap.Int("chunks", result.ChunkCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (p *Pipeline) summarize(ctx context.Context, blocks []models.TextBlock) (string, error) {
	source := p.deps.Filter.SummaryContext(blocks)
	text, err := p.deps.Generator.Generate(ctx, prompt.Summarize(source, p.config.SummaryBudget))
	if err != nil {
		p.metrics.GenerationFailuresTotal.WithLabelValues("summary").Inc()
		p.logger.Warn("summary generation failed", zap.Error(err))
		return SummaryFailed, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		p.logger.Warn("summary generation returned no text")
		return SummaryFailed, errEmptySummary
	}
	return text, nil
}

func (p *Pipeline) index(ctx context.Context, documentID int, blocks []models.TextBlock) (int, error) {
	chunks, err := p.deps.Chunker.Process(documentID, extractor.FullText(blocks))
	if err != nil {
		return 0, fmt.Errorf("chunking document %d: %w", documentID, err)
	}

	if p.config.ReplaceOnIngest {
		if err := p.deps.Index.Delete(ctx, documentID); err != nil {
			return 0, fmt.Errorf("removing previous chunks of document %d: %w", documentID, err)
		}
	}
	if err := p.deps.Index.Add(ctx, documentID, chunks); err != nil {
		p.logger.Error("indexing failed", zap.Int("document_id", documentID), zap.Error(err))
		return 0, fmt.Errorf("indexing document %d: %w", documentID, err)
	}

	p.metrics.ChunksIndexedTotal.Add(float64(len(chunks)))
	return len(chunks), nil
}

// Chat answers a question about one document. When retrieval finds nothing
// the fixed NoInformation answer is returned without calling the model.
// Model failures are returned as *llm.GenerationError.
func (p *Pipeline) Chat(ctx context.Context, documentID int, question string, history []models.ConversationTurn) (string, error) {
	start := time.Now()
	defer p.observe("chat", start)

	question = strings.TrimSpace(question)
	if question == "" {
		p.metrics.OperationsTotal.WithLabelValues("chat", "invalid").Inc()
		return "", ErrEmptyQuestion
	}

	results, err := p.deps.Index.Query(ctx, documentID, question, p.config.ChatResults)
	if err != nil {
		p.metrics.OperationsTotal.WithLabelValues("chat", "index_error").Inc()
		return "", fmt.Errorf("retrieving context for document %d: %w", documentID, err)
	}
	if len(results) == 0 {
		p.metrics.OperationsTotal.WithLabelValues("chat", "no_context").Inc()
		p.logger.Debug("no context retrieved", zap.Int("document_id", documentID))
		return NoInformation, nil
	}

	chatPrompt := prompt.Chat(prompt.ChatContext(results), p.historyWindow(history), question)
	answer, err := p.deps.Generator.Generate(ctx, chatPrompt)
	if err != nil {
		p.metrics.OperationsTotal.WithLabelValues("chat", "generation_error").Inc()
		p.metrics.GenerationFailuresTotal.WithLabelValues("chat").Inc()
		var genErr *llm.GenerationError
		if !errors.As(err, &genErr) {
			err = &llm.GenerationError{Err: err}
		}
		return "", err
	}

	p.metrics.OperationsTotal.WithLabelValues("chat", "ok").Inc()
	return answer, nil
}

func (p *Pipeline) historyWindow(history []models.ConversationTurn) []models.ConversationTurn {
	if len(history) > p.config.HistoryTurns {
		return history[len(history)-p.config.HistoryTurns:]
	}
	return history
}

// Quiz builds up to quiz.MaxItems questions from a random sample of the
// document's chunks. Model and parse failures degrade to an empty list; the
// error is only set when the index cannot be read.
func (p *Pipeline) Quiz(ctx context.Context, documentID int) ([]models.QuizItem, error) {
	start := time.Now()
	defer p.observe("quiz", start)

	results, err := p.deps.Index.Query(ctx, documentID, QuizSeed, p.config.QuizCandidates)
	if err != nil {
		p.metrics.OperationsTotal.WithLabelValues("quiz", "index_error").Inc()
		return []models.QuizItem{}, fmt.Errorf("retrieving material for document %d: %w", documentID, err)
	}

	p.rngMu.Lock()
	sample := prompt.SampleChunks(p.rng, results, p.config.QuizSample)
	p.rngMu.Unlock()

	policy := quiz.DefaultRetryPolicy()
	policy.MaxAttempts = p.config.QuizAttempts
	outcome := quiz.Generate(ctx, p.deps.Generator, prompt.Quiz(prompt.QuizContext(sample)), policy, p.logger)

	for _, attemptErr := range outcome.Errors {
		var parseErr *quiz.ParseError
		if errors.As(attemptErr, &parseErr) {
			p.metrics.QuizParseFailuresTotal.Inc()
		} else {
			p.metrics.GenerationFailuresTotal.WithLabelValues("quiz").Inc()
		}
	}

	status := "ok"
	if len(outcome.Items) == 0 && len(outcome.Errors) > 0 {
		status = "fallback"
		p.metrics.QuizFallbacksTotal.Inc()
	}
	p.metrics.OperationsTotal.WithLabelValues("quiz", status).Inc()

	p.logger.Info("quiz generated",
		zap.Int("document_id", documentID),
		zap.Int("candidates", len(results)),
		zap.Int("sampled", len(sample)),
		zap.Int("attempts", outcome.Attempts),
		zap.Int("items", len(outcome.Items)),
	)
	return outcome.Items, nil
}

func (p *Pipeline) observe(operation string, start time.Time) {
	p.metrics.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// documentLocks hands out one mutex per document id and drops it once no
// caller holds or waits on it.
type documentLocks struct {
	mu    sync.Mutex
	locks map[int]*documentLock
}

type documentLock struct {
	mu   sync.Mutex
	refs int
}

func newDocumentLocks() *documentLocks {
	return &documentLocks{locks: make(map[int]*documentLock)}
}

func (l *documentLocks) lock(documentID int) func() {
	l.mu.Lock()
	dl, ok := l.locks[documentID]
	if !ok {
		dl = &documentLock{}
		l.locks[documentID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, documentID)
		}
		l.mu.Unlock()
	}
}
