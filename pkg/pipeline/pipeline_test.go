package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/studyroom/internal/models"
	"github.com/xhad/studyroom/internal/types"
	"github.com/xhad/studyroom/pkg/extractor"
	"github.com/xhad/studyroom/pkg/filter"
	"github.com/xhad/studyroom/pkg/llm"
	"github.com/xhad/studyroom/pkg/processor"
	"github.com/xhad/studyroom/pkg/store"
)

// stubGenerator records every prompt and answers with reply.
type stubGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string, call int) (string, error)
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	call := len(g.prompts)
	g.mu.Unlock()
	return g.reply(prompt, call)
}

func (g *stubGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *stubGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

func replyWith(text string) func(string, int) (string, error) {
	return func(string, int) (string, error) { return text, nil }
}

// failingIndex wraps an index and fails every Add.
type failingIndex struct {
	types.Index
}

func (failingIndex) Add(context.Context, int, []models.Chunk) error {
	return errors.New("disk full")
}

type fixture struct {
	pipeline *Pipeline
	index    types.Index
	gen      *stubGenerator
	metrics  *Metrics
	dir      string
}

func newFixture(t *testing.T, gen *stubGenerator, mutate func(*Config, *Deps)) *fixture {
	t.Helper()

	index, err := store.NewChromemStore(store.ChromemConfig{Path: filepath.Join(t.TempDir(), "index")}, llm.NewHashEmbedder(256), nil)
	require.NoError(t, err)

	config := Config{ReplaceOnIngest: true, Seed: 42}
	deps := Deps{
		Extractor: extractor.New(),
		Filter:    filter.NewWithConfig(filter.FilterConfig{}),
		Chunker:   processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 200, ChunkOverlap: 20}),
		Index:     index,
		Generator: gen,
	}
	if mutate != nil {
		mutate(&config, &deps)
	}

	metrics := NewMetrics(prometheus.NewRegistry())
	p, err := New(config, deps, nil, metrics)
	require.NoError(t, err)

	return &fixture{pipeline: p, index: deps.Index, gen: gen, metrics: metrics, dir: t.TempDir()}
}

func (f *fixture) writeDoc(t *testing.T, name string, pages ...string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(pages, "\f")), 0o644))
	return path
}

func biologyPages() []string {
	return []string{
		"BIO 101 Section 3",
		strings.Repeat("Mitochondria are the powerhouse of the cell and produce ATP through cellular respiration. ", 5),
		strings.Repeat("Photosynthesis converts light energy into chemical energy inside chloroplasts. ", 5),
	}
}

func quizJSON(n int) string {
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"question":"Q%d","options":[{"id":"A","text":"a"},{"id":"B","text":"b"},{"id":"C","text":"c"},{"id":"D","text":"d"}],"answer":"C"}`, i+1)
	}
	return "[" + strings.Join(items, ",") + "]"
}

func TestIngest(t *testing.T) {
	gen := &stubGenerator{reply: replyWith("  Cells make energy. Plants use light. Both matter.\n")}
	f := newFixture(t, gen, nil)
	path := f.writeDoc(t, "bio.txt", biologyPages()...)

	result, err := f.pipeline.Ingest(context.Background(), path, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, result.DocumentID)
	assert.True(t, result.Summarized)
	assert.NoError(t, result.SummaryErr)
	assert.Equal(t, "Cells make energy. Plants use light. Both matter.", result.Summary)
	assert.True(t, result.Indexed)
	assert.NoError(t, result.IndexErr)
	assert.Greater(t, result.ChunkCount, 1)

	n, err := f.index.Count(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, result.ChunkCount, n)

	// the short title page is filtered out of the summary context
	require.Equal(t, 1, gen.calls())
	assert.NotContains(t, gen.lastPrompt(), "BIO 101")
	assert.Contains(t, gen.lastPrompt(), "Mitochondria")
	assert.Contains(t, gen.lastPrompt(), "exactly 3 concise sentences")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("ingest", "ok")))
}

func TestIngestModelFailureStillIndexes(t *testing.T) {
	gen := &stubGenerator{reply: func(string, int) (string, error) {
		return "", &llm.GenerationError{Model: "stub", Err: errors.New("quota exceeded")}
	}}
	f := newFixture(t, gen, nil)
	path := f.writeDoc(t, "bio.txt", biologyPages()...)

	result, err := f.pipeline.Ingest(context.Background(), path, 2)
	require.NoError(t, err)

	assert.Equal(t, SummaryFailed, result.Summary)
	assert.False(t, result.Summarized)
	var genErr *llm.GenerationError
	assert.ErrorAs(t, result.SummaryErr, &genErr)

	assert.True(t, result.Indexed)
	n, err := f.index.Count(context.Background(), 2)
	require.NoError(t, err)
	assert.Positive(t, n)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.GenerationFailuresTotal.WithLabelValues("summary")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("ingest", "partial")))
}

func TestIngestEmptySummaryUsesSentinel(t *testing.T) {
	f := newFixture(t, &stubGenerator{reply: replyWith("   ")}, nil)
	path := f.writeDoc(t, "bio.txt", biologyPages()...)

	result, err := f.pipeline.Ingest(context.Background(), path, 3)
	require.NoError(t, err)
	assert.Equal(t, SummaryFailed, result.Summary)
	assert.False(t, result.Summarized)
	assert.True(t, result.Indexed)
}

func TestIngestExtractionError(t *testing.T) {
	gen := &stubGenerator{reply: replyWith("unused")}
	f := newFixture(t, gen, nil)

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(f.dir, "nope.txt")},
		{"unsupported format", f.writeDoc(t, "slides.pptx", "binary")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipeline.Ingest(context.Background(), tt.path, 4)
			var extErr *extractor.ExtractionError
			require.ErrorAs(t, err, &extErr)
		})
	}
	assert.Zero(t, gen.calls())
}

func TestIngestIndexFailureReportedSeparately(t *testing.T) {
	gen := &stubGenerator{reply: replyWith("One. Two. Three.")}
	f := newFixture(t, gen, func(_ *Config, d *Deps) {
		d.Index = failingIndex{Index: d.Index}
	})
	path := f.writeDoc(t, "bio.txt", biologyPages()...)

	result, err := f.pipeline.Ingest(context.Background(), path, 5)
	require.NoError(t, err)
	assert.True(t, result.Summarized)
	assert.Equal(t, "One. Two. Three.", result.Summary)
	assert.False(t, result.Indexed)
	assert.Zero(t, result.ChunkCount)
	assert.ErrorContains(t, result.IndexErr, "disk full")
}

func TestIngestNoSolidPages(t *testing.T) {
	gen := &stubGenerator{reply: replyWith("Nothing to see. Really. Nothing.")}
	f := newFixture(t, gen, nil)
	path := f.writeDoc(t, "map.txt", "Campus map", "Room 204", "Page 3")

	result, err := f.pipeline.Ingest(context.Background(), path, 6)
	require.NoError(t, err)
	assert.True(t, result.Summarized)
	assert.True(t, result.Indexed)
	assert.Contains(t, gen.lastPrompt(), "Document text:\n\n")
}

func TestReingestReplacesChunks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubGenerator{reply: replyWith("A. B. C.")}, nil)
	path := f.writeDoc(t, "bio.txt", biologyPages()...)

	first, err := f.pipeline.Ingest(ctx, path, 7)
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(ctx, path, 7)
	require.NoError(t, err)

	n, err := f.index.Count(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, first.ChunkCount, n)

	// a revised file replaces, rather than extends, the old chunks
	revised := f.writeDoc(t, "bio-v2.txt", "Only one short revised page about enzymes.")
	second, err := f.pipeline.Ingest(ctx, revised, 7)
	require.NoError(t, err)
	require.Equal(t, 1, second.ChunkCount)

	n, err = f.index.Count(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReingestAppendMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubGenerator{reply: replyWith("A. B. C.")}, func(c *Config, _ *Deps) {
		c.ReplaceOnIngest = false
	})
	path := f.writeDoc(t, "bio.txt", biologyPages()...)

	first, err := f.pipeline.Ingest(ctx, path, 8)
	require.NoError(t, err)
	_, err = f.pipeline.Ingest(ctx, path, 8)
	require.NoError(t, err)

	// identical chunks share ids, so an unchanged file does not duplicate
	n, err := f.index.Count(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, first.ChunkCount, n)

	revised := f.writeDoc(t, "bio-v2.txt", "Only one short revised page about enzymes.")
	_, err = f.pipeline.Ingest(ctx, revised, 8)
	require.NoError(t, err)

	n, err = f.index.Count(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, first.ChunkCount+1, n)
}

func TestConcurrentIngestSameDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &stubGenerator{reply: replyWith("A. B. C.")}, nil)
	path := f.writeDoc(t, "bio.txt", biologyPages()...)

	var wg sync.WaitGroup
	counts := make([]int, 4)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.pipeline.Ingest(ctx, path, 9)
			assert.NoError(t, err)
			counts[i] = result.ChunkCount
		}(i)
	}
	wg.Wait()

	n, err := f.index.Count(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, counts[0], n)
	assert.Empty(t, f.pipeline.locks.locks)
}

func TestChatEmptyRetrievalSkipsModel(t *testing.T) {
	gen := &stubGenerator{reply: replyWith("should not be called")}
	f := newFixture(t, gen, nil)

	answer, err := f.pipeline.Chat(context.Background(), 404, "What is ATP?", nil)
	require.NoError(t, err)
	assert.Equal(t, NoInformation, answer)
	assert.Zero(t, gen.calls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("chat", "no_context")))
}

func TestChat(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{reply: replyWith("A. B. C.")}
	f := newFixture(t, gen, nil)
	path := f.writeDoc(t, "bio.txt", biologyPages()...)
	_, err := f.pipeline.Ingest(ctx, path, 10)
	require.NoError(t, err)

	raw := "  **ATP** is made in the mitochondria.\n"
	gen.reply = replyWith(raw)

	var history []models.ConversationTurn
	for i := 0; i < 12; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		history = append(history, models.ConversationTurn{Role: role, Content: fmt.Sprintf("turn-%02d", i)})
	}

	answer, err := f.pipeline.Chat(ctx, 10, "Where is ATP made?", history)
	require.NoError(t, err)
	assert.Equal(t, raw, answer)

	p := gen.lastPrompt()
	assert.Contains(t, p, "Mitochondria")
	assert.NotContains(t, p, "turn-01")
	assert.Contains(t, p, "User: turn-02\nAI: turn-03\n")
	assert.Contains(t, p, "AI: turn-11\nUser: Where is ATP made?\nAI:")
}

func TestChatGenerationError(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{reply: replyWith("A. B. C.")}
	f := newFixture(t, gen, nil)
	path := f.writeDoc(t, "bio.txt", biologyPages()...)
	_, err := f.pipeline.Ingest(ctx, path, 11)
	require.NoError(t, err)

	gen.reply = func(string, int) (string, error) { return "", errors.New("connection refused") }

	_, err = f.pipeline.Chat(ctx, 11, "What is ATP?", nil)
	var genErr *llm.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorContains(t, err, "connection refused")
}

func TestChatEmptyQuestion(t *testing.T) {
	gen := &stubGenerator{reply: replyWith("unused")}
	f := newFixture(t, gen, nil)

	_, err := f.pipeline.Chat(context.Background(), 1, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Zero(t, gen.calls())
}

func TestQuizTruncatesToFive(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{reply: replyWith("A. B. C.")}
	f := newFixture(t, gen, nil)
	path := f.writeDoc(t, "bio.txt", biologyPages()...)
	_, err := f.pipeline.Ingest(ctx, path, 12)
	require.NoError(t, err)

	gen.reply = replyWith("Here you go!\n```json\n" + quizJSON(8) + "\n```")

	items, err := f.pipeline.Quiz(ctx, 12)
	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, "Q1", items[0].Question)
	assert.Equal(t, "C", items[0].Answer)

	p := gen.lastPrompt()
	assert.Contains(t, p, "Material:\n")
	assert.NotContains(t, p, "\n\n\n")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("quiz", "ok")))
}

func TestQuizGarbageReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{reply: replyWith("A. B. C.")}
	f := newFixture(t, gen, nil)
	path := f.writeDoc(t, "bio.txt", biologyPages()...)
	_, err := f.pipeline.Ingest(ctx, path, 13)
	require.NoError(t, err)
	before := gen.calls()

	gen.reply = replyWith("I'd rather not write a quiz today.")

	items, err := f.pipeline.Quiz(ctx, 13)
	require.NoError(t, err)
	require.NotNil(t, items)
	assert.Empty(t, items)
	assert.Equal(t, 3, gen.calls()-before)

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.QuizParseFailuresTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QuizFallbacksTotal))
}

func TestQuizRecoversAfterBadAttempt(t *testing.T) {
	gen := &stubGenerator{reply: func(_ string, call int) (string, error) {
		if call == 1 {
			return "", &llm.GenerationError{Model: "stub", Timeout: true, Err: context.DeadlineExceeded}
		}
		return quizJSON(2), nil
	}}
	f := newFixture(t, gen, nil)

	// nothing indexed: the quiz still runs on empty material
	items, err := f.pipeline.Quiz(context.Background(), 14)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, gen.calls())
	assert.True(t, strings.HasSuffix(gen.lastPrompt(), "Material:\n\n"))
}

func TestQuizSamplesAtMostFiveChunks(t *testing.T) {
	ctx := context.Background()
	gen := &stubGenerator{reply: replyWith("A. B. C.")}
	f := newFixture(t, gen, nil)

	var pages []string
	for i := 0; i < 12; i++ {
		pages = append(pages, fmt.Sprintf("MARKER%02d %s", i, strings.Repeat("concept definition fact. ", 7)))
	}
	path := f.writeDoc(t, "long.txt", pages...)
	result, err := f.pipeline.Ingest(ctx, path, 15)
	require.NoError(t, err)
	require.Greater(t, result.ChunkCount, 5)

	gen.reply = replyWith("[]")
	_, err = f.pipeline.Quiz(ctx, 15)
	require.NoError(t, err)

	assert.LessOrEqual(t, strings.Count(gen.lastPrompt(), "MARKER"), 5)
	assert.Positive(t, strings.Count(gen.lastPrompt(), "MARKER"))
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{}, nil, nil)
	assert.ErrorContains(t, err, "extractor is required")
}

func TestDocumentLocks(t *testing.T) {
	locks := newDocumentLocks()

	unlock := locks.lock(1)
	acquired := make(chan struct{})
	done := make(chan struct{})
	go func() {
		release := locks.lock(1)
		close(acquired)
		release()
		close(done)
	}()

	// a different document is not blocked
	locks.lock(2)()

	select {
	case <-acquired:
		t.Fatal("second lock on the same document acquired while held")
	default:
	}

	unlock()
	<-acquired
	<-done

	locks.mu.Lock()
	defer locks.mu.Unlock()
	assert.Empty(t, locks.locks)
}
