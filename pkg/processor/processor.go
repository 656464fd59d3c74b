package processor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/xhad/studyroom/internal/models"
)

// chunkNamespace scopes chunk ids so they never collide with other UUIDv5 users.
var chunkNamespace = uuid.MustParse("6f1c7f0e-4a53-5b8e-9a4e-2b1d3c5e7f90")

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

type Processor struct {
	config   ProcessorConfig
	splitter textsplitter.RecursiveCharacter
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 100
	}
	if len(config.Separators) == 0 {
		// paragraph, line, sentence, word, then hard character cuts
		config.Separators = []string{"\n\n", "\n", ". ", " ", ""}
	}

	return Processor{
		config: config,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(config.ChunkSize),
			textsplitter.WithChunkOverlap(config.ChunkOverlap),
			textsplitter.WithSeparators(config.Separators),
		),
	}
}

// Process splits the full document text into overlapping chunks tagged with
// the owning document id. The same input always yields the same chunks.
func (p Processor) Process(documentID int, text string) ([]models.Chunk, error) {
	text = sanitizeText(text)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	parts, err := p.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("failed to split document %d: %w", documentID, err)
	}

	chunks := make([]models.Chunk, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ordinal := len(chunks)
		chunks = append(chunks, models.Chunk{
			ID:         ChunkID(documentID, ordinal, part),
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       part,
		})
	}
	return chunks, nil
}

// ChunkID is a content address for a chunk: UUIDv5 over document, position and text.
func ChunkID(documentID, ordinal int, text string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%d:%d:%s", documentID, ordinal, text))).String()
}

// sanitizeText drops invalid UTF-8 and NUL bytes that PDF extraction can leave behind.
func sanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}
