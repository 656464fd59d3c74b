package models

// TextBlock is one page (or page-like unit) of extracted text.
type TextBlock struct {
	Ordinal int
	Text    string
	Length  int
}

type Chunk struct {
	ID         string
	DocumentID int
	Ordinal    int
	Text       string
}

// SearchResult is a chunk returned from the index with its similarity score.
type SearchResult struct {
	Chunk
	Score float32
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type QuizOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type QuizItem struct {
	Question string       `json:"question"`
	Options  []QuizOption `json:"options"`
	Answer   string       `json:"answer"`
}

// IngestResult reports the summary and indexing sub-steps of an ingest separately
// so callers can persist each outcome on its own.
type IngestResult struct {
	DocumentID int
	Summary    string
	Summarized bool
	SummaryErr error
	Indexed    bool
	ChunkCount int
	IndexErr   error
}
