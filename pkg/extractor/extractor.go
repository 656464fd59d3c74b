// Package extractor turns uploaded files into ordered page-level text blocks.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xhad/studyroom/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrUnreadable        = errors.New("unreadable document")
)

// ExtractionError is returned when a file cannot be read or parsed.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

type pageReader func(ctx context.Context, f *os.File, size int64) ([]string, error)

type Extractor struct {
	readers map[string]pageReader
}

func New() *Extractor {
	return &Extractor{
		readers: map[string]pageReader{
			".pdf":  readPDF,
			".html": readHTML,
			".htm":  readHTML,
			".txt":  readText,
			".md":   readText,
		},
	}
}

// Supports reports whether the file extension has a registered reader.
func (e *Extractor) Supports(path string) bool {
	_, ok := e.readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extract returns one TextBlock per page in source order.
func (e *Extractor) Extract(ctx context.Context, path string) ([]models.TextBlock, error) {
	read, ok := e.readers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, &ExtractionError{Path: path, Err: ErrUnsupportedFormat}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: fmt.Errorf("%w: %v", ErrUnreadable, err)}
	}
	if info.IsDir() {
		return nil, &ExtractionError{Path: path, Err: fmt.Errorf("%w: is a directory", ErrUnreadable)}
	}

	pages, err := read(ctx, f, info.Size())
	if err != nil {
		return nil, &ExtractionError{Path: path, Err: err}
	}

	blocks := make([]models.TextBlock, len(pages))
	for i, page := range pages {
		blocks[i] = models.TextBlock{
			Ordinal: i,
			Text:    page,
			Length:  len([]rune(strings.TrimSpace(page))),
		}
	}
	return blocks, nil
}

// FullText joins all blocks in order, the input the chunker works on.
func FullText(blocks []models.TextBlock) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.Text
	}
	return strings.Join(parts, "\n\n")
}
