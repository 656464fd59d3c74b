package extractor

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/documentloaders"
)

func readPDF(ctx context.Context, f *os.File, size int64) (pages []string, err error) {
	// the underlying pdf reader panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: malformed pdf: %v", ErrUnreadable, r)
		}
	}()

	docs, err := documentloaders.NewPDF(f, size).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	pages = make([]string, len(docs))
	for i, doc := range docs {
		pages[i] = doc.PageContent
	}
	return pages, nil
}
