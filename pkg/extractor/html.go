package extractor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var mainContentSelectors = []string{
	"main",
	"article",
	".content",
	"#content",
	".documentation",
	"#documentation",
}

var noisePatterns = []string{
	"Cookie Policy",
	"Accept Cookies",
	"Privacy Policy",
	"Terms of Service",
}

// readHTML returns one page per <section> of the main content area, or the
// whole main area when it has no sections.
func readHTML(_ context.Context, f *os.File, _ int64) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	doc.Find("script, style, nav, header, footer, noscript").Remove()

	area := mainContent(doc)

	var pages []string
	area.Find("section").Each(func(_ int, s *goquery.Selection) {
		// nested sections are covered by their parent
		if s.ParentsFiltered("section").Length() > 0 {
			return
		}
		if text := cleanContent(s.Text()); text != "" {
			pages = append(pages, text)
		}
	})
	if len(pages) > 0 {
		return pages, nil
	}

	if text := cleanContent(area.Text()); text != "" {
		return []string{text}, nil
	}
	return nil, nil
}

func mainContent(doc *goquery.Document) *goquery.Selection {
	for _, selector := range mainContentSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			return selected.First()
		}
	}
	// Fallback to body if no main content found
	return doc.Find("body")
}

func cleanContent(content string) string {
	content = strings.Join(strings.Fields(content), " ")

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}
