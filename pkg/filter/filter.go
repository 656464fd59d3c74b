// Package filter drops low-information pages (titles, maps, short headers)
// and picks the pages worth summarizing.
package filter

import (
	"strings"
	"unicode/utf8"

	"github.com/xhad/studyroom/internal/models"
)

type FilterConfig struct {
	MinBlockLength int // trimmed characters for a block to count as solid
	MaxBlocks      int
	ScanWindow     int // only the first ScanWindow blocks are considered
}

type Filter struct {
	config FilterConfig
}

func NewWithConfig(config FilterConfig) Filter {
	if config.MinBlockLength == 0 {
		config.MinBlockLength = 200
	}
	if config.MaxBlocks == 0 {
		config.MaxBlocks = 5
	}
	if config.ScanWindow == 0 {
		config.ScanWindow = 20
	}
	return Filter{config: config}
}

func (f Filter) IsSolid(block models.TextBlock) bool {
	return utf8.RuneCountInString(strings.TrimSpace(block.Text)) >= f.config.MinBlockLength
}

// SelectSolid returns up to MaxBlocks solid blocks, in order, from the first
// ScanWindow blocks.
func (f Filter) SelectSolid(blocks []models.TextBlock) []models.TextBlock {
	window := blocks
	if len(window) > f.config.ScanWindow {
		window = window[:f.config.ScanWindow]
	}

	var selected []models.TextBlock
	for _, block := range window {
		if len(selected) == f.config.MaxBlocks {
			break
		}
		if f.IsSolid(block) {
			selected = append(selected, block)
		}
	}
	return selected
}

// SummaryContext joins the selected blocks. It is empty when no block qualifies.
func (f Filter) SummaryContext(blocks []models.TextBlock) string {
	selected := f.SelectSolid(blocks)
	parts := make([]string, len(selected))
	for i, b := range selected {
		parts[i] = strings.TrimSpace(b.Text)
	}
	return strings.Join(parts, " ")
}
