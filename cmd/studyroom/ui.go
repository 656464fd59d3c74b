package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/xhad/studyroom/internal/models"
)

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
	)
}

func printIngestResult(result models.IngestResult) {
	if result.Indexed {
		color.Green("✓ Indexed %d chunks for document %d\n", result.ChunkCount, result.DocumentID)
	} else {
		color.Red("✗ Indexing failed: %v\n", result.IndexErr)
	}
	if result.Summarized {
		color.Green("✓ Summary\n")
	} else {
		color.Yellow("! Summary unavailable: %v\n", result.SummaryErr)
	}
	color.Cyan("\n%s\n", result.Summary)
}

// writeQuiz prints items as a numbered quiz with the answer key last.
func writeQuiz(w io.Writer, items []models.QuizItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No quiz could be generated for this document.")
		return
	}
	var key []string
	for i, item := range items {
		fmt.Fprintf(w, "%d. %s\n", i+1, item.Question)
		for _, opt := range item.Options {
			fmt.Fprintf(w, "   %s) %s\n", opt.ID, opt.Text)
		}
		fmt.Fprintln(w)
		key = append(key, fmt.Sprintf("%d-%s", i+1, item.Answer))
	}
	fmt.Fprintf(w, "Answers: %s\n", strings.Join(key, " "))
}
