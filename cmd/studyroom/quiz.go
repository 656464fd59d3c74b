package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var quizJSON bool

var quizCmd = &cobra.Command{
	Use:   "quiz [document-id]",
	Short: "Generate a multiple-choice quiz from an ingested document",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuiz,
}

func init() {
	quizCmd.Flags().BoolVar(&quizJSON, "json", false, "output the quiz as JSON")
	rootCmd.AddCommand(quizCmd)
}

func runQuiz(cmd *cobra.Command, args []string) error {
	documentID, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid document id %q", args[0])
	}

	ctx := cmd.Context()
	p, cleanup, err := buildPipeline(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	spinner := getSpinner(" Writing quiz...")
	items, err := p.Quiz(ctx, documentID)
	spinner.Finish()
	if err != nil {
		return err
	}

	if quizJSON {
		data, err := json.MarshalIndent(items, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal quiz: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	writeQuiz(cmd.OutOrStdout(), items)
	return nil
}
