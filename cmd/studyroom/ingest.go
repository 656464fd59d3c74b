package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/xhad/studyroom/server"
)

var ingestJSON bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [document-id] [file]",
	Short: "Extract, summarize and index a document",
	Long: `Extracts the text of a PDF, HTML or text file, writes a three sentence
summary and indexes its chunks under the given document id. Re-ingesting an id
replaces its previous chunks unless pipeline.replace_on_ingest is false.`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output the result as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
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

	spinner := getSpinner(" Processing document...")
	result, err := p.Ingest(ctx, args[1], documentID)
	spinner.Finish()
	if err != nil {
		return err
	}

	if ingestJSON {
		data, err := json.MarshalIndent(server.NewIngestReport(result), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	printIngestResult(result)
	return nil
}
