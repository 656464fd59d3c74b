package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/studyroom/internal/models"
)

var chatCmd = &cobra.Command{
	Use:   "chat [document-id]",
	Short: "Ask questions about an ingested document",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
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

	// Interactive chat loop with colored output
	color.Cyan("\nChat with document %d (type 'exit' to quit)", documentID)

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	var history []models.ConversationTurn
	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if query == "" {
			continue
		}

		responseSpinner := getSpinner(" Thinking...")
		answer, err := p.Chat(ctx, documentID, query, history)
		responseSpinner.Finish()

		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		assistantPrompt("\nAssistant: %s\n", strings.TrimSpace(answer))

		history = append(history,
			models.ConversationTurn{Role: models.RoleUser, Content: query},
			models.ConversationTurn{Role: models.RoleAssistant, Content: answer},
		)
	}

	return scanner.Err()
}
