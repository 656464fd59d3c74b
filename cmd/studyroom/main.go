package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/studyroom/internal/logging"
	cfgPkg "github.com/xhad/studyroom/pkg/config"
	"go.uber.org/zap"
)

var (
	configPath string
	logLevel   string

	cfg    *cfgPkg.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "studyroom",
	Short: "Summarize, chat with and quiz on study documents",
	Long: `studyroom ingests PDF, HTML and text documents into a per-document
vector index, summarizes them, answers questions about them and writes
multiple-choice quizzes from them.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = cfgPkg.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s", e.Error())
		}
		return fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}

	logger, err = logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
