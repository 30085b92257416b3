package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kermitos690/lexveille/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "lexveille",
	Short: "Legal corpus ingestion and institutional incident detection",
	Long:  "Ingests legal texts into a versioned citation-unit corpus and analyzes institutional correspondence for violations through multi-perspective Claude classification.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
