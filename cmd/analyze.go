package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kermitos690/lexveille/internal/detect"
	"github.com/Kermitos690/lexveille/internal/store"
	"github.com/Kermitos690/lexveille/pkg/anthropic"
	"github.com/Kermitos690/lexveille/pkg/notion"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a batch of unprocessed records for violations",
	Long:  "Pulls unanalyzed records, classifies each through the configured detection perspectives, persists the merged reports, updates recurrence counters, and escalates qualifying findings to the case dashboard.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		orch, err := initDetection(st)
		if err != nil {
			return err
		}

		result, err := orch.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// initDetection wires the detection engine against the given store.
// A missing Anthropic key is a configuration error reported before any
// record is touched; a missing Notion configuration only disables
// dashboard writes.
func initDetection(st store.Store) (*detect.Orchestrator, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (LEXVEILLE_ANTHROPIC_KEY)")
	}

	classifier := detect.NewClassifier(
		anthropic.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic.Model,
		time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second,
	)

	aggregator := detect.NewAggregator(classifier, detect.DefaultPerspectives(), cfg.Detect.MinConfidence, st)
	tracker := detect.NewTracker(st)

	var cases detect.CaseSink
	if cfg.Notion.Token != "" && cfg.Notion.IncidentDB != "" {
		cases = notion.NewCaseWriter(notion.NewClient(cfg.Notion.Token), cfg.Notion.IncidentDB, cfg.Notion.AlertDB)
	} else {
		zap.L().Warn("notion not configured, incidents and alerts will not be pushed")
	}

	return detect.NewOrchestrator(st, aggregator, tracker, cases, detect.OrchestratorConfig{
		BatchSize:          cfg.Detect.BatchSize,
		EscalateConfidence: cfg.Detect.EscalateConfidence,
		RecordDelay:        time.Duration(cfg.Detect.RecordDelayMillis) * time.Millisecond,
	}), nil
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
