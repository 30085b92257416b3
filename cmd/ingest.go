package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kermitos690/lexveille/internal/fetcher"
	"github.com/Kermitos690/lexveille/internal/ingest"
	"github.com/Kermitos690/lexveille/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run a corpus ingestion pass over the source catalog",
	Long:  "Fetches every catalog source matching the filters, parses the legal text into citation units, and records the outcome per source. Incremental mode skips sources whose content is unchanged since their last successful ingestion.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		mode, _ := cmd.Flags().GetString("mode")
		jurisdiction, _ := cmd.Flags().GetString("jurisdiction")
		domainTag, _ := cmd.Flags().GetString("domain")

		var fetchMode model.FetchMode
		switch mode {
		case "full":
			fetchMode = model.FetchModeFull
		case "incremental":
			fetchMode = model.FetchModeIncremental
		default:
			return eris.Errorf("invalid mode %q (want full or incremental)", mode)
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		catalogPath, _ := cmd.Flags().GetString("catalog")
		if catalogPath == "" {
			catalogPath = cfg.Ingest.CatalogPath
		}
		if catalogPath != "" {
			if _, statErr := os.Stat(catalogPath); statErr == nil {
				sources, err := ingest.LoadCatalogFile(catalogPath)
				if err != nil {
					return eris.Wrap(err, "ingest")
				}
				imported, err := ingest.ImportCatalog(ctx, st, sources)
				if err != nil {
					return eris.Wrap(err, "ingest")
				}
				zap.L().Info("catalog refreshed from file",
					zap.String("path", catalogPath),
					zap.Int("sources", imported))
			}
		}

		client := fetcher.NewClient(fetcher.HTTPOptions{
			UserAgent:  cfg.Ingest.UserAgent,
			Timeout:    time.Duration(cfg.Ingest.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Ingest.MaxRetries,
		})

		run, err := ingest.NewRunner(st, client).Run(ctx, fetchMode, jurisdiction, domainTag)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	ingestCmd.Flags().String("mode", "incremental", "ingestion mode: full or incremental")
	ingestCmd.Flags().String("catalog", "", "catalog file to import before running (default from config)")
	ingestCmd.Flags().String("jurisdiction", "", "only ingest sources of this jurisdiction (e.g. ch, fr)")
	ingestCmd.Flags().String("domain", "", "only ingest sources tagged with this domain")
	rootCmd.AddCommand(ingestCmd)
}
