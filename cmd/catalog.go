package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/Kermitos690/lexveille/internal/ingest"
	"github.com/Kermitos690/lexveille/internal/model"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the ingestion source catalog",
}

// -- catalog import --

var catalogImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import catalog sources from a YAML or XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sources, err := ingest.LoadCatalogFile(args[0])
		if err != nil {
			return eris.Wrap(err, "catalog import")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		imported, err := ingest.ImportCatalog(ctx, st, sources)
		if err != nil {
			return eris.Wrap(err, "catalog import")
		}

		fmt.Printf("Imported %d source(s).\n", imported)
		return nil
	},
}

// -- catalog list --

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog sources",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jurisdiction, _ := cmd.Flags().GetString("jurisdiction")
		domainTag, _ := cmd.Flags().GetString("domain")

		sources, err := st.ListCatalogSources(ctx, jurisdiction, domainTag)
		if err != nil {
			return eris.Wrap(err, "catalog list")
		}

		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "No catalog sources found.")
			return nil
		}

		formatCatalogList(os.Stdout, sources)
		return nil
	},
}

func init() {
	catalogListCmd.Flags().String("jurisdiction", "", "filter by jurisdiction")
	catalogListCmd.Flags().String("domain", "", "filter by domain tag")

	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogListCmd)
	rootCmd.AddCommand(catalogCmd)
}

// formatCatalogList writes a tabular list of catalog sources to out.
func formatCatalogList(out io.Writer, sources []model.CatalogSource) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "URL\tAUTHORITY\tJURISDICTION\tDOMAINS\tTITLE")
	_, _ = fmt.Fprintln(w, "---\t---------\t------------\t-------\t-----")

	for _, s := range sources {
		title := s.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			s.URL, s.Authority, s.Jurisdiction, strings.Join(s.DomainTags, ","), title)
	}

	_ = w.Flush()
}
