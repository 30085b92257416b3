package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Kermitos690/lexveille/internal/model"
)

// CatalogStore persists source catalog entries.
type CatalogStore interface {
	UpsertCatalogSource(ctx context.Context, src model.CatalogSource) error
}

// LoadCatalogFile reads a source catalog from a YAML or XLSX file,
// dispatching on the file extension.
func LoadCatalogFile(path string) ([]model.CatalogSource, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return LoadYAMLCatalog(path)
	case ".xlsx":
		return LoadXLSXCatalog(path)
	default:
		return nil, eris.Errorf("catalog: unsupported file type %q", ext)
	}
}

// LoadYAMLCatalog reads catalog sources from a YAML file shaped as:
//
//	sources:
//	  - url: https://www.fedlex.admin.ch/eli/cc/24/233_245_233/fr
//	    authority: fedlex
//	    title: Code civil suisse
//	    jurisdiction: ch
//	    domain_tags: [protection_adulte]
func LoadYAMLCatalog(path string) ([]model.CatalogSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: read yaml")
	}

	var doc struct {
		Sources []model.CatalogSource `yaml:"sources"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "catalog: parse yaml")
	}

	return doc.Sources, nil
}

// xlsxCatalogColumns maps the expected header layout of an XLSX catalog:
// url, source_type, authority, title, jurisdiction, domain_tags.
const xlsxCatalogColumns = 6

// LoadXLSXCatalog reads catalog sources from the first sheet of an XLSX
// workbook. The first row is treated as a header and skipped; rows with
// an empty url cell are ignored. The domain_tags column holds a
// comma-separated list.
func LoadXLSXCatalog(path string) ([]model.CatalogSource, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("catalog: xlsx has no sheets")
	}

	var sources []model.CatalogSource
	for i, row := range f.Sheets[0].Rows {
		if i == 0 {
			continue
		}

		cells := make([]string, xlsxCatalogColumns)
		for j := 0; j < xlsxCatalogColumns && j < len(row.Cells); j++ {
			cells[j] = strings.TrimSpace(row.Cells[j].String())
		}
		if cells[0] == "" {
			continue
		}

		sources = append(sources, model.CatalogSource{
			URL:          cells[0],
			SourceType:   cells[1],
			Authority:    cells[2],
			Title:        cells[3],
			Jurisdiction: cells[4],
			DomainTags:   splitTags(cells[5]),
		})
	}

	return sources, nil
}

// ImportCatalog upserts the given sources into the store and returns how
// many were imported. Entries without a URL are skipped with a warning
// rather than aborting the import.
func ImportCatalog(ctx context.Context, st CatalogStore, sources []model.CatalogSource) (int, error) {
	imported := 0
	for _, src := range sources {
		if strings.TrimSpace(src.URL) == "" {
			zap.L().Warn("catalog entry without url skipped", zap.String("title", src.Title))
			continue
		}
		if err := st.UpsertCatalogSource(ctx, src); err != nil {
			return imported, eris.Wrapf(err, "catalog: upsert %s", src.URL)
		}
		imported++
	}
	return imported, nil
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
