// Package store persists the legal corpus, the ingestion ledger, and the
// analysis state behind a single interface with Postgres and SQLite backends.
package store

import (
	"context"
	"time"

	"github.com/Kermitos690/lexveille/internal/model"
)

// RunFilter specifies criteria for listing ingestion runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface shared by ingestion and detection.
//
// Corpus rows are append-only: instruments are never deleted, versions are
// immutable once created, and ingestion errors are appended, never
// overwritten. All mutation goes through these upsert contracts; callers
// never read-modify-write rows directly.
type Store interface {
	// Corpus
	EnsureInstrument(ctx context.Context, uid string, defaults model.LegalInstrument) (*model.LegalInstrument, error)
	CreateVersion(ctx context.Context, instrumentID string, validFrom time.Time, sourceSetHash string) (*model.LegalVersion, error)
	PersistUnits(ctx context.Context, versionID string, units []model.LegalUnit) (int, error)
	AddSource(ctx context.Context, src model.LegalSource) error
	FindUnitsByKeyword(ctx context.Context, keywords []string, limit int) ([]model.LegalUnit, error)
	FindUnitsByText(ctx context.Context, substring string, limit int) ([]model.LegalUnit, error)

	// Source catalog
	UpsertCatalogSource(ctx context.Context, src model.CatalogSource) error
	ListCatalogSources(ctx context.Context, jurisdiction, domainTag string) ([]model.CatalogSource, error)

	// Ingestion ledger
	CreateIngestionRun(ctx context.Context, mode model.FetchMode, jurisdiction, domainFilter string) (*model.IngestionRun, error)
	CreateIngestionItem(ctx context.Context, runID, sourceURL string) (*model.IngestionItem, error)
	CompleteIngestionItem(ctx context.Context, itemID string, status model.ItemStatus, contentHash string, unitsCreated int, durationMS int64) error
	AppendIngestionError(ctx context.Context, runID, sourceURL, stage, message string) error
	CompleteIngestionRun(ctx context.Context, run *model.IngestionRun) error
	LatestItemHash(ctx context.Context, sourceURL string) (string, error)
	GetIngestionRun(ctx context.Context, runID string) (*model.IngestionRun, error)
	ListIngestionRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error)
	ListIngestionErrors(ctx context.Context, runID string) ([]model.IngestionError, error)

	// Records and reports
	CreateRecord(ctx context.Context, rec *model.Record) error
	ListUnanalyzedRecords(ctx context.Context, limit int) ([]model.Record, error)
	ListThreadRecords(ctx context.Context, threadID string, before time.Time, limit int) ([]model.Record, error)
	SaveRecordReport(ctx context.Context, report *model.RecordReport) error
	ListReportsBySender(ctx context.Context, sender string, limit int) ([]model.RecordReport, error)

	// Recurrence patterns
	GetRecurrence(ctx context.Context, institution, violationType string) (*model.RecurrencePattern, error)
	UpsertRecurrence(ctx context.Context, p *model.RecurrencePattern) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
