package model

import "time"

// InstrumentStatus represents the lifecycle state of a legal instrument.
type InstrumentStatus string

const (
	InstrumentInForce  InstrumentStatus = "in_force"
	InstrumentRepealed InstrumentStatus = "repealed"
	InstrumentDraft    InstrumentStatus = "draft"
)

// LegalInstrument is a named legal text (statute, regulation, ordinance).
// Created on first successful ingestion of a source and never deleted;
// only its status may change across versions.
type LegalInstrument struct {
	ID           string           `json:"id"`
	UID          string           `json:"uid"` // derived from the canonical source location
	Title        string           `json:"title"`
	Jurisdiction string           `json:"jurisdiction"`
	DomainTags   []string         `json:"domain_tags,omitempty"`
	Status       InstrumentStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// LegalVersion is one consolidated snapshot of an instrument's content.
// Version numbers are strictly increasing per instrument and never reused;
// a version is immutable once created.
type LegalVersion struct {
	ID            string    `json:"id"`
	InstrumentID  string    `json:"instrument_id"`
	VersionNumber int       `json:"version_number"`
	ValidFrom     time.Time `json:"valid_from"`
	SourceSetHash string    `json:"source_set_hash"` // hash of the full source set used to build it
	CreatedAt     time.Time `json:"created_at"`
}

// UnitType classifies a citable fragment within a version.
type UnitType string

const (
	UnitArticle   UnitType = "article"
	UnitParagraph UnitType = "paragraph"
	UnitLetter    UnitType = "letter"
)

// LegalUnit is one addressable citable fragment of a version: an article,
// a paragraph (alinea) within an article, or a lettered sub-item within a
// paragraph. CitationKey is unique within a version; ContentHash is a pure
// function of ContentText.
type LegalUnit struct {
	ID            string   `json:"id"`
	VersionID     string   `json:"version_id,omitempty"`
	CitationKey   string   `json:"citation_key"` // e.g. "art. 389 al. 2 let. a"
	Type          UnitType `json:"type"`
	ArticleNumber string   `json:"article_number,omitempty"` // suffixes like "bis" preserved
	ParagraphNo   int      `json:"paragraph_no,omitempty"`
	Letter        string   `json:"letter,omitempty"`
	ContentText   string   `json:"content_text"`
	ContentHash   string   `json:"content_hash"`
	Keywords      []string `json:"keywords,omitempty"`
	OrderIndex    int      `json:"order_index"` // document-scan order across all levels
	IsKeyUnit     bool     `json:"is_key_unit"` // articles are always key units
}

// LegalSource records where a version's text was fetched from. One version
// may have multiple sources (mirrors); exactly one is marked primary.
type LegalSource struct {
	ID        string    `json:"id"`
	VersionID string    `json:"version_id"`
	URL       string    `json:"url"`
	Authority string    `json:"authority"`
	Checksum  string    `json:"checksum"`
	IsPrimary bool      `json:"is_primary"`
	FetchedAt time.Time `json:"fetched_at"`
}

// CatalogSource is one entry of the source catalog consumed by an
// ingestion run.
type CatalogSource struct {
	URL          string   `json:"url" yaml:"url"`
	SourceType   string   `json:"source_type" yaml:"source_type"`
	Authority    string   `json:"authority" yaml:"authority"`
	Title        string   `json:"title" yaml:"title"`
	Jurisdiction string   `json:"jurisdiction" yaml:"jurisdiction"`
	DomainTags   []string `json:"domain_tags,omitempty" yaml:"domain_tags,omitempty"`
}

// FetchMode selects between full and incremental ingestion.
type FetchMode string

const (
	FetchModeFull        FetchMode = "full"
	FetchModeIncremental FetchMode = "incremental"
)

// RunStatus represents the final state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning             RunStatus = "running"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
)

// ItemStatus tracks one source through an ingestion run.
// Transitions: pending -> processing -> success | skipped | failed.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusSuccess    ItemStatus = "success"
	ItemStatusSkipped    ItemStatus = "skipped"
	ItemStatusFailed     ItemStatus = "failed"
)

// IngestionRun groups the per-source items of one ingestion pass.
// A run is never retried in place; a new run is started instead.
type IngestionRun struct {
	ID           string    `json:"id"`
	Mode         FetchMode `json:"mode"`
	Jurisdiction string    `json:"jurisdiction,omitempty"`
	DomainFilter string    `json:"domain_filter,omitempty"`
	Status       RunStatus `json:"status"`
	ItemsTotal   int       `json:"items_total"`
	ItemsSuccess int       `json:"items_success"`
	ItemsSkipped int       `json:"items_skipped"`
	ItemsFailed  int       `json:"items_failed"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitzero"`
}

// IngestionItem records the outcome for one source within a run.
type IngestionItem struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id"`
	SourceURL    string     `json:"source_url"`
	Status       ItemStatus `json:"status"`
	ContentHash  string     `json:"content_hash,omitempty"`
	UnitsCreated int        `json:"units_created"`
	DurationMS   int64      `json:"duration_ms"`
	CreatedAt    time.Time  `json:"created_at"`
}

// IngestionError is an append-only ledger entry, always attributable to
// one run and one source URL.
type IngestionError struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	SourceURL string    `json:"source_url"`
	Stage     string    `json:"stage"` // fetch, parse, persist
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
