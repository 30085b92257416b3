package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Kermitos690/lexveille/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// single-machine fallback for environments without Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS legal_instruments (
	id           TEXT PRIMARY KEY,
	uid          TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	domain_tags  TEXT,
	status       TEXT NOT NULL DEFAULT 'in_force',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS legal_versions (
	id              TEXT PRIMARY KEY,
	instrument_id   TEXT NOT NULL REFERENCES legal_instruments(id),
	version_number  INTEGER NOT NULL,
	valid_from      DATETIME NOT NULL,
	source_set_hash TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (instrument_id, version_number)
);

CREATE TABLE IF NOT EXISTS legal_units (
	id             TEXT PRIMARY KEY,
	version_id     TEXT NOT NULL REFERENCES legal_versions(id),
	citation_key   TEXT NOT NULL,
	unit_type      TEXT NOT NULL,
	article_number TEXT,
	paragraph_no   INTEGER,
	letter         TEXT,
	content_text   TEXT NOT NULL,
	content_hash   TEXT NOT NULL,
	keywords       TEXT,
	order_index    INTEGER NOT NULL,
	is_key_unit    INTEGER NOT NULL DEFAULT 0,
	UNIQUE (version_id, citation_key)
);

CREATE INDEX IF NOT EXISTS idx_legal_units_version ON legal_units(version_id);
CREATE INDEX IF NOT EXISTS idx_legal_units_hash ON legal_units(content_hash);

CREATE TABLE IF NOT EXISTS legal_sources (
	id         TEXT PRIMARY KEY,
	version_id TEXT NOT NULL REFERENCES legal_versions(id),
	url        TEXT NOT NULL,
	authority  TEXT,
	checksum   TEXT NOT NULL,
	is_primary INTEGER NOT NULL DEFAULT 0,
	fetched_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS source_catalog (
	url          TEXT PRIMARY KEY,
	source_type  TEXT NOT NULL DEFAULT 'http',
	authority    TEXT,
	title        TEXT,
	jurisdiction TEXT,
	domain_tags  TEXT,
	added_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id            TEXT PRIMARY KEY,
	mode          TEXT NOT NULL,
	jurisdiction  TEXT,
	domain_filter TEXT,
	status        TEXT NOT NULL DEFAULT 'running',
	items_total   INTEGER NOT NULL DEFAULT 0,
	items_success INTEGER NOT NULL DEFAULT 0,
	items_skipped INTEGER NOT NULL DEFAULT 0,
	items_failed  INTEGER NOT NULL DEFAULT 0,
	started_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at   DATETIME
);

CREATE TABLE IF NOT EXISTS ingestion_items (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES ingestion_runs(id),
	source_url    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'processing',
	content_hash  TEXT,
	units_created INTEGER NOT NULL DEFAULT 0,
	duration_ms   INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_ingestion_items_run ON ingestion_items(run_id);
CREATE INDEX IF NOT EXISTS idx_ingestion_items_source ON ingestion_items(source_url, created_at DESC);

CREATE TABLE IF NOT EXISTS ingestion_errors (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES ingestion_runs(id),
	source_url TEXT NOT NULL,
	stage      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	sender      TEXT NOT NULL,
	recipient   TEXT,
	subject     TEXT NOT NULL,
	body        TEXT NOT NULL,
	received_at DATETIME NOT NULL,
	thread_id   TEXT,
	analyzed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_records_thread ON records(thread_id);

CREATE TABLE IF NOT EXISTS record_reports (
	record_id   TEXT PRIMARY KEY REFERENCES records(id),
	sender      TEXT NOT NULL,
	report      TEXT NOT NULL,
	analyzed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_record_reports_sender ON record_reports(sender, analyzed_at DESC);

CREATE TABLE IF NOT EXISTS recurrence_patterns (
	id                 TEXT PRIMARY KEY,
	institution        TEXT NOT NULL,
	violation_type     TEXT NOT NULL,
	occurrence_count   INTEGER NOT NULL DEFAULT 1,
	first_occurrence   DATETIME NOT NULL,
	last_occurrence    DATETIME NOT NULL,
	related_record_ids TEXT NOT NULL,
	legal_implication  TEXT,
	UNIQUE (institution, violation_type)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}

func (s *SQLiteStore) EnsureInstrument(ctx context.Context, uid string, defaults model.LegalInstrument) (*model.LegalInstrument, error) {
	now := time.Now().UTC()
	tagsJSON, err := json.Marshal(defaults.DomainTags)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal domain tags")
	}
	status := defaults.Status
	if status == "" {
		status = model.InstrumentInForce
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO legal_instruments (id, uid, title, jurisdiction, domain_tags, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (uid) DO NOTHING`,
		uuid.New().String(), uid, defaults.Title, defaults.Jurisdiction, string(tagsJSON), string(status), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: ensure instrument %s", uid)
	}

	var inst model.LegalInstrument
	var tags sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT id, uid, title, jurisdiction, domain_tags, status, created_at, updated_at
		 FROM legal_instruments WHERE uid = ?`,
		uid,
	).Scan(&inst.ID, &inst.UID, &inst.Title, &inst.Jurisdiction, &tags, &inst.Status, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get instrument %s", uid)
	}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &inst.DomainTags); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal domain tags")
		}
	}
	return &inst, nil
}

func (s *SQLiteStore) CreateVersion(ctx context.Context, instrumentID string, validFrom time.Time, sourceSetHash string) (*model.LegalVersion, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var versionNumber int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO legal_versions (id, instrument_id, version_number, valid_from, source_set_hash, created_at)
		 SELECT ?, ?, COALESCE(MAX(version_number), 0) + 1, ?, ?, ?
		 FROM legal_versions WHERE instrument_id = ?
		 RETURNING version_number`,
		id, instrumentID, validFrom, sourceSetHash, now, instrumentID,
	).Scan(&versionNumber)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create version for instrument %s", instrumentID)
	}

	return &model.LegalVersion{
		ID:            id,
		InstrumentID:  instrumentID,
		VersionNumber: versionNumber,
		ValidFrom:     validFrom,
		SourceSetHash: sourceSetHash,
		CreatedAt:     now,
	}, nil
}

func (s *SQLiteStore) PersistUnits(ctx context.Context, versionID string, units []model.LegalUnit) (int, error) {
	persisted := 0
	for _, u := range units {
		kwJSON, err := json.Marshal(u.Keywords)
		if err != nil {
			zap.L().Warn("sqlite: marshal unit keywords, skipping unit",
				zap.String("citation_key", u.CitationKey),
				zap.Error(err),
			)
			continue
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO legal_units
			 (id, version_id, citation_key, unit_type, article_number, paragraph_no, letter,
			  content_text, content_hash, keywords, order_index, is_key_unit)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), versionID, u.CitationKey, string(u.Type), u.ArticleNumber,
			u.ParagraphNo, u.Letter, u.ContentText, u.ContentHash, string(kwJSON), u.OrderIndex, u.IsKeyUnit,
		)
		if err != nil {
			zap.L().Warn("sqlite: persist unit failed, skipping",
				zap.String("version_id", versionID),
				zap.String("citation_key", u.CitationKey),
				zap.Error(err),
			)
			continue
		}
		persisted++
	}
	return persisted, nil
}

func (s *SQLiteStore) AddSource(ctx context.Context, src model.LegalSource) error {
	id := src.ID
	if id == "" {
		id = uuid.New().String()
	}
	fetchedAt := src.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO legal_sources (id, version_id, url, authority, checksum, is_primary, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, src.VersionID, src.URL, src.Authority, src.Checksum, src.IsPrimary, fetchedAt,
	)
	return eris.Wrap(err, "sqlite: add source")
}

func (s *SQLiteStore) FindUnitsByKeyword(ctx context.Context, keywords []string, limit int) ([]model.LegalUnit, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	placeholders := make([]string, len(keywords))
	args := make([]any, 0, len(keywords)+1)
	for i, kw := range keywords {
		placeholders[i] = "?"
		args = append(args, kw)
	}
	args = append(args, limit)

	query := fmt.Sprintf(
		`SELECT id, version_id, citation_key, unit_type, article_number, paragraph_no, letter,
		        content_text, content_hash, keywords, order_index, is_key_unit
		 FROM legal_units
		 WHERE EXISTS (SELECT 1 FROM json_each(legal_units.keywords) WHERE value IN (%s))
		 ORDER BY order_index LIMIT ?`,
		strings.Join(placeholders, ", "),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find units by keyword")
	}
	defer rows.Close()
	return scanSQLiteUnits(rows)
}

func (s *SQLiteStore) FindUnitsByText(ctx context.Context, substring string, limit int) ([]model.LegalUnit, error) {
	if substring == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version_id, citation_key, unit_type, article_number, paragraph_no, letter,
		        content_text, content_hash, keywords, order_index, is_key_unit
		 FROM legal_units
		 WHERE content_text LIKE '%' || ? || '%'
		 ORDER BY order_index LIMIT ?`,
		substring, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find units by text")
	}
	defer rows.Close()
	return scanSQLiteUnits(rows)
}

func scanSQLiteUnits(rows *sql.Rows) ([]model.LegalUnit, error) {
	var units []model.LegalUnit
	for rows.Next() {
		var u model.LegalUnit
		var kwJSON, articleNumber, letter sql.NullString
		var paragraphNo sql.NullInt64
		if err := rows.Scan(&u.ID, &u.VersionID, &u.CitationKey, &u.Type, &articleNumber,
			&paragraphNo, &letter, &u.ContentText, &u.ContentHash, &kwJSON, &u.OrderIndex, &u.IsKeyUnit); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan unit")
		}
		u.ArticleNumber = articleNumber.String
		u.ParagraphNo = int(paragraphNo.Int64)
		u.Letter = letter.String
		if kwJSON.Valid && kwJSON.String != "" {
			if err := json.Unmarshal([]byte(kwJSON.String), &u.Keywords); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal unit keywords")
			}
		}
		units = append(units, u)
	}
	return units, eris.Wrap(rows.Err(), "sqlite: iterate units")
}

func (s *SQLiteStore) UpsertCatalogSource(ctx context.Context, src model.CatalogSource) error {
	tagsJSON, err := json.Marshal(src.DomainTags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal catalog tags")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO source_catalog (url, source_type, authority, title, jurisdiction, domain_tags, added_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (url) DO UPDATE SET source_type = excluded.source_type, authority = excluded.authority,
		   title = excluded.title, jurisdiction = excluded.jurisdiction, domain_tags = excluded.domain_tags`,
		src.URL, src.SourceType, src.Authority, src.Title, src.Jurisdiction, string(tagsJSON), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: upsert catalog source")
}

func (s *SQLiteStore) ListCatalogSources(ctx context.Context, jurisdiction, domainTag string) ([]model.CatalogSource, error) {
	query := `SELECT url, source_type, authority, title, jurisdiction, domain_tags FROM source_catalog WHERE 1=1`
	args := []any{}

	if jurisdiction != "" {
		query += ` AND jurisdiction = ?`
		args = append(args, jurisdiction)
	}
	if domainTag != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(source_catalog.domain_tags) WHERE value = ?)`
		args = append(args, domainTag)
	}
	query += ` ORDER BY url`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list catalog sources")
	}
	defer rows.Close()

	var sources []model.CatalogSource
	for rows.Next() {
		var src model.CatalogSource
		var authority, title, juris, tagsJSON sql.NullString
		if err := rows.Scan(&src.URL, &src.SourceType, &authority, &title, &juris, &tagsJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan catalog source")
		}
		src.Authority = authority.String
		src.Title = title.String
		src.Jurisdiction = juris.String
		if tagsJSON.Valid && tagsJSON.String != "" {
			if err := json.Unmarshal([]byte(tagsJSON.String), &src.DomainTags); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal catalog tags")
			}
		}
		sources = append(sources, src)
	}
	return sources, eris.Wrap(rows.Err(), "sqlite: iterate catalog sources")
}

func (s *SQLiteStore) CreateIngestionRun(ctx context.Context, mode model.FetchMode, jurisdiction, domainFilter string) (*model.IngestionRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_runs (id, mode, jurisdiction, domain_filter, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, string(mode), jurisdiction, domainFilter, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create ingestion run")
	}
	return &model.IngestionRun{
		ID:           id,
		Mode:         mode,
		Jurisdiction: jurisdiction,
		DomainFilter: domainFilter,
		Status:       model.RunStatusRunning,
		StartedAt:    now,
	}, nil
}

func (s *SQLiteStore) CreateIngestionItem(ctx context.Context, runID, sourceURL string) (*model.IngestionItem, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_items (id, run_id, source_url, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, runID, sourceURL, string(model.ItemStatusProcessing), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create ingestion item for run %s", runID)
	}
	return &model.IngestionItem{
		ID:        id,
		RunID:     runID,
		SourceURL: sourceURL,
		Status:    model.ItemStatusProcessing,
		CreatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteIngestionItem(ctx context.Context, itemID string, status model.ItemStatus, contentHash string, unitsCreated int, durationMS int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_items SET status = ?, content_hash = ?, units_created = ?, duration_ms = ? WHERE id = ?`,
		string(status), contentHash, unitsCreated, durationMS, itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete ingestion item %s", itemID)
	}
	return checkRowsAffected(res, "ingestion item", itemID)
}

func (s *SQLiteStore) AppendIngestionError(ctx context.Context, runID, sourceURL, stage, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_errors (id, run_id, source_url, stage, message, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, sourceURL, stage, message, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: append ingestion error")
}

func (s *SQLiteStore) CompleteIngestionRun(ctx context.Context, run *model.IngestionRun) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs
		 SET status = ?, items_total = ?, items_success = ?, items_skipped = ?, items_failed = ?, finished_at = ?
		 WHERE id = ?`,
		string(run.Status), run.ItemsTotal, run.ItemsSuccess, run.ItemsSkipped, run.ItemsFailed,
		time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete ingestion run %s", run.ID)
	}
	return checkRowsAffected(res, "ingestion run", run.ID)
}

func (s *SQLiteStore) LatestItemHash(ctx context.Context, sourceURL string) (string, error) {
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM ingestion_items
		 WHERE source_url = ? AND status = 'success'
		 ORDER BY created_at DESC LIMIT 1`,
		sourceURL,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrap(err, "sqlite: latest item hash")
	}
	return hash.String, nil
}

func (s *SQLiteStore) GetIngestionRun(ctx context.Context, runID string) (*model.IngestionRun, error) {
	var r model.IngestionRun
	var jurisdiction, domainFilter sql.NullString
	var finishedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, mode, jurisdiction, domain_filter, status, items_total, items_success, items_skipped, items_failed, started_at, finished_at
		 FROM ingestion_runs WHERE id = ?`,
		runID,
	).Scan(&r.ID, &r.Mode, &jurisdiction, &domainFilter, &r.Status,
		&r.ItemsTotal, &r.ItemsSuccess, &r.ItemsSkipped, &r.ItemsFailed, &r.StartedAt, &finishedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get ingestion run %s", runID)
	}
	r.Jurisdiction = jurisdiction.String
	r.DomainFilter = domainFilter.String
	if finishedAt.Valid {
		r.FinishedAt = finishedAt.Time
	}
	return &r, nil
}

func (s *SQLiteStore) ListIngestionRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error) {
	query := `SELECT id, mode, jurisdiction, domain_filter, status, items_total, items_success, items_skipped, items_failed, started_at, finished_at
	          FROM ingestion_runs WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingestion runs")
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		var r model.IngestionRun
		var jurisdiction, domainFilter sql.NullString
		var finishedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Mode, &jurisdiction, &domainFilter, &r.Status,
			&r.ItemsTotal, &r.ItemsSuccess, &r.ItemsSkipped, &r.ItemsFailed, &r.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ingestion run")
		}
		r.Jurisdiction = jurisdiction.String
		r.DomainFilter = domainFilter.String
		if finishedAt.Valid {
			r.FinishedAt = finishedAt.Time
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate ingestion runs")
}

func (s *SQLiteStore) ListIngestionErrors(ctx context.Context, runID string) ([]model.IngestionError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, source_url, stage, message, created_at FROM ingestion_errors
		 WHERE run_id = ? ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingestion errors")
	}
	defer rows.Close()

	var errsOut []model.IngestionError
	for rows.Next() {
		var e model.IngestionError
		if err := rows.Scan(&e.ID, &e.RunID, &e.SourceURL, &e.Stage, &e.Message, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ingestion error")
		}
		errsOut = append(errsOut, e)
	}
	return errsOut, eris.Wrap(rows.Err(), "sqlite: iterate ingestion errors")
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *model.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, sender, recipient, subject, body, received_at, thread_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Sender, rec.Recipient, rec.Subject, rec.Body, rec.ReceivedAt, rec.ThreadID,
	)
	return eris.Wrap(err, "sqlite: create record")
}

func (s *SQLiteStore) ListUnanalyzedRecords(ctx context.Context, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, recipient, subject, body, received_at, thread_id FROM records
		 WHERE analyzed_at IS NULL ORDER BY received_at LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unanalyzed records")
	}
	defer rows.Close()
	return scanSQLiteRecords(rows)
}

func (s *SQLiteStore) ListThreadRecords(ctx context.Context, threadID string, before time.Time, limit int) ([]model.Record, error) {
	if threadID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sender, recipient, subject, body, received_at, thread_id FROM records
		 WHERE thread_id = ? AND received_at < ? ORDER BY received_at DESC LIMIT ?`,
		threadID, before, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list thread records")
	}
	defer rows.Close()
	return scanSQLiteRecords(rows)
}

func scanSQLiteRecords(rows *sql.Rows) ([]model.Record, error) {
	var records []model.Record
	for rows.Next() {
		var r model.Record
		var recipient, threadID sql.NullString
		if err := rows.Scan(&r.ID, &r.Sender, &recipient, &r.Subject, &r.Body, &r.ReceivedAt, &threadID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		r.Recipient = recipient.String
		r.ThreadID = threadID.String
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) SaveRecordReport(ctx context.Context, report *model.RecordReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	var sender string
	err = s.db.QueryRowContext(ctx,
		`SELECT sender FROM records WHERE id = ?`, report.RecordID,
	).Scan(&sender)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record not found %s", report.RecordID)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO record_reports (record_id, sender, report, analyzed_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (record_id) DO UPDATE SET report = excluded.report, analyzed_at = excluded.analyzed_at`,
		report.RecordID, sender, string(reportJSON), report.AnalyzedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: save record report")
	}

	if !report.AnalysisUnavailable {
		_, err = s.db.ExecContext(ctx,
			`UPDATE records SET analyzed_at = ? WHERE id = ?`,
			report.AnalyzedAt, report.RecordID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: mark record analyzed %s", report.RecordID)
		}
	}
	return nil
}

func (s *SQLiteStore) ListReportsBySender(ctx context.Context, sender string, limit int) ([]model.RecordReport, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT report FROM record_reports WHERE sender = ? ORDER BY analyzed_at DESC LIMIT ?`,
		sender, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports by sender")
	}
	defer rows.Close()

	var reports []model.RecordReport
	for rows.Next() {
		var reportJSON string
		if err := rows.Scan(&reportJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		var rep model.RecordReport
		if err := json.Unmarshal([]byte(reportJSON), &rep); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
		reports = append(reports, rep)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: iterate reports")
}

func (s *SQLiteStore) GetRecurrence(ctx context.Context, institution, violationType string) (*model.RecurrencePattern, error) {
	var p model.RecurrencePattern
	var relatedJSON string
	var implication sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, institution, violation_type, occurrence_count, first_occurrence, last_occurrence, related_record_ids, legal_implication
		 FROM recurrence_patterns WHERE institution = ? AND violation_type = ?`,
		institution, violationType,
	).Scan(&p.ID, &p.Institution, &p.ViolationType, &p.OccurrenceCount,
		&p.FirstOccurrence, &p.LastOccurrence, &relatedJSON, &implication)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get recurrence")
	}
	p.LegalImplication = implication.String
	if relatedJSON != "" {
		if err := json.Unmarshal([]byte(relatedJSON), &p.RelatedRecordIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal related records")
		}
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertRecurrence(ctx context.Context, p *model.RecurrencePattern) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	relatedJSON, err := json.Marshal(p.RelatedRecordIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal related records")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO recurrence_patterns
		 (id, institution, violation_type, occurrence_count, first_occurrence, last_occurrence, related_record_ids, legal_implication)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (institution, violation_type) DO UPDATE SET
		   occurrence_count = excluded.occurrence_count,
		   last_occurrence = MAX(recurrence_patterns.last_occurrence, excluded.last_occurrence),
		   related_record_ids = excluded.related_record_ids,
		   legal_implication = excluded.legal_implication`,
		p.ID, p.Institution, p.ViolationType, p.OccurrenceCount,
		p.FirstOccurrence, p.LastOccurrence, string(relatedJSON), p.LegalImplication,
	)
	return eris.Wrap(err, "sqlite: upsert recurrence")
}
