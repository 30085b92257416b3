package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Kermitos690/lexveille/internal/model"
)

// Pool abstracts *pgxpool.Pool so store methods can be unit tested against
// pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS legal_instruments (
	id           TEXT PRIMARY KEY,
	uid          TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	domain_tags  JSONB,
	status       TEXT NOT NULL DEFAULT 'in_force',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS legal_versions (
	id              TEXT PRIMARY KEY,
	instrument_id   TEXT NOT NULL REFERENCES legal_instruments(id),
	version_number  INTEGER NOT NULL,
	valid_from      TIMESTAMPTZ NOT NULL,
	source_set_hash TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	keywords       JSONB,
	order_index    INTEGER NOT NULL,
	is_key_unit    BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (version_id, citation_key)
);

CREATE INDEX IF NOT EXISTS idx_legal_units_version ON legal_units(version_id);
CREATE INDEX IF NOT EXISTS idx_legal_units_hash ON legal_units(content_hash);
CREATE INDEX IF NOT EXISTS idx_legal_units_keywords ON legal_units USING GIN (keywords);

CREATE TABLE IF NOT EXISTS legal_sources (
	id         TEXT PRIMARY KEY,
	version_id TEXT NOT NULL REFERENCES legal_versions(id),
	url        TEXT NOT NULL,
	authority  TEXT,
	checksum   TEXT NOT NULL,
	is_primary BOOLEAN NOT NULL DEFAULT false,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS source_catalog (
	url          TEXT PRIMARY KEY,
	source_type  TEXT NOT NULL DEFAULT 'http',
	authority    TEXT,
	title        TEXT,
	jurisdiction TEXT,
	domain_tags  JSONB,
	added_at     TIMESTAMPTZ NOT NULL DEFAULT now()
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
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS ingestion_items (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL REFERENCES ingestion_runs(id),
	source_url    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'processing',
	content_hash  TEXT,
	units_created INTEGER NOT NULL DEFAULT 0,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ingestion_items_run ON ingestion_items(run_id);
CREATE INDEX IF NOT EXISTS idx_ingestion_items_source ON ingestion_items(source_url, created_at DESC);

CREATE TABLE IF NOT EXISTS ingestion_errors (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES ingestion_runs(id),
	source_url TEXT NOT NULL,
	stage      TEXT NOT NULL,
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS records (
	id          TEXT PRIMARY KEY,
	sender      TEXT NOT NULL,
	recipient   TEXT,
	subject     TEXT NOT NULL,
	body        TEXT NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	thread_id   TEXT,
	analyzed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_records_unanalyzed ON records(received_at) WHERE analyzed_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_records_thread ON records(thread_id);

CREATE TABLE IF NOT EXISTS record_reports (
	record_id   TEXT PRIMARY KEY REFERENCES records(id),
	sender      TEXT NOT NULL,
	report      JSONB NOT NULL,
	analyzed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_record_reports_sender ON record_reports(sender, analyzed_at DESC);

CREATE TABLE IF NOT EXISTS recurrence_patterns (
	id                 TEXT PRIMARY KEY,
	institution        TEXT NOT NULL,
	violation_type     TEXT NOT NULL,
	occurrence_count   INTEGER NOT NULL DEFAULT 1,
	first_occurrence   TIMESTAMPTZ NOT NULL,
	last_occurrence    TIMESTAMPTZ NOT NULL,
	related_record_ids JSONB NOT NULL,
	legal_implication  TEXT,
	UNIQUE (institution, violation_type)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// EnsureInstrument returns the instrument with the given uid, creating it
// from defaults if absent. The uid, not the surrogate id, is the natural key.
func (s *PostgresStore) EnsureInstrument(ctx context.Context, uid string, defaults model.LegalInstrument) (*model.LegalInstrument, error) {
	now := time.Now().UTC()
	tagsJSON, err := json.Marshal(defaults.DomainTags)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal domain tags")
	}
	status := defaults.Status
	if status == "" {
		status = model.InstrumentInForce
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO legal_instruments (id, uid, title, jurisdiction, domain_tags, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (uid) DO NOTHING`,
		uuid.New().String(), uid, defaults.Title, defaults.Jurisdiction, tagsJSON, string(status), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: ensure instrument %s", uid)
	}

	var inst model.LegalInstrument
	var tags []byte
	err = s.pool.QueryRow(ctx,
		`SELECT id, uid, title, jurisdiction, domain_tags, status, created_at, updated_at
		 FROM legal_instruments WHERE uid = $1`,
		uid,
	).Scan(&inst.ID, &inst.UID, &inst.Title, &inst.Jurisdiction, &tags, &inst.Status, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get instrument %s", uid)
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &inst.DomainTags); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal domain tags")
		}
	}
	return &inst, nil
}

// CreateVersion mints the next version number for an instrument in a single
// statement, so concurrent callers cannot allocate the same number.
func (s *PostgresStore) CreateVersion(ctx context.Context, instrumentID string, validFrom time.Time, sourceSetHash string) (*model.LegalVersion, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	var versionNumber int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO legal_versions (id, instrument_id, version_number, valid_from, source_set_hash, created_at)
		 SELECT $1, $2, COALESCE(MAX(version_number), 0) + 1, $3, $4, $5
		 FROM legal_versions WHERE instrument_id = $2
		 RETURNING version_number`,
		id, instrumentID, validFrom, sourceSetHash, now,
	).Scan(&versionNumber)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create version for instrument %s", instrumentID)
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

// PersistUnits bulk-inserts units for a version. A failure to persist one
// unit is logged and skipped; legal-text parsing is lossy at the margins and
// a partial batch is still useful. Returns the number of units persisted.
func (s *PostgresStore) PersistUnits(ctx context.Context, versionID string, units []model.LegalUnit) (int, error) {
	persisted := 0
	for _, u := range units {
		kwJSON, err := json.Marshal(u.Keywords)
		if err != nil {
			zap.L().Warn("postgres: marshal unit keywords, skipping unit",
				zap.String("citation_key", u.CitationKey),
				zap.Error(err),
			)
			continue
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO legal_units
			 (id, version_id, citation_key, unit_type, article_number, paragraph_no, letter,
			  content_text, content_hash, keywords, order_index, is_key_unit)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			uuid.New().String(), versionID, u.CitationKey, string(u.Type), u.ArticleNumber,
			u.ParagraphNo, u.Letter, u.ContentText, u.ContentHash, kwJSON, u.OrderIndex, u.IsKeyUnit,
		)
		if err != nil {
			zap.L().Warn("postgres: persist unit failed, skipping",
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

func (s *PostgresStore) AddSource(ctx context.Context, src model.LegalSource) error {
	id := src.ID
	if id == "" {
		id = uuid.New().String()
	}
	fetchedAt := src.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO legal_sources (id, version_id, url, authority, checksum, is_primary, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, src.VersionID, src.URL, src.Authority, src.Checksum, src.IsPrimary, fetchedAt,
	)
	return eris.Wrap(err, "postgres: add source")
}

func (s *PostgresStore) FindUnitsByKeyword(ctx context.Context, keywords []string, limit int) ([]model.LegalUnit, error) {
	if len(keywords) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	kwJSON, err := json.Marshal(keywords)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal keyword filter")
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, version_id, citation_key, unit_type, article_number, paragraph_no, letter,
		        content_text, content_hash, keywords, order_index, is_key_unit
		 FROM legal_units
		 WHERE keywords @> ANY (SELECT jsonb_build_array(value) FROM jsonb_array_elements($1::jsonb))
		 ORDER BY order_index LIMIT $2`,
		kwJSON, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find units by keyword")
	}
	defer rows.Close()
	return scanUnits(rows)
}

func (s *PostgresStore) FindUnitsByText(ctx context.Context, substring string, limit int) ([]model.LegalUnit, error) {
	if substring == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, version_id, citation_key, unit_type, article_number, paragraph_no, letter,
		        content_text, content_hash, keywords, order_index, is_key_unit
		 FROM legal_units
		 WHERE content_text ILIKE '%' || $1 || '%'
		 ORDER BY order_index LIMIT $2`,
		substring, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find units by text")
	}
	defer rows.Close()
	return scanUnits(rows)
}

func scanUnits(rows pgx.Rows) ([]model.LegalUnit, error) {
	var units []model.LegalUnit
	for rows.Next() {
		var u model.LegalUnit
		var kwJSON []byte
		var articleNumber, letter *string
		var paragraphNo *int
		if err := rows.Scan(&u.ID, &u.VersionID, &u.CitationKey, &u.Type, &articleNumber,
			&paragraphNo, &letter, &u.ContentText, &u.ContentHash, &kwJSON, &u.OrderIndex, &u.IsKeyUnit); err != nil {
			return nil, eris.Wrap(err, "postgres: scan unit")
		}
		if articleNumber != nil {
			u.ArticleNumber = *articleNumber
		}
		if paragraphNo != nil {
			u.ParagraphNo = *paragraphNo
		}
		if letter != nil {
			u.Letter = *letter
		}
		if len(kwJSON) > 0 {
			if err := json.Unmarshal(kwJSON, &u.Keywords); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal unit keywords")
			}
		}
		units = append(units, u)
	}
	return units, eris.Wrap(rows.Err(), "postgres: iterate units")
}

func (s *PostgresStore) UpsertCatalogSource(ctx context.Context, src model.CatalogSource) error {
	tagsJSON, err := json.Marshal(src.DomainTags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal catalog tags")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO source_catalog (url, source_type, authority, title, jurisdiction, domain_tags, added_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (url) DO UPDATE SET source_type = $2, authority = $3, title = $4, jurisdiction = $5, domain_tags = $6`,
		src.URL, src.SourceType, src.Authority, src.Title, src.Jurisdiction, tagsJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: upsert catalog source")
}

func (s *PostgresStore) ListCatalogSources(ctx context.Context, jurisdiction, domainTag string) ([]model.CatalogSource, error) {
	query := `SELECT url, source_type, authority, title, jurisdiction, domain_tags FROM source_catalog WHERE true`
	args := []any{}
	argIdx := 1

	if jurisdiction != "" {
		query += fmt.Sprintf(` AND jurisdiction = $%d`, argIdx)
		args = append(args, jurisdiction)
		argIdx++
	}
	if domainTag != "" {
		query += fmt.Sprintf(` AND domain_tags @> to_jsonb(ARRAY[$%d::text])`, argIdx)
		args = append(args, domainTag)
		argIdx++
	}
	query += ` ORDER BY url`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list catalog sources")
	}
	defer rows.Close()

	var sources []model.CatalogSource
	for rows.Next() {
		var src model.CatalogSource
		var tagsJSON []byte
		var authority, title, juris *string
		if err := rows.Scan(&src.URL, &src.SourceType, &authority, &title, &juris, &tagsJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan catalog source")
		}
		if authority != nil {
			src.Authority = *authority
		}
		if title != nil {
			src.Title = *title
		}
		if juris != nil {
			src.Jurisdiction = *juris
		}
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &src.DomainTags); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal catalog tags")
			}
		}
		sources = append(sources, src)
	}
	return sources, eris.Wrap(rows.Err(), "postgres: iterate catalog sources")
}

func (s *PostgresStore) CreateIngestionRun(ctx context.Context, mode model.FetchMode, jurisdiction, domainFilter string) (*model.IngestionRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_runs (id, mode, jurisdiction, domain_filter, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(mode), jurisdiction, domainFilter, string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create ingestion run")
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

func (s *PostgresStore) CreateIngestionItem(ctx context.Context, runID, sourceURL string) (*model.IngestionItem, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_items (id, run_id, source_url, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		id, runID, sourceURL, string(model.ItemStatusProcessing), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create ingestion item for run %s", runID)
	}
	return &model.IngestionItem{
		ID:        id,
		RunID:     runID,
		SourceURL: sourceURL,
		Status:    model.ItemStatusProcessing,
		CreatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteIngestionItem(ctx context.Context, itemID string, status model.ItemStatus, contentHash string, unitsCreated int, durationMS int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_items SET status = $1, content_hash = $2, units_created = $3, duration_ms = $4 WHERE id = $5`,
		string(status), contentHash, unitsCreated, durationMS, itemID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete ingestion item %s", itemID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ingestion item not found: %s", itemID)
	}
	return nil
}

func (s *PostgresStore) AppendIngestionError(ctx context.Context, runID, sourceURL, stage, message string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingestion_errors (id, run_id, source_url, stage, message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), runID, sourceURL, stage, message, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: append ingestion error")
}

func (s *PostgresStore) CompleteIngestionRun(ctx context.Context, run *model.IngestionRun) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs
		 SET status = $1, items_total = $2, items_success = $3, items_skipped = $4, items_failed = $5, finished_at = $6
		 WHERE id = $7`,
		string(run.Status), run.ItemsTotal, run.ItemsSuccess, run.ItemsSkipped, run.ItemsFailed,
		time.Now().UTC(), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete ingestion run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ingestion run not found: %s", run.ID)
	}
	return nil
}

// LatestItemHash returns the content hash recorded on the most recent
// successful item for a source URL, or "" when the source has never been
// ingested. Incremental runs skip a source only on an exact match.
func (s *PostgresStore) LatestItemHash(ctx context.Context, sourceURL string) (string, error) {
	var hash *string
	err := s.pool.QueryRow(ctx,
		`SELECT content_hash FROM ingestion_items
		 WHERE source_url = $1 AND status = 'success'
		 ORDER BY created_at DESC LIMIT 1`,
		sourceURL,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", eris.Wrap(err, "postgres: latest item hash")
	}
	if hash == nil {
		return "", nil
	}
	return *hash, nil
}

func (s *PostgresStore) GetIngestionRun(ctx context.Context, runID string) (*model.IngestionRun, error) {
	var r model.IngestionRun
	var jurisdiction, domainFilter *string
	var finishedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, mode, jurisdiction, domain_filter, status, items_total, items_success, items_skipped, items_failed, started_at, finished_at
		 FROM ingestion_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Mode, &jurisdiction, &domainFilter, &r.Status,
		&r.ItemsTotal, &r.ItemsSuccess, &r.ItemsSkipped, &r.ItemsFailed, &r.StartedAt, &finishedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get ingestion run %s", runID)
	}
	if jurisdiction != nil {
		r.Jurisdiction = *jurisdiction
	}
	if domainFilter != nil {
		r.DomainFilter = *domainFilter
	}
	if finishedAt != nil {
		r.FinishedAt = *finishedAt
	}
	return &r, nil
}

func (s *PostgresStore) ListIngestionRuns(ctx context.Context, filter RunFilter) ([]model.IngestionRun, error) {
	query := `SELECT id, mode, jurisdiction, domain_filter, status, items_total, items_success, items_skipped, items_failed, started_at, finished_at
	          FROM ingestion_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingestion runs")
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		var r model.IngestionRun
		var jurisdiction, domainFilter *string
		var finishedAt *time.Time
		if err := rows.Scan(&r.ID, &r.Mode, &jurisdiction, &domainFilter, &r.Status,
			&r.ItemsTotal, &r.ItemsSuccess, &r.ItemsSkipped, &r.ItemsFailed, &r.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingestion run")
		}
		if jurisdiction != nil {
			r.Jurisdiction = *jurisdiction
		}
		if domainFilter != nil {
			r.DomainFilter = *domainFilter
		}
		if finishedAt != nil {
			r.FinishedAt = *finishedAt
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate ingestion runs")
}

func (s *PostgresStore) ListIngestionErrors(ctx context.Context, runID string) ([]model.IngestionError, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, source_url, stage, message, created_at FROM ingestion_errors
		 WHERE run_id = $1 ORDER BY created_at`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingestion errors")
	}
	defer rows.Close()

	var errsOut []model.IngestionError
	for rows.Next() {
		var e model.IngestionError
		if err := rows.Scan(&e.ID, &e.RunID, &e.SourceURL, &e.Stage, &e.Message, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingestion error")
		}
		errsOut = append(errsOut, e)
	}
	return errsOut, eris.Wrap(rows.Err(), "postgres: iterate ingestion errors")
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec *model.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO records (id, sender, recipient, subject, body, received_at, thread_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Sender, rec.Recipient, rec.Subject, rec.Body, rec.ReceivedAt, rec.ThreadID,
	)
	return eris.Wrap(err, "postgres: create record")
}

func (s *PostgresStore) ListUnanalyzedRecords(ctx context.Context, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender, recipient, subject, body, received_at, thread_id FROM records
		 WHERE analyzed_at IS NULL ORDER BY received_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unanalyzed records")
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) ListThreadRecords(ctx context.Context, threadID string, before time.Time, limit int) ([]model.Record, error) {
	if threadID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, sender, recipient, subject, body, received_at, thread_id FROM records
		 WHERE thread_id = $1 AND received_at < $2 ORDER BY received_at DESC LIMIT $3`,
		threadID, before, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list thread records")
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]model.Record, error) {
	var records []model.Record
	for rows.Next() {
		var r model.Record
		var recipient, threadID *string
		if err := rows.Scan(&r.ID, &r.Sender, &recipient, &r.Subject, &r.Body, &r.ReceivedAt, &threadID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		if recipient != nil {
			r.Recipient = *recipient
		}
		if threadID != nil {
			r.ThreadID = *threadID
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate records")
}

// SaveRecordReport replaces the record's report wholesale and, unless the
// analysis was unavailable, marks the record analyzed so the next batch does
// not pick it up again. Unavailable analyses leave the record eligible for
// a retry on a later batch.
func (s *PostgresStore) SaveRecordReport(ctx context.Context, report *model.RecordReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	var sender string
	err = s.pool.QueryRow(ctx,
		`SELECT sender FROM records WHERE id = $1`, report.RecordID,
	).Scan(&sender)
	if err != nil {
		return eris.Wrapf(err, "postgres: record not found %s", report.RecordID)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO record_reports (record_id, sender, report, analyzed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (record_id) DO UPDATE SET report = $3, analyzed_at = $4`,
		report.RecordID, sender, reportJSON, report.AnalyzedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: save record report")
	}

	if !report.AnalysisUnavailable {
		_, err = s.pool.Exec(ctx,
			`UPDATE records SET analyzed_at = $1 WHERE id = $2`,
			report.AnalyzedAt, report.RecordID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: mark record analyzed %s", report.RecordID)
		}
	}
	return nil
}

func (s *PostgresStore) ListReportsBySender(ctx context.Context, sender string, limit int) ([]model.RecordReport, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT report FROM record_reports WHERE sender = $1 ORDER BY analyzed_at DESC LIMIT $2`,
		sender, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports by sender")
	}
	defer rows.Close()

	var reports []model.RecordReport
	for rows.Next() {
		var reportJSON []byte
		if err := rows.Scan(&reportJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		var rep model.RecordReport
		if err := json.Unmarshal(reportJSON, &rep); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
		reports = append(reports, rep)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: iterate reports")
}

func (s *PostgresStore) GetRecurrence(ctx context.Context, institution, violationType string) (*model.RecurrencePattern, error) {
	var p model.RecurrencePattern
	var relatedJSON []byte
	var implication *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, institution, violation_type, occurrence_count, first_occurrence, last_occurrence, related_record_ids, legal_implication
		 FROM recurrence_patterns WHERE institution = $1 AND violation_type = $2`,
		institution, violationType,
	).Scan(&p.ID, &p.Institution, &p.ViolationType, &p.OccurrenceCount,
		&p.FirstOccurrence, &p.LastOccurrence, &relatedJSON, &implication)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get recurrence")
	}
	if implication != nil {
		p.LegalImplication = *implication
	}
	if len(relatedJSON) > 0 {
		if err := json.Unmarshal(relatedJSON, &p.RelatedRecordIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal related records")
		}
	}
	return &p, nil
}

// UpsertRecurrence writes a pattern keyed by (institution, violation_type).
// The unique constraint makes concurrent first-insertions collapse onto one
// row instead of creating duplicates.
func (s *PostgresStore) UpsertRecurrence(ctx context.Context, p *model.RecurrencePattern) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	relatedJSON, err := json.Marshal(p.RelatedRecordIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal related records")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO recurrence_patterns
		 (id, institution, violation_type, occurrence_count, first_occurrence, last_occurrence, related_record_ids, legal_implication)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (institution, violation_type) DO UPDATE SET
		   occurrence_count = $4,
		   last_occurrence = GREATEST(recurrence_patterns.last_occurrence, $6),
		   related_record_ids = $7,
		   legal_implication = $8`,
		p.ID, p.Institution, p.ViolationType, p.OccurrenceCount,
		p.FirstOccurrence, p.LastOccurrence, relatedJSON, p.LegalImplication,
	)
	return eris.Wrap(err, "postgres: upsert recurrence")
}
