package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kermitos690/lexveille/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_EnsureInstrument_CreatesThenReads(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO legal_instruments`).
		WithArgs(pgxmock.AnyArg(), "CC-CH", "Code civil", "CH", pgxmock.AnyArg(), "in_force", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT id, uid, title, jurisdiction, domain_tags, status, created_at, updated_at`).
		WithArgs("CC-CH").
		WillReturnRows(pgxmock.NewRows([]string{"id", "uid", "title", "jurisdiction", "domain_tags", "status", "created_at", "updated_at"}).
			AddRow("inst-1", "CC-CH", "Code civil", "CH", []byte(`["protection","curatelle"]`), "in_force", now, now))

	inst, err := s.EnsureInstrument(context.Background(), "CC-CH", model.LegalInstrument{
		Title:        "Code civil",
		Jurisdiction: "CH",
		DomainTags:   []string{"protection", "curatelle"},
	})
	require.NoError(t, err)
	assert.Equal(t, "inst-1", inst.ID)
	assert.Equal(t, "CC-CH", inst.UID)
	assert.Equal(t, []string{"protection", "curatelle"}, inst.DomainTags)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateVersion_AssignsNextNumber(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	validFrom := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO legal_versions .* COALESCE\(MAX\(version_number\), 0\) \+ 1`).
		WithArgs(pgxmock.AnyArg(), "inst-1", validFrom, "abc123", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"version_number"}).AddRow(3))

	v, err := s.CreateVersion(context.Background(), "inst-1", validFrom, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 3, v.VersionNumber)
	assert.Equal(t, "inst-1", v.InstrumentID)
	assert.Equal(t, "abc123", v.SourceSetHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PersistUnits_SkipsFailedUnit(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	units := []model.LegalUnit{
		{CitationKey: "art. 389", Type: model.UnitArticle, ContentText: "a", ContentHash: "h1"},
		{CitationKey: "art. 389 al. 1", Type: model.UnitParagraph, ContentText: "b", ContentHash: "h2"},
	}

	mock.ExpectExec(`INSERT INTO legal_units`).
		WithArgs(pgxmock.AnyArg(), "v-1", "art. 389", "article", "", 0, "", "a", "h1", pgxmock.AnyArg(), 0, false).
		WillReturnError(assert.AnError)
	mock.ExpectExec(`INSERT INTO legal_units`).
		WithArgs(pgxmock.AnyArg(), "v-1", "art. 389 al. 1", "paragraph", "", 0, "", "b", "h2", pgxmock.AnyArg(), 0, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := s.PersistUnits(context.Background(), "v-1", units)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestItemHash_NeverIngested(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT content_hash FROM ingestion_items`).
		WithArgs("https://fedlex.example/cc.html").
		WillReturnError(pgx.ErrNoRows)

	hash, err := s.LatestItemHash(context.Background(), "https://fedlex.example/cc.html")
	require.NoError(t, err)
	assert.Empty(t, hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestItemHash_ReturnsMostRecent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT content_hash FROM ingestion_items`).
		WithArgs("https://fedlex.example/cc.html").
		WillReturnRows(pgxmock.NewRows([]string{"content_hash"}).AddRow(strPtr("deadbeef")))

	hash, err := s.LatestItemHash(context.Background(), "https://fedlex.example/cc.html")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteIngestionItem_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingestion_items SET`).
		WithArgs("success", "hash", 4, int64(120), "missing-item").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteIngestionItem(context.Background(), "missing-item", model.ItemStatusSuccess, "hash", 4, 120)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteIngestionRun_UpdatesCounters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	run := &model.IngestionRun{
		ID:           "run-1",
		Status:       model.RunStatusCompletedWithErrors,
		ItemsTotal:   5,
		ItemsSuccess: 3,
		ItemsSkipped: 1,
		ItemsFailed:  1,
	}
	mock.ExpectExec(`UPDATE ingestion_runs`).
		WithArgs("completed_with_errors", 5, 3, 1, 1, pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.CompleteIngestionRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecurrence_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM recurrence_patterns`).
		WithArgs("Institution X", "deadline_violation").
		WillReturnError(pgx.ErrNoRows)

	p, err := s.GetRecurrence(context.Background(), "Institution X", "deadline_violation")
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRecurrence_ConflictUpdates(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	p := &model.RecurrencePattern{
		Institution:      "Service de protection",
		ViolationType:    "collaboration_refusal",
		OccurrenceCount:  4,
		FirstOccurrence:  now.Add(-72 * time.Hour),
		LastOccurrence:   now,
		RelatedRecordIDs: []string{"r1", "r2", "r3", "r4"},
		LegalImplication: "pattern suggests systematic refusal",
	}
	mock.ExpectExec(`INSERT INTO recurrence_patterns .* ON CONFLICT \(institution, violation_type\)`).
		WithArgs(pgxmock.AnyArg(), "Service de protection", "collaboration_refusal", 4,
			p.FirstOccurrence, p.LastOccurrence, pgxmock.AnyArg(), p.LegalImplication).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertRecurrence(context.Background(), p))
	assert.NotEmpty(t, p.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRecordReport_MarksAnalyzed(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	analyzedAt := time.Now().UTC()

	mock.ExpectQuery(`SELECT sender FROM records WHERE id`).
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows([]string{"sender"}).AddRow("curator@example.org"))
	mock.ExpectExec(`INSERT INTO record_reports .* ON CONFLICT \(record_id\)`).
		WithArgs("rec-1", "curator@example.org", pgxmock.AnyArg(), analyzedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE records SET analyzed_at`).
		WithArgs(analyzedAt, "rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SaveRecordReport(context.Background(), &model.RecordReport{
		RecordID:   "rec-1",
		AnalyzedAt: analyzedAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRecordReport_UnavailableLeavesRecordPending(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	analyzedAt := time.Now().UTC()

	mock.ExpectQuery(`SELECT sender FROM records WHERE id`).
		WithArgs("rec-2").
		WillReturnRows(pgxmock.NewRows([]string{"sender"}).AddRow("curator@example.org"))
	mock.ExpectExec(`INSERT INTO record_reports`).
		WithArgs("rec-2", "curator@example.org", pgxmock.AnyArg(), analyzedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// No UPDATE records expectation: an unavailable analysis must stay retryable.

	err := s.SaveRecordReport(context.Background(), &model.RecordReport{
		RecordID:            "rec-2",
		AnalysisUnavailable: true,
		AnalyzedAt:          analyzedAt,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListUnanalyzedRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	received := time.Now().UTC().Add(-time.Hour)

	mock.ExpectQuery(`SELECT id, sender, recipient, subject, body, received_at, thread_id FROM records`).
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "sender", "recipient", "subject", "body", "received_at", "thread_id"}).
			AddRow("rec-1", "a@x.org", strPtr("b@y.org"), "Refus de collaboration", "corps", received, strPtr("th-1")).
			AddRow("rec-2", "c@z.org", nil, "Relance", "corps", received, nil))

	records, err := s.ListUnanalyzedRecords(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b@y.org", records[0].Recipient)
	assert.Equal(t, "th-1", records[0].ThreadID)
	assert.Empty(t, records[1].Recipient)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
