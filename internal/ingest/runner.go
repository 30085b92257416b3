// Package ingest drives corpus ingestion runs: it walks the source
// catalog, fetches each document, detects changes by content hash, parses
// the text into citable units, and records every outcome in the ingestion
// ledger.
package ingest

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Kermitos690/lexveille/internal/corpus"
	"github.com/Kermitos690/lexveille/internal/fetcher"
	"github.com/Kermitos690/lexveille/internal/model"
)

// RunnerStore is the slice of the persistence layer the runner needs.
type RunnerStore interface {
	ListCatalogSources(ctx context.Context, jurisdiction, domainTag string) ([]model.CatalogSource, error)
	CreateIngestionRun(ctx context.Context, mode model.FetchMode, jurisdiction, domainFilter string) (*model.IngestionRun, error)
	CreateIngestionItem(ctx context.Context, runID, sourceURL string) (*model.IngestionItem, error)
	CompleteIngestionItem(ctx context.Context, itemID string, status model.ItemStatus, contentHash string, unitsCreated int, durationMS int64) error
	AppendIngestionError(ctx context.Context, runID, sourceURL, stage, message string) error
	CompleteIngestionRun(ctx context.Context, run *model.IngestionRun) error
	LatestItemHash(ctx context.Context, sourceURL string) (string, error)
	EnsureInstrument(ctx context.Context, uid string, defaults model.LegalInstrument) (*model.LegalInstrument, error)
	CreateVersion(ctx context.Context, instrumentID string, validFrom time.Time, sourceSetHash string) (*model.LegalVersion, error)
	PersistUnits(ctx context.Context, versionID string, units []model.LegalUnit) (int, error)
	AddSource(ctx context.Context, src model.LegalSource) error
}

// Runner executes one ingestion pass over the source catalog. Sources are
// processed sequentially; a failing source is ledgered and the run moves
// on to the next one.
type Runner struct {
	store   RunnerStore
	fetcher fetcher.Fetcher
}

// NewRunner creates a Runner backed by the given store and fetcher.
func NewRunner(st RunnerStore, f fetcher.Fetcher) *Runner {
	return &Runner{store: st, fetcher: f}
}

// Run ingests every catalog source matching the jurisdiction and domain
// filters. In incremental mode a source whose fetched content hashes
// identically to its most recent successful ingestion is skipped.
//
// The returned run carries the final per-item counters. Run only returns
// an error when the run itself cannot be recorded; per-source failures
// are reflected in the counters and the error ledger instead.
func (r *Runner) Run(ctx context.Context, mode model.FetchMode, jurisdiction, domainFilter string) (*model.IngestionRun, error) {
	sources, err := r.store.ListCatalogSources(ctx, jurisdiction, domainFilter)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list catalog sources")
	}

	run, err := r.store.CreateIngestionRun(ctx, mode, jurisdiction, domainFilter)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create run")
	}

	zap.L().Info("ingestion run started",
		zap.String("run_id", run.ID),
		zap.String("mode", string(mode)),
		zap.Int("sources", len(sources)))

	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}

		status := r.processSource(ctx, run, src)

		run.ItemsTotal++
		switch status {
		case model.ItemStatusSuccess:
			run.ItemsSuccess++
		case model.ItemStatusSkipped:
			run.ItemsSkipped++
		case model.ItemStatusFailed:
			run.ItemsFailed++
		}
	}

	run.Status = model.RunStatusCompleted
	if run.ItemsFailed > 0 {
		run.Status = model.RunStatusCompletedWithErrors
	}
	run.FinishedAt = time.Now().UTC()

	if err := r.store.CompleteIngestionRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "ingest: complete run")
	}

	zap.L().Info("ingestion run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("total", run.ItemsTotal),
		zap.Int("success", run.ItemsSuccess),
		zap.Int("skipped", run.ItemsSkipped),
		zap.Int("failed", run.ItemsFailed))

	return run, nil
}

// processSource walks one source through pending -> processing ->
// {success | skipped | failed} and always records the final item state.
func (r *Runner) processSource(ctx context.Context, run *model.IngestionRun, src model.CatalogSource) model.ItemStatus {
	item, err := r.store.CreateIngestionItem(ctx, run.ID, src.URL)
	if err != nil {
		r.ledger(ctx, run.ID, src.URL, "persist", eris.Wrap(err, "ingest: create item"))
		return model.ItemStatusFailed
	}

	start := time.Now()
	fail := func(stage string, stageErr error, hash string) model.ItemStatus {
		r.ledger(ctx, run.ID, src.URL, stage, stageErr)
		if err := r.store.CompleteIngestionItem(ctx, item.ID, model.ItemStatusFailed, hash, 0, time.Since(start).Milliseconds()); err != nil {
			zap.L().Error("failed to mark ingestion item failed",
				zap.String("item_id", item.ID), zap.Error(err))
		}
		return model.ItemStatusFailed
	}

	data, err := r.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return fail("fetch", err, "")
	}

	text := string(data)
	hash, err := corpus.HashString(text)
	if err != nil {
		// A mangled payload must never silently become a version.
		return fail("parse", eris.Wrap(err, "ingest: invalid encoding"), "")
	}

	if run.Mode == model.FetchModeIncremental {
		prev, err := r.store.LatestItemHash(ctx, src.URL)
		if err != nil {
			// A broken hash lookup must not lose fresh content;
			// treat the source as never ingested.
			zap.L().Warn("latest hash lookup failed, re-ingesting",
				zap.String("url", src.URL), zap.Error(err))
		} else if prev != "" && prev == hash {
			if err := r.store.CompleteIngestionItem(ctx, item.ID, model.ItemStatusSkipped, hash, 0, time.Since(start).Milliseconds()); err != nil {
				return fail("persist", eris.Wrap(err, "ingest: complete item"), hash)
			}
			zap.L().Debug("source unchanged, skipped", zap.String("url", src.URL))
			return model.ItemStatusSkipped
		}
	}

	uid := deriveInstrumentUID(src.URL)
	units := corpus.Parse(text, uid)

	inst, err := r.store.EnsureInstrument(ctx, uid, model.LegalInstrument{
		UID:          uid,
		Title:        src.Title,
		Jurisdiction: src.Jurisdiction,
		DomainTags:   src.DomainTags,
		Status:       model.InstrumentInForce,
	})
	if err != nil {
		return fail("persist", eris.Wrap(err, "ingest: ensure instrument"), hash)
	}

	version, err := r.store.CreateVersion(ctx, inst.ID, time.Now().UTC(), hash)
	if err != nil {
		return fail("persist", eris.Wrap(err, "ingest: create version"), hash)
	}

	created, err := r.store.PersistUnits(ctx, version.ID, units)
	if err != nil {
		return fail("persist", eris.Wrap(err, "ingest: persist units"), hash)
	}

	if err := r.store.AddSource(ctx, model.LegalSource{
		VersionID: version.ID,
		URL:       src.URL,
		Authority: src.Authority,
		Checksum:  hash,
		IsPrimary: true,
		FetchedAt: time.Now().UTC(),
	}); err != nil {
		return fail("persist", eris.Wrap(err, "ingest: add source"), hash)
	}

	if err := r.store.CompleteIngestionItem(ctx, item.ID, model.ItemStatusSuccess, hash, created, time.Since(start).Milliseconds()); err != nil {
		return fail("persist", eris.Wrap(err, "ingest: complete item"), hash)
	}

	zap.L().Info("source ingested",
		zap.String("url", src.URL),
		zap.String("instrument_uid", uid),
		zap.Int("version", version.VersionNumber),
		zap.Int("units", created))
	return model.ItemStatusSuccess
}

func (r *Runner) ledger(ctx context.Context, runID, sourceURL, stage string, cause error) {
	zap.L().Warn("ingestion source failed",
		zap.String("url", sourceURL),
		zap.String("stage", stage),
		zap.Error(cause))
	if err := r.store.AppendIngestionError(ctx, runID, sourceURL, stage, cause.Error()); err != nil {
		zap.L().Error("failed to append ingestion error",
			zap.String("url", sourceURL), zap.Error(err))
	}
}

// deriveInstrumentUID builds a stable instrument identifier from the
// canonical source location: lowercased host plus path, without scheme,
// query, or trailing slash.
func deriveInstrumentUID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSuffix(rawURL, "/"))
	}
	return strings.ToLower(u.Host) + strings.TrimSuffix(u.Path, "/")
}
