package detect

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kermitos690/lexveille/internal/corpus"
	"github.com/Kermitos690/lexveille/internal/model"
)

// PerspectiveClassifier abstracts Classify so the aggregator can be tested
// without the external service.
type PerspectiveClassifier interface {
	Classify(ctx context.Context, recordText, contextText string, spec PerspectiveSpec) *model.DetectionVerdict
}

// CorpusIndex is the slice of the store the aggregator uses to back asserted
// article references with actual corpus units.
type CorpusIndex interface {
	FindUnitsByText(ctx context.Context, substring string, limit int) ([]model.LegalUnit, error)
	FindUnitsByKeyword(ctx context.Context, keywords []string, limit int) ([]model.LegalUnit, error)
}

// Aggregator fans one record out to all perspectives concurrently and
// synthesizes a single report.
type Aggregator struct {
	classifier    PerspectiveClassifier
	perspectives  []PerspectiveSpec
	minConfidence int
	corpus        CorpusIndex // nil disables citation enrichment
}

// NewAggregator creates an Aggregator over the given perspectives.
func NewAggregator(classifier PerspectiveClassifier, perspectives []PerspectiveSpec, minConfidence int, corpusIndex CorpusIndex) *Aggregator {
	if minConfidence <= 0 {
		minConfidence = 50
	}
	return &Aggregator{
		classifier:    classifier,
		perspectives:  perspectives,
		minConfidence: minConfidence,
		corpus:        corpusIndex,
	}
}

// Analyze runs every perspective concurrently and merges the verdicts. The
// returned report replaces any prior report for the record wholesale. It
// never fails: when every perspective fails the report carries the
// analysis-unavailable flag instead.
func (a *Aggregator) Analyze(ctx context.Context, rec model.Record, contextText string) *model.RecordReport {
	recordText := "Objet: " + rec.Subject + "\n\n" + rec.Body

	// Indexed results keep perspective order deterministic, so first-seen
	// tie-breaking does not depend on goroutine scheduling.
	results := make([]*model.DetectionVerdict, len(a.perspectives))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range a.perspectives {
		g.Go(func() error {
			results[i] = a.classifier.Classify(gctx, recordText, contextText, spec)
			return nil
		})
	}
	_ = g.Wait()

	report := &model.RecordReport{
		RecordID:        rec.ID,
		MaxSeverity:     model.SeverityNone,
		PerspectivesRun: len(a.perspectives),
		AnalyzedAt:      time.Now().UTC(),
	}

	for _, v := range results {
		if v == nil {
			report.PerspectivesFailed++
			continue
		}
		if !v.Detected || v.Confidence < a.minConfidence {
			continue
		}
		report.Verdicts = append(report.Verdicts, *v)
		if v.Severity.Ordinal() > report.MaxSeverity.Ordinal() {
			report.MaxSeverity = v.Severity
		}
		report.Articles = appendUnique(report.Articles, v.Articles...)
	}
	report.AnalysisUnavailable = report.PerspectivesFailed == report.PerspectivesRun && report.PerspectivesRun > 0

	if a.corpus != nil && len(report.Verdicts) > 0 {
		report.CorpusCitations = a.enrichCitations(ctx, report)
	}

	zap.L().Debug("record analyzed",
		zap.String("record_id", rec.ID),
		zap.Int("accepted_verdicts", len(report.Verdicts)),
		zap.Int("failed_perspectives", report.PerspectivesFailed),
		zap.String("max_severity", string(report.MaxSeverity)),
	)
	return report
}

// enrichCitations resolves asserted article references against the ingested
// corpus. An article reference that matches a stored unit is cited by its
// citation key; references matching nothing fall back to a keyword search
// over the verdict descriptions.
func (a *Aggregator) enrichCitations(ctx context.Context, report *model.RecordReport) []string {
	var citations []string

	for _, ref := range report.Articles {
		units, err := a.corpus.FindUnitsByText(ctx, ref, 3)
		if err != nil {
			zap.L().Warn("corpus citation lookup failed", zap.String("ref", ref), zap.Error(err))
			continue
		}
		for _, u := range units {
			citations = appendUnique(citations, u.CitationKey)
		}
	}

	if len(citations) == 0 {
		var descriptions []string
		for _, v := range report.Verdicts {
			descriptions = append(descriptions, v.Description)
		}
		keywords := corpus.ExtractKeywords(strings.Join(descriptions, " "), 5)
		if len(keywords) > 0 {
			units, err := a.corpus.FindUnitsByKeyword(ctx, keywords, 5)
			if err != nil {
				zap.L().Warn("corpus keyword lookup failed", zap.Error(err))
				return citations
			}
			for _, u := range units {
				citations = appendUnique(citations, u.CitationKey)
			}
		}
	}

	return citations
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}
