package detect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kermitos690/lexveille/internal/model"
)

// stubClassifier returns canned verdicts keyed by perspective name. A
// missing entry simulates a classification failure (nil verdict).
type stubClassifier struct {
	verdicts map[string]*model.DetectionVerdict
}

func (s *stubClassifier) Classify(_ context.Context, _, _ string, spec PerspectiveSpec) *model.DetectionVerdict {
	v := s.verdicts[spec.Name]
	if v == nil {
		return nil
	}
	cp := *v
	cp.Perspective = spec.Name
	return &cp
}

func namedPerspectives(names ...string) []PerspectiveSpec {
	specs := make([]PerspectiveSpec, len(names))
	for i, n := range names {
		specs[i] = PerspectiveSpec{Name: n, Instructions: "lens " + n}
	}
	return specs
}

func testRecord() model.Record {
	return model.Record{ID: "rec-1", Sender: "greffe@institution.ch", Subject: "Décision", Body: "corps"}
}

func TestAnalyze_OneFailingPerspectiveDoesNotBlockOthers(t *testing.T) {
	detected := &model.DetectionVerdict{Detected: true, ViolationType: "x", Severity: model.SeverityLow, Confidence: 80}
	agg := NewAggregator(&stubClassifier{verdicts: map[string]*model.DetectionVerdict{
		"p1": detected,
		"p2": detected,
		// p3 always fails
		"p4": detected,
		"p5": detected,
	}}, namedPerspectives("p1", "p2", "p3", "p4", "p5"), 50, nil)

	report := agg.Analyze(context.Background(), testRecord(), "")
	assert.Len(t, report.Verdicts, 4)
	assert.Equal(t, 5, report.PerspectivesRun)
	assert.Equal(t, 1, report.PerspectivesFailed)
	assert.False(t, report.AnalysisUnavailable)
}

func TestAnalyze_ConfidenceFilter(t *testing.T) {
	agg := NewAggregator(&stubClassifier{verdicts: map[string]*model.DetectionVerdict{
		"p1": {Detected: true, Confidence: 80, Severity: model.SeverityMedium},
		"p2": {Detected: true, Confidence: 30, Severity: model.SeverityHigh},
		"p3": {Detected: false, Confidence: 0},
	}}, namedPerspectives("p1", "p2", "p3"), 50, nil)

	report := agg.Analyze(context.Background(), testRecord(), "")
	require.Len(t, report.Verdicts, 1)
	assert.Equal(t, "p1", report.Verdicts[0].Perspective)
	// The rejected high-severity verdict must not influence the merged severity.
	assert.Equal(t, model.SeverityMedium, report.MaxSeverity)
}

func TestAnalyze_MaxSeverityFirstSeenTie(t *testing.T) {
	agg := NewAggregator(&stubClassifier{verdicts: map[string]*model.DetectionVerdict{
		"p1": {Detected: true, Confidence: 90, Severity: model.SeverityHigh, ViolationType: "first"},
		"p2": {Detected: true, Confidence: 90, Severity: model.SeverityHigh, ViolationType: "second"},
	}}, namedPerspectives("p1", "p2"), 50, nil)

	report := agg.Analyze(context.Background(), testRecord(), "")
	assert.Equal(t, model.SeverityHigh, report.MaxSeverity)
	require.Len(t, report.Verdicts, 2)
	assert.Equal(t, "first", report.Verdicts[0].ViolationType)
}

func TestAnalyze_ArticleDedup(t *testing.T) {
	agg := NewAggregator(&stubClassifier{verdicts: map[string]*model.DetectionVerdict{
		"p1": {Detected: true, Confidence: 80, Articles: []string{"art. 389 CC", "art. 449b CC"}},
		"p2": {Detected: true, Confidence: 80, Articles: []string{"art. 449b CC", "art. 450 CC"}},
	}}, namedPerspectives("p1", "p2"), 50, nil)

	report := agg.Analyze(context.Background(), testRecord(), "")
	assert.Equal(t, []string{"art. 389 CC", "art. 449b CC", "art. 450 CC"}, report.Articles)
}

func TestAnalyze_AllPerspectivesFailSetsUnavailable(t *testing.T) {
	agg := NewAggregator(&stubClassifier{}, namedPerspectives("p1", "p2", "p3"), 50, nil)

	report := agg.Analyze(context.Background(), testRecord(), "")
	assert.Empty(t, report.Verdicts)
	assert.True(t, report.AnalysisUnavailable)
	assert.Equal(t, model.SeverityNone, report.MaxSeverity)
}

// fakeCorpus serves citation lookups from fixed unit lists.
type fakeCorpus struct {
	byText    map[string][]model.LegalUnit
	byKeyword []model.LegalUnit
}

func (f *fakeCorpus) FindUnitsByText(_ context.Context, substring string, _ int) ([]model.LegalUnit, error) {
	return f.byText[substring], nil
}

func (f *fakeCorpus) FindUnitsByKeyword(_ context.Context, _ []string, _ int) ([]model.LegalUnit, error) {
	return f.byKeyword, nil
}

func TestAnalyze_CitationEnrichmentByText(t *testing.T) {
	corpusIdx := &fakeCorpus{byText: map[string][]model.LegalUnit{
		"art. 449b CC": {{CitationKey: "art. 449b"}},
	}}
	agg := NewAggregator(&stubClassifier{verdicts: map[string]*model.DetectionVerdict{
		"p1": {Detected: true, Confidence: 80, Articles: []string{"art. 449b CC"}},
	}}, namedPerspectives("p1"), 50, corpusIdx)

	report := agg.Analyze(context.Background(), testRecord(), "")
	assert.Equal(t, []string{"art. 449b"}, report.CorpusCitations)
}

func TestAnalyze_CitationFallbackToKeywords(t *testing.T) {
	corpusIdx := &fakeCorpus{byKeyword: []model.LegalUnit{{CitationKey: "art. 389 al. 1"}}}
	agg := NewAggregator(&stubClassifier{verdicts: map[string]*model.DetectionVerdict{
		"p1": {Detected: true, Confidence: 80, Description: "La curatelle imposée sans consultation préalable."},
	}}, namedPerspectives("p1"), 50, corpusIdx)

	report := agg.Analyze(context.Background(), testRecord(), "")
	assert.Equal(t, []string{"art. 389 al. 1"}, report.CorpusCitations)
}
