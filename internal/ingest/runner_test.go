package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kermitos690/lexveille/internal/model"
)

const sampleStatute = `Art. 1
1. Toute personne est tenue de collaborer avec l'autorite de protection de l'adulte.
2. Le refus systematique de collaborer peut etre signale au juge.

Art. 2
1. Les delais legaux de reponse sont imperatifs pour les institutions.
`

// memRunnerStore is an in-memory RunnerStore recording everything the
// runner persists.
type memRunnerStore struct {
	catalog []model.CatalogSource

	runs        map[string]*model.IngestionRun
	items       []*model.IngestionItem
	errors      []model.IngestionError
	instruments map[string]*model.LegalInstrument
	versions    []*model.LegalVersion
	units       map[string][]model.LegalUnit
	sources     []model.LegalSource

	ensureErr  error
	versionErr error
}

func newMemRunnerStore(catalog ...model.CatalogSource) *memRunnerStore {
	return &memRunnerStore{
		catalog:     catalog,
		runs:        make(map[string]*model.IngestionRun),
		instruments: make(map[string]*model.LegalInstrument),
		units:       make(map[string][]model.LegalUnit),
	}
}

func (m *memRunnerStore) ListCatalogSources(_ context.Context, jurisdiction, domainTag string) ([]model.CatalogSource, error) {
	var out []model.CatalogSource
	for _, src := range m.catalog {
		if jurisdiction != "" && src.Jurisdiction != jurisdiction {
			continue
		}
		if domainTag != "" {
			found := false
			for _, t := range src.DomainTags {
				if t == domainTag {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, src)
	}
	return out, nil
}

func (m *memRunnerStore) CreateIngestionRun(_ context.Context, mode model.FetchMode, jurisdiction, domainFilter string) (*model.IngestionRun, error) {
	run := &model.IngestionRun{
		ID:           uuid.New().String(),
		Mode:         mode,
		Jurisdiction: jurisdiction,
		DomainFilter: domainFilter,
		Status:       model.RunStatusRunning,
		StartedAt:    time.Now().UTC(),
	}
	m.runs[run.ID] = run
	return run, nil
}

func (m *memRunnerStore) CreateIngestionItem(_ context.Context, runID, sourceURL string) (*model.IngestionItem, error) {
	item := &model.IngestionItem{
		ID:        uuid.New().String(),
		RunID:     runID,
		SourceURL: sourceURL,
		Status:    model.ItemStatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
	m.items = append(m.items, item)
	return item, nil
}

func (m *memRunnerStore) CompleteIngestionItem(_ context.Context, itemID string, status model.ItemStatus, contentHash string, unitsCreated int, durationMS int64) error {
	for _, item := range m.items {
		if item.ID == itemID {
			item.Status = status
			item.ContentHash = contentHash
			item.UnitsCreated = unitsCreated
			item.DurationMS = durationMS
			return nil
		}
	}
	return eris.New("item not found")
}

func (m *memRunnerStore) AppendIngestionError(_ context.Context, runID, sourceURL, stage, message string) error {
	m.errors = append(m.errors, model.IngestionError{
		ID: uuid.New().String(), RunID: runID, SourceURL: sourceURL,
		Stage: stage, Message: message, CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *memRunnerStore) CompleteIngestionRun(_ context.Context, run *model.IngestionRun) error {
	m.runs[run.ID] = run
	return nil
}

func (m *memRunnerStore) LatestItemHash(_ context.Context, sourceURL string) (string, error) {
	hash := ""
	for _, item := range m.items {
		if item.SourceURL == sourceURL && item.Status == model.ItemStatusSuccess {
			hash = item.ContentHash
		}
	}
	return hash, nil
}

func (m *memRunnerStore) EnsureInstrument(_ context.Context, uid string, defaults model.LegalInstrument) (*model.LegalInstrument, error) {
	if m.ensureErr != nil {
		return nil, m.ensureErr
	}
	if inst, ok := m.instruments[uid]; ok {
		return inst, nil
	}
	inst := defaults
	inst.ID = uuid.New().String()
	inst.UID = uid
	m.instruments[uid] = &inst
	return &inst, nil
}

func (m *memRunnerStore) CreateVersion(_ context.Context, instrumentID string, validFrom time.Time, sourceSetHash string) (*model.LegalVersion, error) {
	if m.versionErr != nil {
		return nil, m.versionErr
	}
	next := 1
	for _, v := range m.versions {
		if v.InstrumentID == instrumentID && v.VersionNumber >= next {
			next = v.VersionNumber + 1
		}
	}
	version := &model.LegalVersion{
		ID:            uuid.New().String(),
		InstrumentID:  instrumentID,
		VersionNumber: next,
		ValidFrom:     validFrom,
		SourceSetHash: sourceSetHash,
		CreatedAt:     time.Now().UTC(),
	}
	m.versions = append(m.versions, version)
	return version, nil
}

func (m *memRunnerStore) PersistUnits(_ context.Context, versionID string, units []model.LegalUnit) (int, error) {
	m.units[versionID] = units
	return len(units), nil
}

func (m *memRunnerStore) AddSource(_ context.Context, src model.LegalSource) error {
	m.sources = append(m.sources, src)
	return nil
}

// fakeFetcher serves canned payloads per URL.
type fakeFetcher struct {
	pages map[string]string
	errs  map[string]error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) ([]byte, error) {
	f.calls++
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return nil, eris.Errorf("no page for %s", rawURL)
	}
	return []byte(body), nil
}

func catalogSource(url string) model.CatalogSource {
	return model.CatalogSource{
		URL:          url,
		SourceType:   "html",
		Authority:    "fedlex",
		Title:        "Code civil suisse",
		Jurisdiction: "ch",
		DomainTags:   []string{"protection_adulte"},
	}
}

func TestRunnerFullRunIngestsAllSources(t *testing.T) {
	st := newMemRunnerStore(
		catalogSource("https://example.ch/cc"),
		catalogSource("https://example.ch/cpc"),
	)
	f := &fakeFetcher{pages: map[string]string{
		"https://example.ch/cc":  sampleStatute,
		"https://example.ch/cpc": sampleStatute,
	}}

	run, err := NewRunner(st, f).Run(context.Background(), model.FetchModeFull, "", "")
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.ItemsTotal)
	assert.Equal(t, 2, run.ItemsSuccess)
	assert.Equal(t, 0, run.ItemsSkipped)
	assert.Equal(t, 0, run.ItemsFailed)
	assert.False(t, run.FinishedAt.IsZero())

	require.Len(t, st.items, 2)
	for _, item := range st.items {
		assert.Equal(t, model.ItemStatusSuccess, item.Status)
		assert.NotEmpty(t, item.ContentHash)
		assert.Greater(t, item.UnitsCreated, 0)
	}

	assert.Len(t, st.instruments, 2)
	assert.Len(t, st.versions, 2)
	require.Len(t, st.sources, 2)
	assert.True(t, st.sources[0].IsPrimary)
	assert.Equal(t, st.items[0].ContentHash, st.sources[0].Checksum)
}

func TestRunnerIncrementalSkipsUnchangedSources(t *testing.T) {
	st := newMemRunnerStore(
		catalogSource("https://example.ch/cc"),
		catalogSource("https://example.ch/cpc"),
	)
	f := &fakeFetcher{pages: map[string]string{
		"https://example.ch/cc":  sampleStatute,
		"https://example.ch/cpc": sampleStatute,
	}}
	runner := NewRunner(st, f)

	first, err := runner.Run(context.Background(), model.FetchModeIncremental, "", "")
	require.NoError(t, err)
	assert.Equal(t, 2, first.ItemsSuccess)

	second, err := runner.Run(context.Background(), model.FetchModeIncremental, "", "")
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, second.Status)
	assert.Equal(t, 2, second.ItemsTotal)
	assert.Equal(t, 0, second.ItemsSuccess)
	assert.Equal(t, 2, second.ItemsSkipped)

	// No new versions were written for unchanged content.
	assert.Len(t, st.versions, 2)
}

func TestRunnerIncrementalReingestsChangedContent(t *testing.T) {
	st := newMemRunnerStore(catalogSource("https://example.ch/cc"))
	f := &fakeFetcher{pages: map[string]string{"https://example.ch/cc": sampleStatute}}
	runner := NewRunner(st, f)

	_, err := runner.Run(context.Background(), model.FetchModeIncremental, "", "")
	require.NoError(t, err)

	f.pages["https://example.ch/cc"] = sampleStatute + "\nArt. 3\n1. Nouvelle disposition applicable aux institutions concernees.\n"

	second, err := runner.Run(context.Background(), model.FetchModeIncremental, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, second.ItemsSuccess)
	assert.Equal(t, 0, second.ItemsSkipped)

	require.Len(t, st.versions, 2)
	assert.Equal(t, 1, st.versions[0].VersionNumber)
	assert.Equal(t, 2, st.versions[1].VersionNumber)
	assert.Equal(t, st.versions[0].InstrumentID, st.versions[1].InstrumentID)
}

func TestRunnerFullModeNeverSkips(t *testing.T) {
	st := newMemRunnerStore(catalogSource("https://example.ch/cc"))
	f := &fakeFetcher{pages: map[string]string{"https://example.ch/cc": sampleStatute}}
	runner := NewRunner(st, f)

	_, err := runner.Run(context.Background(), model.FetchModeFull, "", "")
	require.NoError(t, err)
	second, err := runner.Run(context.Background(), model.FetchModeFull, "", "")
	require.NoError(t, err)

	assert.Equal(t, 1, second.ItemsSuccess)
	assert.Equal(t, 0, second.ItemsSkipped)
	assert.Len(t, st.versions, 2)
}

func TestRunnerFetchFailureIsLedgeredAndRunContinues(t *testing.T) {
	st := newMemRunnerStore(
		catalogSource("https://example.ch/down"),
		catalogSource("https://example.ch/cc"),
	)
	f := &fakeFetcher{
		pages: map[string]string{"https://example.ch/cc": sampleStatute},
		errs:  map[string]error{"https://example.ch/down": eris.New("connection refused")},
	}

	run, err := NewRunner(st, f).Run(context.Background(), model.FetchModeFull, "", "")
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompletedWithErrors, run.Status)
	assert.Equal(t, 2, run.ItemsTotal)
	assert.Equal(t, 1, run.ItemsSuccess)
	assert.Equal(t, 1, run.ItemsFailed)

	require.Len(t, st.errors, 1)
	assert.Equal(t, "fetch", st.errors[0].Stage)
	assert.Equal(t, "https://example.ch/down", st.errors[0].SourceURL)
	assert.Contains(t, st.errors[0].Message, "connection refused")

	assert.Equal(t, model.ItemStatusFailed, st.items[0].Status)
	assert.Equal(t, model.ItemStatusSuccess, st.items[1].Status)
}

func TestRunnerPersistFailureUsesPersistStage(t *testing.T) {
	st := newMemRunnerStore(catalogSource("https://example.ch/cc"))
	st.ensureErr = eris.New("database unavailable")
	f := &fakeFetcher{pages: map[string]string{"https://example.ch/cc": sampleStatute}}

	run, err := NewRunner(st, f).Run(context.Background(), model.FetchModeFull, "", "")
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompletedWithErrors, run.Status)
	require.Len(t, st.errors, 1)
	assert.Equal(t, "persist", st.errors[0].Stage)
}

func TestRunnerInvalidEncodingIsLedgeredAsParseFailure(t *testing.T) {
	st := newMemRunnerStore(catalogSource("https://example.ch/mangled"))
	f := &fakeFetcher{pages: map[string]string{
		"https://example.ch/mangled": "Art. 1 \xff\xfe texte corrompu",
	}}

	run, err := NewRunner(st, f).Run(context.Background(), model.FetchModeFull, "", "")
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompletedWithErrors, run.Status)
	assert.Equal(t, 1, run.ItemsFailed)

	require.Len(t, st.errors, 1)
	assert.Equal(t, "parse", st.errors[0].Stage)
	assert.Contains(t, st.errors[0].Message, "UTF-8")

	require.Len(t, st.items, 1)
	assert.Equal(t, model.ItemStatusFailed, st.items[0].Status)
	assert.Empty(t, st.versions)
}

func TestRunnerDocumentWithoutArticlesSucceedsWithZeroUnits(t *testing.T) {
	st := newMemRunnerStore(catalogSource("https://example.ch/notice"))
	f := &fakeFetcher{pages: map[string]string{
		"https://example.ch/notice": "Avis general sans structure articulee.",
	}}

	run, err := NewRunner(st, f).Run(context.Background(), model.FetchModeFull, "", "")
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.ItemsSuccess)
	require.Len(t, st.items, 1)
	assert.Equal(t, model.ItemStatusSuccess, st.items[0].Status)
	assert.Equal(t, 0, st.items[0].UnitsCreated)
}

func TestRunnerFiltersCatalogByJurisdiction(t *testing.T) {
	fr := catalogSource("https://example.fr/cpc")
	fr.Jurisdiction = "fr"
	st := newMemRunnerStore(catalogSource("https://example.ch/cc"), fr)
	f := &fakeFetcher{pages: map[string]string{"https://example.ch/cc": sampleStatute}}

	run, err := NewRunner(st, f).Run(context.Background(), model.FetchModeFull, "ch", "")
	require.NoError(t, err)

	assert.Equal(t, 1, run.ItemsTotal)
	assert.Equal(t, "ch", run.Jurisdiction)
	assert.Equal(t, 1, f.calls)
}

func TestDeriveInstrumentUID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://www.fedlex.admin.ch/eli/cc/24/233_245_233/fr", "www.fedlex.admin.ch/eli/cc/24/233_245_233/fr"},
		{"https://Example.CH/cc/", "example.ch/cc"},
		{"ftp://mirror.example.org/laws/cc.txt", "mirror.example.org/laws/cc.txt"},
		{"not a url/", "not a url"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, deriveInstrumentUID(tc.in), tc.in)
	}
}
