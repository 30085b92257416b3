package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Kermitos690/lexveille/internal/model"
)

// RecurrenceStore is the slice of the store the tracker mutates.
type RecurrenceStore interface {
	GetRecurrence(ctx context.Context, institution, violationType string) (*model.RecurrencePattern, error)
	UpsertRecurrence(ctx context.Context, p *model.RecurrencePattern) error
}

// aggravatingNote is written onto a pattern when a high or critical
// violation recurs.
const aggravatingNote = "Récurrence aggravante: violations répétées du même type par la même institution, " +
	"susceptible de constituer un manquement systémique (art. 454 CC, responsabilité de l'État)."

// Tracker maintains the per-(institution, violation type) recurrence
// counters. Updates to one key are serialized in-process; the unique
// constraint in the store guards against concurrent first insertions from
// other processes.
type Tracker struct {
	store RecurrenceStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker creates a Tracker backed by the given store.
func NewTracker(store RecurrenceStore) *Tracker {
	return &Tracker{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) lockFor(institution, violationType string) *sync.Mutex {
	key := institution + "\x00" + violationType
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.locks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	t.locks[key] = l
	return l
}

// RecordOccurrence counts one violation occurrence. Re-recording a record ID
// already attached to the pattern changes nothing: re-analysis must never
// inflate the count. Returns the pattern and whether it was newly created.
func (t *Tracker) RecordOccurrence(ctx context.Context, institution, violationType, recordID string, severity model.Severity) (*model.RecurrencePattern, bool, error) {
	if institution == "" || violationType == "" {
		return nil, false, eris.New("detect: institution and violation type are required")
	}

	l := t.lockFor(institution, violationType)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()

	p, err := t.store.GetRecurrence(ctx, institution, violationType)
	if err != nil {
		return nil, false, eris.Wrap(err, "detect: get recurrence")
	}

	if p == nil {
		p = &model.RecurrencePattern{
			Institution:      institution,
			ViolationType:    violationType,
			OccurrenceCount:  1,
			FirstOccurrence:  now,
			LastOccurrence:   now,
			RelatedRecordIDs: []string{recordID},
		}
		if err := t.store.UpsertRecurrence(ctx, p); err != nil {
			return nil, false, eris.Wrap(err, "detect: insert recurrence")
		}
		return p, true, nil
	}

	for _, id := range p.RelatedRecordIDs {
		if id == recordID {
			// Duplicate record: the pattern stays untouched.
			return p, false, nil
		}
	}

	p.RelatedRecordIDs = append(p.RelatedRecordIDs, recordID)
	p.OccurrenceCount++
	p.LastOccurrence = now
	if severity == model.SeverityHigh || severity == model.SeverityCritical {
		p.LegalImplication = aggravatingNote
	}

	if err := t.store.UpsertRecurrence(ctx, p); err != nil {
		return nil, false, eris.Wrap(err, "detect: update recurrence")
	}

	if p.OccurrenceCount >= 3 {
		zap.L().Info("recurrence threshold reached",
			zap.String("institution", institution),
			zap.String("violation_type", violationType),
			zap.Int("occurrences", p.OccurrenceCount),
		)
	}

	return p, false, nil
}

// PatternSummary renders a short summary line for context strings and logs.
func PatternSummary(p *model.RecurrencePattern) string {
	return fmt.Sprintf("%s: %dx %s (du %s au %s)",
		p.Institution, p.OccurrenceCount, p.ViolationType,
		p.FirstOccurrence.Format("2006-01-02"), p.LastOccurrence.Format("2006-01-02"))
}
