package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Kermitos690/lexveille/internal/model"
)

// RecordStore is the slice of the store the orchestrator reads and writes.
type RecordStore interface {
	ListUnanalyzedRecords(ctx context.Context, limit int) ([]model.Record, error)
	ListThreadRecords(ctx context.Context, threadID string, before time.Time, limit int) ([]model.Record, error)
	SaveRecordReport(ctx context.Context, report *model.RecordReport) error
	ListReportsBySender(ctx context.Context, sender string, limit int) ([]model.RecordReport, error)
}

// CaseSink receives incident and alert writes. The Notion case writer is the
// production implementation.
type CaseSink interface {
	PushIncident(ctx context.Context, inc *model.Incident) (string, error)
	PushAlert(ctx context.Context, alert *model.Alert) (string, error)
}

// OrchestratorConfig tunes a batch run.
type OrchestratorConfig struct {
	BatchSize          int
	EscalateConfidence int
	RecordDelay        time.Duration
}

// Orchestrator drives analysis batches end to end: pull unanalyzed records,
// aggregate verdicts, persist reports, count recurrences, and emit incidents
// and alerts.
type Orchestrator struct {
	store      RecordStore
	aggregator *Aggregator
	tracker    *Tracker
	cases      CaseSink // nil disables dashboard writes
	cfg        OrchestratorConfig
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(store RecordStore, aggregator *Aggregator, tracker *Tracker, cases CaseSink, cfg OrchestratorConfig) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.EscalateConfidence <= 0 {
		cfg.EscalateConfidence = 70
	}
	return &Orchestrator{
		store:      store,
		aggregator: aggregator,
		tracker:    tracker,
		cases:      cases,
		cfg:        cfg,
	}
}

// BatchResult is the structured envelope returned by a batch run. Partial
// failures are listed, never converted into an overall failure.
type BatchResult struct {
	Processed           int      `json:"processed"`
	AnalysisUnavailable int      `json:"analysis_unavailable"`
	IncidentsCreated    int      `json:"incidents_created"`
	AlertsCreated       int      `json:"alerts_created"`
	Errors              []string `json:"errors,omitempty"`
}

// Run processes one batch of unanalyzed records sequentially, with the
// configured pause between records to respect the classification service's
// rate limits.
func (o *Orchestrator) Run(ctx context.Context) (*BatchResult, error) {
	records, err := o.store.ListUnanalyzedRecords(ctx, o.cfg.BatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "detect: list unanalyzed records")
	}

	result := &BatchResult{}
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, "batch interrupted: "+err.Error())
			break
		}

		o.processRecord(ctx, rec, result)
		result.Processed++

		if i < len(records)-1 && o.cfg.RecordDelay > 0 {
			timer := time.NewTimer(o.cfg.RecordDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
	}

	zap.L().Info("analysis batch finished",
		zap.Int("processed", result.Processed),
		zap.Int("incidents", result.IncidentsCreated),
		zap.Int("alerts", result.AlertsCreated),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (o *Orchestrator) processRecord(ctx context.Context, rec model.Record, result *BatchResult) {
	contextText := o.buildContext(ctx, rec)

	report := o.aggregator.Analyze(ctx, rec, contextText)
	if report.AnalysisUnavailable {
		result.AnalysisUnavailable++
	}

	if err := o.store.SaveRecordReport(ctx, report); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("record %s: save report: %v", rec.ID, err))
		return
	}

	institution := deriveInstitution(rec.Sender)
	for _, v := range report.Verdicts {
		pattern, _, err := o.tracker.RecordOccurrence(ctx, institution, v.ViolationType, rec.ID, v.Severity)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %s: recurrence: %v", rec.ID, err))
			continue
		}

		incident, alert := decideEscalation(rec, v, institution, pattern, o.cfg.EscalateConfidence)
		if incident == nil || o.cases == nil {
			continue
		}

		incidentID, err := o.cases.PushIncident(ctx, incident)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record %s: push incident: %v", rec.ID, err))
			continue
		}
		result.IncidentsCreated++

		if alert != nil {
			alert.RelatedIncidentID = incidentID
			if _, err := o.cases.PushAlert(ctx, alert); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("record %s: push alert: %v", rec.ID, err))
				continue
			}
			result.AlertsCreated++
		}
	}
}

// decideEscalation is the pure policy step: which verdicts become incidents,
// and which incidents also raise alerts. Incidents require confidence at or
// above the escalation threshold and at least medium severity; alerts are
// reserved for high and critical.
func decideEscalation(rec model.Record, v model.DetectionVerdict, institution string, pattern *model.RecurrencePattern, escalateConfidence int) (*model.Incident, *model.Alert) {
	if v.Confidence < escalateConfidence || v.Severity.Ordinal() < model.SeverityMedium.Ordinal() {
		return nil, nil
	}

	facts := v.Description
	if pattern != nil && pattern.OccurrenceCount > 1 {
		facts += "\n\n" + PatternSummary(pattern)
		if pattern.LegalImplication != "" {
			facts += "\n" + pattern.LegalImplication
		}
	}

	incident := &model.Incident{
		Title:           fmt.Sprintf("%s - %s", violationLabel(v.ViolationType), institution),
		Facts:           facts,
		Institution:     institution,
		Type:            v.ViolationType,
		SeverityLabel:   string(v.Severity),
		PriorityLabel:   priorityFor(v.Severity),
		SourceRecordID:  rec.ID,
		ConfidenceLabel: confidenceLabel(v.Confidence),
		Score:           v.Confidence,
		Evidence:        v.Evidence,
	}

	if v.Severity != model.SeverityHigh && v.Severity != model.SeverityCritical {
		return incident, nil
	}

	alert := &model.Alert{
		Title:           fmt.Sprintf("Escalade: %s (%s)", violationLabel(v.ViolationType), v.Severity),
		Description:     v.Description,
		Type:            v.ViolationType,
		Severity:        v.Severity,
		RelatedRecordID: rec.ID,
		LegalReferences: v.Articles,
	}
	return incident, alert
}

// buildContext assembles the context string given to every perspective:
// earlier messages of the same thread and the sender's previously detected
// behavior.
func (o *Orchestrator) buildContext(ctx context.Context, rec model.Record) string {
	var b strings.Builder

	if rec.ThreadID != "" {
		prior, err := o.store.ListThreadRecords(ctx, rec.ThreadID, rec.ReceivedAt, 5)
		if err != nil {
			zap.L().Warn("thread context lookup failed", zap.String("record_id", rec.ID), zap.Error(err))
		}
		if len(prior) > 0 {
			b.WriteString("Messages antérieurs du fil:\n")
			for i := len(prior) - 1; i >= 0; i-- {
				p := prior[i]
				fmt.Fprintf(&b, "- [%s] %s: %s\n", p.ReceivedAt.Format("2006-01-02"), p.Sender, p.Subject)
			}
			b.WriteString("\n")
		}
	}

	reports, err := o.store.ListReportsBySender(ctx, rec.Sender, 3)
	if err != nil {
		zap.L().Warn("sender history lookup failed", zap.String("sender", rec.Sender), zap.Error(err))
	}
	var history []string
	for _, r := range reports {
		for _, v := range r.Verdicts {
			history = appendUnique(history, fmt.Sprintf("%s (%s)", v.ViolationType, v.Severity))
		}
	}
	if len(history) > 0 {
		b.WriteString("Comportements déjà détectés chez cet expéditeur: ")
		b.WriteString(strings.Join(history, ", "))
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String())
}

// deriveInstitution groups senders of one organization under the domain of
// their address. Senders without a domain are kept verbatim.
func deriveInstitution(sender string) string {
	sender = strings.TrimSpace(strings.ToLower(sender))
	if at := strings.LastIndex(sender, "@"); at >= 0 && at < len(sender)-1 {
		return sender[at+1:]
	}
	return sender
}

func priorityFor(s model.Severity) string {
	switch s {
	case model.SeverityCritical:
		return "P0"
	case model.SeverityHigh:
		return "P1"
	case model.SeverityMedium:
		return "P2"
	default:
		return "P3"
	}
}

func confidenceLabel(confidence int) string {
	switch {
	case confidence >= 85:
		return "very high"
	case confidence >= 70:
		return "high"
	case confidence >= 50:
		return "medium"
	default:
		return "low"
	}
}

func violationLabel(violationType string) string {
	if violationType == "" {
		return "Incident"
	}
	label := strings.ReplaceAll(violationType, "_", " ")
	return strings.ToUpper(label[:1]) + label[1:]
}
