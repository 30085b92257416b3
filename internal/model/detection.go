package model

import "time"

// Severity grades a detected violation.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityOrdinals maps severities to a total order for comparisons.
var severityOrdinals = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Ordinal returns the rank of s (none=0 .. critical=4). Unknown severities
// rank as none.
func (s Severity) Ordinal() int {
	return severityOrdinals[s]
}

// ParseSeverity normalizes a raw severity string, defaulting to none.
func ParseSeverity(raw string) Severity {
	s := Severity(raw)
	if _, ok := severityOrdinals[s]; !ok {
		return SeverityNone
	}
	return s
}

// Record is a persisted communication record consumed by the analysis
// orchestrator.
type Record struct {
	ID         string    `json:"id"`
	Sender     string    `json:"sender"`
	Recipient  string    `json:"recipient,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	ThreadID   string    `json:"thread_id,omitempty"`
}

// DetectionVerdict is the output of one perspective for one record.
type DetectionVerdict struct {
	Perspective   string   `json:"perspective"`
	Detected      bool     `json:"detected"`
	ViolationType string   `json:"violation_type"`
	Severity      Severity `json:"severity"`
	Confidence    int      `json:"confidence"` // 0-100
	Evidence      []string `json:"evidence,omitempty"`
	Articles      []string `json:"articles,omitempty"` // asserted legal-article references
	Description   string   `json:"description,omitempty"`
}

// RecordReport is the synthesized detection report attached to a record.
// Each analysis pass replaces the prior report wholesale.
type RecordReport struct {
	RecordID            string             `json:"record_id"`
	Verdicts            []DetectionVerdict `json:"verdicts"`
	MaxSeverity         Severity           `json:"max_severity"`
	Articles            []string           `json:"articles,omitempty"` // deduplicated union
	CorpusCitations     []string           `json:"corpus_citations,omitempty"`
	PerspectivesRun     int                `json:"perspectives_run"`
	PerspectivesFailed  int                `json:"perspectives_failed"`
	AnalysisUnavailable bool               `json:"analysis_unavailable"` // every perspective failed
	AnalyzedAt          time.Time          `json:"analyzed_at"`
}

// RecurrencePattern is the persistent counter for repeated violations by
// one institution. Exactly one row exists per (institution, violation_type);
// OccurrenceCount only increases and LastOccurrence never moves backwards.
type RecurrencePattern struct {
	ID               string    `json:"id"`
	Institution      string    `json:"institution"`
	ViolationType    string    `json:"violation_type"`
	OccurrenceCount  int       `json:"occurrence_count"`
	FirstOccurrence  time.Time `json:"first_occurrence"`
	LastOccurrence   time.Time `json:"last_occurrence"`
	RelatedRecordIDs []string  `json:"related_record_ids"`
	LegalImplication string    `json:"legal_implication,omitempty"`
}

// Incident is the durable entity emitted to the case dashboard for an
// accepted high-confidence verdict.
type Incident struct {
	Title           string   `json:"title"`
	Facts           string   `json:"facts"`
	Institution     string   `json:"institution"`
	Type            string   `json:"type"`
	SeverityLabel   string   `json:"severity_label"`
	PriorityLabel   string   `json:"priority_label"`
	SourceRecordID  string   `json:"source_record_id"`
	ConfidenceLabel string   `json:"confidence_label"`
	Score           int      `json:"score"`
	Evidence        []string `json:"evidence_payload,omitempty"`
}

// Alert is emitted alongside an incident for high and critical verdicts only.
type Alert struct {
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	Type              string   `json:"type"`
	Severity          Severity `json:"severity"`
	RelatedIncidentID string   `json:"related_incident_id,omitempty"`
	RelatedRecordID   string   `json:"related_record_id"`
	LegalReferences   []string `json:"legal_references,omitempty"`
}
