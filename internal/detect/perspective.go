// Package detect runs multi-perspective incident classification over
// communication records and tracks cross-record recurrence patterns.
package detect

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kermitos690/lexveille/internal/model"
	"github.com/Kermitos690/lexveille/internal/resilience"
	"github.com/Kermitos690/lexveille/pkg/anthropic"
)

// PerspectiveSpec is one fixed analytical lens. Perspectives share no state;
// each carries its own complete instruction set.
type PerspectiveSpec struct {
	Name         string
	Instructions string
}

const verdictContract = `Réponds uniquement avec un objet JSON de la forme:
{"incident_detected": bool, "type": string, "severity": "none"|"low"|"medium"|"high"|"critical", "evidence": [string], "description": string, "articles_violes": [string], "confidence": number de 0 à 100}
Les éléments de "evidence" sont des citations textuelles du message. Les
"articles_violes" sont des références d'articles (ex: "art. 389 al. 2 let. a").`

// DefaultPerspectives returns the fixed analytical lenses applied to every
// record.
func DefaultPerspectives() []PerspectiveSpec {
	return []PerspectiveSpec{
		{
			Name: "collaboration-duty",
			Instructions: `Tu analyses la correspondance d'institutions de protection de l'adulte et de l'enfant.
Lens unique: le message montre-t-il un refus ou une omission de collaborer
(rétention d'information, non-transmission de dossier, absence de réponse à
une demande légitime)?
` + verdictContract,
		},
		{
			Name: "consent",
			Instructions: `Tu analyses la correspondance d'institutions de protection de l'adulte et de l'enfant.
Lens unique: le message révèle-t-il une décision unilatérale prise sans
consultation ni consentement de la personne concernée ou de son représentant?
` + verdictContract,
		},
		{
			Name: "deadlines",
			Instructions: `Tu analyses la correspondance d'institutions de protection de l'adulte et de l'enfant.
Lens unique: le message révèle-t-il un délai légal ou réglementaire dépassé,
un retard de traitement injustifié ou une absence de décision dans le délai?
` + verdictContract,
		},
		{
			Name: "behavioral-contradiction",
			Instructions: `Tu analyses la correspondance d'institutions de protection de l'adulte et de l'enfant.
Lens unique: le message contredit-il des déclarations ou engagements
antérieurs du même expéditeur (voir le contexte fourni)?
` + verdictContract,
		},
		{
			Name: "document-integrity",
			Instructions: `Tu analyses la correspondance d'institutions de protection de l'adulte et de l'enfant.
Lens unique: le message suggère-t-il une altération, omission ou
falsification de pièces du dossier (dates incohérentes, pièces manquantes
mentionnées ailleurs, versions divergentes)?
` + verdictContract,
		},
	}
}

// Classifier wraps the external classification call for one perspective.
type Classifier struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
	breaker *resilience.CircuitBreaker
}

// NewClassifier creates a Classifier.
func NewClassifier(client anthropic.Client, modelID string, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.ShouldTrip = resilience.IsTransient
	return &Classifier{
		client:  client,
		model:   modelID,
		timeout: timeout,
		breaker: resilience.NewCircuitBreaker(cfg),
	}
}

// rawVerdict matches the JSON object expected from the classification
// service. Missing fields keep their zero values.
type rawVerdict struct {
	IncidentDetected bool     `json:"incident_detected"`
	Type             string   `json:"type"`
	Severity         string   `json:"severity"`
	Evidence         []string `json:"evidence"`
	Description      string   `json:"description"`
	ArticlesVioles   []string `json:"articles_violes"`
	Confidence       float64  `json:"confidence"`
}

// Classify runs one perspective over one record. It returns nil on any
// failure — call error, timeout, or unparseable response — so one broken
// perspective never blocks the others.
func (c *Classifier) Classify(ctx context.Context, recordText, contextText string, spec PerspectiveSpec) *model.DetectionVerdict {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := anthropic.MessageRequest{
		Model:     c.model,
		MaxTokens: 1024,
		System:    anthropic.BuildCachedSystemBlocks(spec.Instructions),
		Messages:  buildMessages(recordText, contextText),
	}

	resp, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.client.CreateMessage(ctx, req)
	})
	if err != nil {
		zap.L().Warn("classification call failed",
			zap.String("perspective", spec.Name),
			zap.Error(err),
		)
		return nil
	}
	resp.Usage.LogCost(c.model, spec.Name)

	return parseVerdict(extractText(resp), spec.Name)
}

func buildMessages(recordText, contextText string) []anthropic.Message {
	var b strings.Builder
	if contextText != "" {
		b.WriteString("Contexte:\n")
		b.WriteString(contextText)
		b.WriteString("\n\n")
	}
	b.WriteString("Message à analyser:\n")
	b.WriteString(recordText)
	return []anthropic.Message{{Role: "user", Content: b.String()}}
}

// parseVerdict extracts the first balanced JSON object from free text and
// maps it onto a DetectionVerdict. Returns nil when no parseable object is
// found.
func parseVerdict(text, perspective string) *model.DetectionVerdict {
	obj := firstJSONObject(text)
	if obj == "" {
		zap.L().Warn("no JSON object in classification response",
			zap.String("perspective", perspective),
		)
		return nil
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		zap.L().Warn("unparseable classification response",
			zap.String("perspective", perspective),
			zap.Error(err),
		)
		return nil
	}

	confidence := int(raw.Confidence)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}

	return &model.DetectionVerdict{
		Perspective:   perspective,
		Detected:      raw.IncidentDetected,
		ViolationType: strings.ToLower(strings.TrimSpace(raw.Type)),
		Severity:      model.ParseSeverity(strings.ToLower(strings.TrimSpace(raw.Severity))),
		Confidence:    confidence,
		Evidence:      raw.Evidence,
		Articles:      raw.ArticlesVioles,
		Description:   raw.Description,
	}
}

// extractText concatenates all text content blocks from a message response.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// firstJSONObject returns the first balanced {...} block in text, skipping
// braces inside string literals. Returns "" when no balanced object exists.
func firstJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
