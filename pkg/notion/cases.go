package notion

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/Kermitos690/lexveille/internal/model"
)

// CaseWriter pushes incidents and alerts into the Notion case databases.
type CaseWriter struct {
	client     Client
	incidentDB string
	alertDB    string
}

// NewCaseWriter creates a CaseWriter for the given databases.
func NewCaseWriter(client Client, incidentDB, alertDB string) *CaseWriter {
	return &CaseWriter{client: client, incidentDB: incidentDB, alertDB: alertDB}
}

// PushIncident creates an incident page, or updates the existing one when a
// page for the same source record is already present. Returns the page ID.
func (w *CaseWriter) PushIncident(ctx context.Context, inc *model.Incident) (string, error) {
	existing, err := w.findByRecordID(ctx, w.incidentDB, inc.SourceRecordID)
	if err != nil {
		return "", err
	}

	props := incidentProperties(inc)
	if existing != "" {
		zap.L().Debug("notion: updating existing incident page",
			zap.String("page_id", existing),
			zap.String("record_id", inc.SourceRecordID),
		)
		if _, err := w.client.UpdatePage(ctx, existing, &notionapi.PageUpdateRequest{
			Properties: props,
		}); err != nil {
			return "", eris.Wrap(err, "notion: update incident")
		}
		return existing, nil
	}

	page, err := w.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(w.incidentDB),
		},
		Properties: props,
	})
	if err != nil {
		return "", eris.Wrap(err, "notion: create incident")
	}
	return string(page.ID), nil
}

// PushAlert creates an alert page. Alerts are never deduplicated: each
// escalation is its own page in the dashboard.
func (w *CaseWriter) PushAlert(ctx context.Context, alert *model.Alert) (string, error) {
	page, err := w.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(w.alertDB),
		},
		Properties: alertProperties(alert),
	})
	if err != nil {
		return "", eris.Wrap(err, "notion: create alert")
	}
	return string(page.ID), nil
}

// findByRecordID looks up a page whose "Record ID" property matches.
func (w *CaseWriter) findByRecordID(ctx context.Context, dbID, recordID string) (string, error) {
	if recordID == "" {
		return "", nil
	}
	resp, err := w.client.QueryDatabase(ctx, dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Record ID",
			RichText: &notionapi.TextFilterCondition{
				Equals: recordID,
			},
		},
		PageSize: 1,
	})
	if err != nil {
		return "", eris.Wrap(err, "notion: find by record id")
	}
	if len(resp.Results) == 0 {
		return "", nil
	}
	return string(resp.Results[0].ID), nil
}

func incidentProperties(inc *model.Incident) notionapi.Properties {
	return notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{{Text: &notionapi.Text{Content: inc.Title}}},
		},
		"Facts": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: truncate(inc.Facts, 1900)}}},
		},
		"Institution": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: inc.Institution}}},
		},
		"Type": notionapi.SelectProperty{
			Select: notionapi.Option{Name: inc.Type},
		},
		"Severity": notionapi.SelectProperty{
			Select: notionapi.Option{Name: inc.SeverityLabel},
		},
		"Priority": notionapi.SelectProperty{
			Select: notionapi.Option{Name: inc.PriorityLabel},
		},
		"Confidence": notionapi.SelectProperty{
			Select: notionapi.Option{Name: inc.ConfidenceLabel},
		},
		"Score": notionapi.NumberProperty{
			Number: float64(inc.Score),
		},
		"Record ID": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: inc.SourceRecordID}}},
		},
		"Evidence": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: truncate(strings.Join(inc.Evidence, "\n"), 1900)}}},
		},
	}
}

func alertProperties(alert *model.Alert) notionapi.Properties {
	return notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Title: []notionapi.RichText{{Text: &notionapi.Text{Content: alert.Title}}},
		},
		"Description": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: truncate(alert.Description, 1900)}}},
		},
		"Type": notionapi.SelectProperty{
			Select: notionapi.Option{Name: alert.Type},
		},
		"Severity": notionapi.SelectProperty{
			Select: notionapi.Option{Name: string(alert.Severity)},
		},
		"Record ID": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: alert.RelatedRecordID}}},
		},
		"Related Incident": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: alert.RelatedIncidentID}}},
		},
		"Legal References": notionapi.RichTextProperty{
			RichText: []notionapi.RichText{{Text: &notionapi.Text{Content: strings.Join(alert.LegalReferences, ", ")}}},
		},
	}
}

// truncate keeps a rich text value under Notion's 2000 character limit.
// The cut falls on a rune boundary so accented French text never yields
// an invalid UTF-8 fragment.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
