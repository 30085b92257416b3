package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kermitos690/lexveille/internal/model"
)

type fakeRecordCreator struct {
	records   []*model.Record
	createErr error
}

func (f *fakeRecordCreator) CreateRecord(_ context.Context, rec *model.Record) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.records = append(f.records, rec)
	return nil
}

func TestServeHealth(t *testing.T) {
	mux := buildServeMux(&fakeRecordCreator{}, func() {})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeWebhookStoresRecord(t *testing.T) {
	rc := &fakeRecordCreator{}
	triggered := false
	mux := buildServeMux(rc, func() { triggered = true })

	body := `{"sender":"greffe@institution.ch","subject":"Dossier 2024-117","body":"Nous refusons de transmettre le dossier.","thread_id":"t-1","analyze":true}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/analyze", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "record_id")
	assert.True(t, triggered)

	require.Len(t, rc.records, 1)
	stored := rc.records[0]
	assert.Equal(t, "greffe@institution.ch", stored.Sender)
	assert.Equal(t, "t-1", stored.ThreadID)
	assert.NotEmpty(t, stored.ID)
	assert.False(t, stored.ReceivedAt.IsZero())
}

func TestServeWebhookWithoutAnalyzeDoesNotTrigger(t *testing.T) {
	rc := &fakeRecordCreator{}
	triggered := false
	mux := buildServeMux(rc, func() { triggered = true })

	body := `{"sender":"greffe@institution.ch","body":"Message sans analyse immediate."}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/analyze", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, triggered)
	assert.Len(t, rc.records, 1)
}

func TestServeWebhookRejectsInvalidRequests(t *testing.T) {
	rc := &fakeRecordCreator{}
	mux := buildServeMux(rc, func() {})

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{"sender":`},
		{"missing sender", `{"body":"texte"}`},
		{"missing body", `{"sender":"greffe@institution.ch"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/analyze", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, rc.records)
}

func TestServeWebhookStoreFailure(t *testing.T) {
	rc := &fakeRecordCreator{createErr: eris.New("database unavailable")}
	mux := buildServeMux(rc, func() {})

	body := `{"sender":"greffe@institution.ch","body":"Contenu du message."}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/analyze", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
