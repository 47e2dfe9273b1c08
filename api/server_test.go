package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"shiftrelay/config"
	"shiftrelay/core/handover"
	"shiftrelay/core/store"
	"shiftrelay/core/utils"
)

type stubSender struct {
	sent int
}

func (s *stubSender) Send(ctx context.Context, to, subject, body string) error {
	s.sent++
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.AppConfig{
		DBDriver:   "sqlite",
		DBURL:      filepath.Join(dir, "api.db"),
		ListenAddr: "127.0.0.1:0",
		BaseURL:    "http://relay.local",
		Notifications: config.NotificationsConfig{
			ReminderThresholdMinutes:   30,
			ReminderRepeatMinutes:      30,
			EscalationThresholdMinutes: 120,
			DispatchTimeoutSec:         5,
		},
	}
	logger := utils.NewNopLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	incidents := store.NewIncidentsStore(db)
	audits := store.NewHandoverAuditStore(db)
	notifications := store.NewNotificationsStore(db)
	team := store.NewTeamStore(db)
	if _, err := team.AddMember(context.Background(), &store.TeamMember{Name: "bob", Email: "bob@example.com", AccountID: 1, TeamID: 1, Active: true}); err != nil {
		t.Fatalf("add member: %v", err)
	}
	dispatcher := handover.NewDispatcher(notifications, team, &stubSender{}, cfg.Notifications, cfg.BaseURL, logger)
	engine := handover.NewEngine(incidents, audits, team, dispatcher, cfg.Notifications, logger)
	reporter := handover.NewReporter(audits, incidents, logger)
	return NewServer(cfg, ServerDeps{Engine: engine, Reporter: reporter, Incidents: incidents, DB: db}, logger)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandoverAPIFlow(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	rec := doJSON(t, router, http.MethodPost, "/api/incidents", map[string]any{
		"title": "API flow", "priority": "high", "assigned_to": "alice", "account_id": 1, "team_id": 1,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	var inc store.Incident
	if err := json.Unmarshal(rec.Body.Bytes(), &inc); err != nil {
		t.Fatalf("decode incident: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/handover/1/initiate", map[string]any{
		"assign_to": "bob", "initiated_by": "alice", "account_id": 1, "team_id": 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("initiate = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/handover/pending?engineer=bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pending = %d", rec.Code)
	}
	var pending struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &pending)
	if pending.Count != 1 {
		t.Fatalf("pending count = %d, want 1", pending.Count)
	}

	// Wrong actor is forbidden, missing note unprocessable.
	rec = doJSON(t, router, http.MethodPost, "/api/handover/1/accept", map[string]any{"accepted_by": "carol"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong actor accept = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/handover/1/reject", map[string]any{"rejected_by": "bob"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("noteless reject = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/handover/1/accept", map[string]any{"accepted_by": "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("accept = %d: %s", rec.Code, rec.Body.String())
	}
	// Accepting again conflicts.
	rec = doJSON(t, router, http.MethodPost, "/api/handover/1/accept", map[string]any{"accepted_by": "bob"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("double accept = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/handover/1/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history = %d", rec.Code)
	}
	var history struct {
		Items []store.HandoverAction `json:"items"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &history)
	if len(history.Items) != 2 {
		t.Fatalf("history items = %d, want 2", len(history.Items))
	}

	rec = doJSON(t, router, http.MethodPost, "/api/handover/999/initiate", map[string]any{"assign_to": "bob"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown incident = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/reports/efficiency", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("efficiency = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestBulkActionIsolation(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	for i := 0; i < 2; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/incidents", map[string]any{
			"title": "Bulk", "assigned_to": "alice", "account_id": 1, "team_id": 1,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create = %d", rec.Code)
		}
	}
	// Only the first incident enters Pending; the second stays N/A.
	rec := doJSON(t, router, http.MethodPost, "/api/handover/1/initiate", map[string]any{"assign_to": "bob", "initiated_by": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("initiate = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/handover/bulk-action", map[string]any{
		"action": "accept", "actor": "bob", "incident_ids": []int64{1, 2},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk = %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Succeeded int              `json:"succeeded"`
		Failed    int              `json:"failed"`
		Errors    map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Succeeded != 1 || result.Failed != 1 {
		t.Fatalf("bulk result = %+v", result)
	}
}
