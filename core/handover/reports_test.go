package handover

import (
	"context"
	"testing"
	"time"

	"shiftrelay/core/store"
)

func seedDecidedHandover(t *testing.T, env *testEnv, title, decision, note string, responseMinutes int) int64 {
	t.Helper()
	ctx := context.Background()
	id := env.createIncident(t, title, "alice")
	if _, err := env.engine.InitiateHandover(ctx, id, "bob", 0, "alice", testTenant); err != nil {
		t.Fatalf("initiate %s: %v", title, err)
	}
	env.clock.Advance(time.Duration(responseMinutes) * time.Minute)
	var err error
	if decision == "accept" {
		_, err = env.engine.AcceptIncident(ctx, id, "bob", "", testTenant)
	} else {
		_, err = env.engine.RejectIncident(ctx, id, "bob", note, testTenant)
	}
	if err != nil {
		t.Fatalf("%s %s: %v", decision, title, err)
	}
	return id
}

func TestEfficiencyReport(t *testing.T) {
	env := newTestEnv(t)
	start := env.clock.Now().Add(-time.Hour)

	seedDecidedHandover(t, env, "One", "accept", "", 10)
	seedDecidedHandover(t, env, "Two", "accept", "", 20)
	seedDecidedHandover(t, env, "Three", "reject", "not relevant here", 5)
	seedDecidedHandover(t, env, "Four", "reject", "insufficient information provided", 5)

	end := env.clock.Now().Add(time.Hour)
	report, err := env.reporter.GetEfficiencyReport(context.Background(), start, end, testTenant)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	ov := report.Overview
	if ov.TotalInitiated != 4 || ov.TotalAccepted != 2 || ov.TotalRejected != 2 {
		t.Fatalf("overview = %+v", ov)
	}
	if ov.AcceptanceRate != 50 || ov.RejectionRate != 50 {
		t.Fatalf("rates = %v/%v, want 50/50", ov.AcceptanceRate, ov.RejectionRate)
	}
	if ov.AvgResponseTimeMinutes != 15 {
		t.Fatalf("avg response = %v, want 15 (accepted only)", ov.AvgResponseTimeMinutes)
	}
	if len(report.DailyTrends) != 1 {
		t.Fatalf("daily trends = %+v", report.DailyTrends)
	}
	trend := report.DailyTrends[0]
	if trend.Initiated != 4 || trend.Accepted != 2 || trend.Rejected != 2 {
		t.Fatalf("trend = %+v", trend)
	}
	// 50% acceptance, 15m response: 0.5*0.7 + 0.75*0.3 = 0.575 -> C.
	if report.PerformanceGrade != "C" {
		t.Fatalf("grade = %s, want C", report.PerformanceGrade)
	}
}

func TestRejectionReasonBuckets(t *testing.T) {
	env := newTestEnv(t)
	start := env.clock.Now().Add(-time.Hour)

	seedDecidedHandover(t, env, "R1", "reject", "This is not relevant to my queue", 1)
	seedDecidedHandover(t, env, "R2", "reject", "irrelevant alert", 1)
	seedDecidedHandover(t, env, "R3", "reject", "already resolved yesterday", 1)
	seedDecidedHandover(t, env, "R4", "reject", "wrong team entirely", 1)
	seedDecidedHandover(t, env, "R5", "reject", "no idea what this is", 1)

	end := env.clock.Now().Add(time.Hour)
	report, err := env.reporter.GetEfficiencyReport(context.Background(), start, end, testTenant)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	byCategory := map[string]RejectionReason{}
	for _, reason := range report.RejectionReasons {
		byCategory[reason.Category] = reason
	}
	if byCategory["Not Relevant"].Count != 2 {
		t.Fatalf("Not Relevant = %+v", byCategory["Not Relevant"])
	}
	if byCategory["Not Relevant"].Percentage != 40 {
		t.Fatalf("Not Relevant pct = %v, want 40", byCategory["Not Relevant"].Percentage)
	}
	if byCategory["Already Resolved"].Count != 1 || byCategory["Wrong Assignment"].Count != 1 || byCategory["Other"].Count != 1 {
		t.Fatalf("buckets = %+v", byCategory)
	}
	// Top bucket sorts first.
	if report.RejectionReasons[0].Category != "Not Relevant" {
		t.Fatalf("first bucket = %s", report.RejectionReasons[0].Category)
	}
}

func TestEngineerSummaryReport(t *testing.T) {
	env := newTestEnv(t)

	seedDecidedHandover(t, env, "E1", "accept", "", 10)
	seedDecidedHandover(t, env, "E2", "accept", "", 30)
	seedDecidedHandover(t, env, "E3", "reject", "duplicate incident", 20)

	summary, err := env.reporter.GetEngineerSummary(context.Background(), "bob", 30, testTenant)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.HandoversReceived != 3 {
		t.Fatalf("received = %d, want 3", summary.HandoversReceived)
	}
	if summary.HandoversAccepted != 2 || summary.HandoversRejected != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.AvgResponseTimeMinutes != 20 {
		t.Fatalf("avg response = %v, want 20", summary.AvgResponseTimeMinutes)
	}
	if summary.AcceptanceRate != 66.67 {
		t.Fatalf("acceptance rate = %v, want 66.67", summary.AcceptanceRate)
	}
	if summary.TotalActions != 3 {
		t.Fatalf("total actions = %d, want 3", summary.TotalActions)
	}

	// An engineer with no activity gets a zeroed summary, not an error.
	idle, err := env.reporter.GetEngineerSummary(context.Background(), "carol", 30, testTenant)
	if err != nil {
		t.Fatalf("idle summary: %v", err)
	}
	if idle.HandoversReceived != 0 || idle.TotalActions != 0 {
		t.Fatalf("idle summary = %+v", idle)
	}
}

func TestAuditExportDenormalizesIncidents(t *testing.T) {
	env := newTestEnv(t)
	start := env.clock.Now().Add(-time.Hour)
	id := seedDecidedHandover(t, env, "Export me", "accept", "", 10)
	end := env.clock.Now().Add(time.Hour)

	records, err := env.reporter.ExportAuditLog(context.Background(), start, end, testTenant)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want initiate + accept", len(records))
	}
	// Newest first.
	if records[0].ActionType != store.ActionAccepted || records[1].ActionType != store.ActionInitiated {
		t.Fatalf("order = %s, %s", records[0].ActionType, records[1].ActionType)
	}
	for _, rec := range records {
		if rec.IncidentID != id {
			t.Fatalf("incident id = %d", rec.IncidentID)
		}
		if rec.IncidentTitle != "Export me" || rec.IncidentPriority != "high" {
			t.Fatalf("denormalized fields = %+v", rec)
		}
	}
}
