package handover

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"shiftrelay/core/store"
	"shiftrelay/core/utils"
)

type ReportPeriod struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Days      int    `json:"days"`
}

type EfficiencyOverview struct {
	TotalInitiated         int     `json:"total_initiated"`
	TotalAccepted          int     `json:"total_accepted"`
	TotalRejected          int     `json:"total_rejected"`
	AcceptanceRate         float64 `json:"acceptance_rate"`
	RejectionRate          float64 `json:"rejection_rate"`
	AvgResponseTimeMinutes float64 `json:"avg_response_time_minutes"`
}

type DailyTrend struct {
	Date      string `json:"date"`
	Initiated int    `json:"initiated"`
	Accepted  int    `json:"accepted"`
	Rejected  int    `json:"rejected"`
}

type RejectionReason struct {
	Category   string  `json:"category"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type EfficiencyReport struct {
	Period           ReportPeriod       `json:"period"`
	Overview         EfficiencyOverview `json:"overview"`
	DailyTrends      []DailyTrend       `json:"daily_trends"`
	RejectionReasons []RejectionReason  `json:"rejection_reasons"`
	PerformanceGrade string             `json:"performance_grade"`
}

type EngineerSummary struct {
	Engineer               string  `json:"engineer"`
	PeriodDays             int     `json:"period_days"`
	HandoversReceived      int     `json:"handovers_received"`
	HandoversAccepted      int     `json:"handovers_accepted"`
	HandoversRejected      int     `json:"handovers_rejected"`
	AcceptanceRate         float64 `json:"acceptance_rate"`
	AvgResponseTimeMinutes float64 `json:"avg_response_time_minutes"`
	TotalActions           int     `json:"total_actions"`
}

// AuditExportRecord is one audit row denormalized with incident context
// for external consumption.
type AuditExportRecord struct {
	Timestamp        string `json:"timestamp"`
	ActionType       string `json:"action_type"`
	IncidentID       int64  `json:"incident_id"`
	IncidentTitle    string `json:"incident_title"`
	IncidentPriority string `json:"incident_priority"`
	PerformedBy      string `json:"performed_by"`
	FromEngineer     string `json:"from_engineer,omitempty"`
	ToEngineer       string `json:"to_engineer,omitempty"`
	Notes            string `json:"notes,omitempty"`
}

// Reporter derives all reporting views from the audit trail. It only ever
// reads; corrections to history happen as new audit rows, never here.
type Reporter struct {
	audits    store.HandoverAuditStore
	incidents store.IncidentsStore
	logger    *utils.Logger
	now       func() time.Time
}

func NewReporter(audits store.HandoverAuditStore, incidents store.IncidentsStore, logger *utils.Logger) *Reporter {
	return &Reporter{
		audits:    audits,
		incidents: incidents,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the reporter clock. Tests only.
func (r *Reporter) SetNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// GetEfficiencyReport aggregates the audit trail over [start, end] into
// acceptance and response metrics, daily trend series, rejection reason
// buckets and an overall performance grade.
func (r *Reporter) GetEfficiencyReport(ctx context.Context, start, end time.Time, tenant store.Tenant) (*EfficiencyReport, error) {
	filter := store.ActionFilter{Start: start, End: end, AccountID: tenant.AccountID, TeamID: tenant.TeamID}
	actions, err := r.audits.ListActions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("efficiency report: %w", err)
	}
	counts, err := r.audits.CountByType(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("efficiency report: %w", err)
	}
	initiated := counts[store.ActionInitiated] + counts[store.ActionReassigned]
	accepted := counts[store.ActionAccepted]
	rejected := counts[store.ActionRejected]
	acceptanceRate, rejectionRate := 0.0, 0.0
	if initiated > 0 {
		acceptanceRate = float64(accepted) / float64(initiated) * 100
		rejectionRate = float64(rejected) / float64(initiated) * 100
	}
	avgResponse := averageResponseMinutes(actions, store.ActionAccepted)
	report := &EfficiencyReport{
		Period: ReportPeriod{
			StartDate: start.UTC().Format("2006-01-02"),
			EndDate:   end.UTC().Format("2006-01-02"),
			Days:      int(end.Sub(start).Hours()/24) + 1,
		},
		Overview: EfficiencyOverview{
			TotalInitiated:         initiated,
			TotalAccepted:          accepted,
			TotalRejected:          rejected,
			AcceptanceRate:         round2(acceptanceRate),
			RejectionRate:          round2(rejectionRate),
			AvgResponseTimeMinutes: round2(avgResponse),
		},
		DailyTrends:      dailyTrends(actions),
		RejectionReasons: topRejectionReasons(actions, 5),
		PerformanceGrade: performanceGrade(acceptanceRate, avgResponse),
	}
	return report, nil
}

// GetEngineerSummary reports one engineer's handover throughput over the
// last days days. Received counts initiations addressed to the engineer;
// response times pair each of their decisions with the latest initiation
// of the same incident that preceded it.
func (r *Reporter) GetEngineerSummary(ctx context.Context, engineer string, days int, tenant store.Tenant) (*EngineerSummary, error) {
	engineer = strings.TrimSpace(engineer)
	if days <= 0 {
		days = 30
	}
	end := r.now()
	start := end.AddDate(0, 0, -days)
	actions, err := r.audits.ListActions(ctx, store.ActionFilter{Start: start, End: end, AccountID: tenant.AccountID, TeamID: tenant.TeamID})
	if err != nil {
		return nil, fmt.Errorf("engineer summary: %w", err)
	}
	var performed []store.HandoverAction
	var received, acceptedCount, rejectedCount int
	initiations := map[int64][]store.HandoverAction{}
	for _, a := range actions {
		switch a.ActionType {
		case store.ActionInitiated, store.ActionReassigned:
			initiations[a.IncidentID] = append(initiations[a.IncidentID], a)
			if a.ToEngineer == engineer {
				received++
			}
		}
		if a.ActionBy != engineer {
			continue
		}
		performed = append(performed, a)
		switch a.ActionType {
		case store.ActionAccepted:
			acceptedCount++
		case store.ActionRejected:
			rejectedCount++
		}
	}
	var totalMinutes float64
	var paired int
	for _, a := range performed {
		if a.ActionType != store.ActionAccepted && a.ActionType != store.ActionRejected {
			continue
		}
		if init, ok := latestBefore(initiations[a.IncidentID], a.ActionTimestamp); ok {
			totalMinutes += a.ActionTimestamp.Sub(init).Minutes()
			paired++
		}
	}
	avgResponse := 0.0
	if paired > 0 {
		avgResponse = totalMinutes / float64(paired)
	}
	acceptanceRate := 0.0
	if received > 0 {
		acceptanceRate = float64(acceptedCount) / float64(received) * 100
	}
	return &EngineerSummary{
		Engineer:               engineer,
		PeriodDays:             days,
		HandoversReceived:      received,
		HandoversAccepted:      acceptedCount,
		HandoversRejected:      rejectedCount,
		AcceptanceRate:         round2(acceptanceRate),
		AvgResponseTimeMinutes: round2(avgResponse),
		TotalActions:           len(performed),
	}, nil
}

// ExportAuditLog returns the raw audit trail for [start, end], newest
// first, with incident title and priority joined in.
func (r *Reporter) ExportAuditLog(ctx context.Context, start, end time.Time, tenant store.Tenant) ([]AuditExportRecord, error) {
	actions, err := r.audits.ListActions(ctx, store.ActionFilter{Start: start, End: end, AccountID: tenant.AccountID, TeamID: tenant.TeamID})
	if err != nil {
		return nil, fmt.Errorf("export audit log: %w", err)
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].ActionTimestamp.After(actions[j].ActionTimestamp)
	})
	incidentCache := map[int64]*store.Incident{}
	records := make([]AuditExportRecord, 0, len(actions))
	for _, a := range actions {
		inc, cached := incidentCache[a.IncidentID]
		if !cached {
			inc, err = r.incidents.GetIncident(ctx, a.IncidentID)
			if err != nil {
				return nil, fmt.Errorf("export audit log: incident %d: %w", a.IncidentID, err)
			}
			incidentCache[a.IncidentID] = inc
		}
		rec := AuditExportRecord{
			Timestamp:        a.ActionTimestamp.UTC().Format("2006-01-02 15:04:05"),
			ActionType:       a.ActionType,
			IncidentID:       a.IncidentID,
			IncidentTitle:    "Unknown",
			IncidentPriority: "Unknown",
			PerformedBy:      a.ActionBy,
			FromEngineer:     a.FromEngineer,
			ToEngineer:       a.ToEngineer,
			Notes:            a.Notes,
		}
		if inc != nil {
			rec.IncidentTitle = inc.Title
			rec.IncidentPriority = inc.Priority
		}
		records = append(records, rec)
	}
	return records, nil
}

// averageResponseMinutes pairs each decision action of the given type with
// the latest initiation of the same incident that preceded it.
func averageResponseMinutes(actions []store.HandoverAction, decisionType string) float64 {
	initiations := map[int64][]store.HandoverAction{}
	for _, a := range actions {
		if a.ActionType == store.ActionInitiated || a.ActionType == store.ActionReassigned {
			initiations[a.IncidentID] = append(initiations[a.IncidentID], a)
		}
	}
	var total float64
	var n int
	for _, a := range actions {
		if a.ActionType != decisionType {
			continue
		}
		if init, ok := latestBefore(initiations[a.IncidentID], a.ActionTimestamp); ok {
			total += a.ActionTimestamp.Sub(init).Minutes()
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func latestBefore(initiations []store.HandoverAction, decision time.Time) (time.Time, bool) {
	var best time.Time
	found := false
	for _, a := range initiations {
		if a.ActionTimestamp.After(decision) {
			continue
		}
		if !found || a.ActionTimestamp.After(best) {
			best = a.ActionTimestamp
			found = true
		}
	}
	return best, found
}

func dailyTrends(actions []store.HandoverAction) []DailyTrend {
	byDay := map[string]*DailyTrend{}
	for _, a := range actions {
		day := a.ActionTimestamp.UTC().Format("2006-01-02")
		t, ok := byDay[day]
		if !ok {
			t = &DailyTrend{Date: day}
			byDay[day] = t
		}
		switch a.ActionType {
		case store.ActionInitiated, store.ActionReassigned:
			t.Initiated++
		case store.ActionAccepted:
			t.Accepted++
		case store.ActionRejected:
			t.Rejected++
		}
	}
	res := make([]DailyTrend, 0, len(byDay))
	for _, t := range byDay {
		res = append(res, *t)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date < res[j].Date })
	return res
}

// topRejectionReasons buckets rejection notes into the standard categories
// by keyword match and returns the top n by count.
func topRejectionReasons(actions []store.HandoverAction, n int) []RejectionReason {
	counts := map[string]int{}
	total := 0
	for _, a := range actions {
		if a.ActionType != store.ActionRejected {
			continue
		}
		counts[categorizeRejection(a.Notes)]++
		total++
	}
	res := make([]RejectionReason, 0, len(counts))
	for cat, c := range counts {
		res = append(res, RejectionReason{
			Category:   cat,
			Count:      c,
			Percentage: round2(float64(c) / float64(total) * 100),
		})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Count != res[j].Count {
			return res[i].Count > res[j].Count
		}
		return res[i].Category < res[j].Category
	})
	if len(res) > n {
		res = res[:n]
	}
	return res
}

func categorizeRejection(note string) string {
	reason := strings.ToLower(note)
	switch {
	case strings.Contains(reason, "not relevant") || strings.Contains(reason, "irrelevant"):
		return "Not Relevant"
	case strings.Contains(reason, "insufficient information") || strings.Contains(reason, "incomplete"):
		return "Insufficient Information"
	case strings.Contains(reason, "already resolved") || strings.Contains(reason, "duplicate"):
		return "Already Resolved"
	case strings.Contains(reason, "wrong assignee") || strings.Contains(reason, "wrong team"):
		return "Wrong Assignment"
	default:
		return "Other"
	}
}

// performanceGrade weighs acceptance rate 70% and response speed 30%.
// Response score decays linearly from a one-hour average; no accepted
// handovers scores as perfect response.
func performanceGrade(acceptanceRate, avgResponseMinutes float64) string {
	acceptanceScore := math.Min(acceptanceRate, 100) / 100
	responseScore := 1.0
	if avgResponseMinutes > 0 {
		responseScore = math.Max(0, math.Min(1, (60-avgResponseMinutes)/60))
	}
	score := acceptanceScore*0.7 + responseScore*0.3
	switch {
	case score >= 0.9:
		return "A+"
	case score >= 0.8:
		return "A"
	case score >= 0.7:
		return "B+"
	case score >= 0.6:
		return "B"
	case score >= 0.5:
		return "C"
	default:
		return "D"
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
