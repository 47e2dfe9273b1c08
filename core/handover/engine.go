package handover

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shiftrelay/config"
	"shiftrelay/core/store"
	"shiftrelay/core/utils"
)

// Engine owns the handover state machine: it validates transitions,
// mutates the incident's handover fields, appends the audit record and
// hands the immediate notification to the dispatcher. All dependencies
// are injected; there is no package-level state.
type Engine struct {
	incidents  store.IncidentsStore
	audits     store.HandoverAuditStore
	team       store.TeamStore
	dispatcher *Dispatcher
	cfg        config.NotificationsConfig
	logger     *utils.Logger
	now        func() time.Time
}

func NewEngine(incidents store.IncidentsStore, audits store.HandoverAuditStore, team store.TeamStore, dispatcher *Dispatcher, cfg config.NotificationsConfig, logger *utils.Logger) *Engine {
	return &Engine{
		incidents:  incidents,
		audits:     audits,
		team:       team,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the engine clock. Tests only.
func (e *Engine) SetNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

type TransitionResult struct {
	IncidentID int64                `json:"incident_id"`
	Status     store.HandoverStatus `json:"status"`
	AssignedTo string               `json:"assigned_to,omitempty"`
	ActionedBy string               `json:"actioned_by,omitempty"`
}

const (
	UrgencyNormal   = "normal"
	UrgencyWarning  = "warning"
	UrgencyCritical = "critical"
)

type PendingHandover struct {
	IncidentID         int64     `json:"incident_id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Priority           string    `json:"priority"`
	Status             string    `json:"status"`
	AssignedTo         string    `json:"handover_assigned_to"`
	OriginalOwner      string    `json:"assigned_to_original"`
	ShiftID            *int64    `json:"shift_id,omitempty"`
	InitiatedAt        time.Time `json:"handover_initiated_at"`
	TimePendingMinutes int       `json:"time_pending_minutes"`
	Urgency            string    `json:"urgency"`
}

type SummaryScope struct {
	Tenant  store.Tenant
	ShiftID *int64
}

type Summary struct {
	Total              int      `json:"total_handovers"`
	Pending            int      `json:"pending_count"`
	Accepted           int      `json:"accepted_count"`
	Rejected           int      `json:"rejected_count"`
	AcceptanceRate     float64  `json:"acceptance_rate"`
	RejectionRate      float64  `json:"rejection_rate"`
	AvgResponseMinutes *float64 `json:"avg_response_time_minutes,omitempty"`
}

// InitiateHandover moves an incident into Pending and notifies the
// assignee. Valid from N/A, Accepted (reassignment) and Rejected
// (re-handover); the rejection note and action stamps are cleared.
func (e *Engine) InitiateHandover(ctx context.Context, incidentID int64, assignTo string, assignToID int64, initiatedBy string, tenant store.Tenant) (*TransitionResult, error) {
	assignTo = strings.TrimSpace(assignTo)
	incident, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("initiate handover: %w", err)
	}
	if incident == nil {
		return nil, ErrNotFound
	}
	from := incident.HandoverStatus
	if !CanTransition(from, store.HandoverPending) {
		if from == store.HandoverPending && e.logger != nil {
			current := ""
			if incident.HandoverAssignedTo != nil {
				current = *incident.HandoverAssignedTo
			}
			e.logger.Warnf("handover: re-initiation of incident %d refused (pending for %s, requested for %s)", incidentID, current, assignTo)
		}
		return nil, fmt.Errorf("incident %d: %s -> Pending: %w", incidentID, from, ErrInvalidTransition)
	}
	now := e.now()
	upd := store.HandoverUpdate{
		Status:      store.HandoverPending,
		AssignedTo:  &assignTo,
		InitiatedAt: &now,
	}
	if assignToID > 0 {
		upd.AssignedToID = &assignToID
	}
	action := &store.HandoverAction{
		IncidentID:      incidentID,
		ActionType:      actionTypeForInitiation(from),
		ActionBy:        initiatedBy,
		ActionByID:      e.lookupMemberID(ctx, initiatedBy),
		ActionTimestamp: now,
		Notes:           fmt.Sprintf("Handover initiated to %s", assignTo),
		FromEngineer:    incident.AssignedTo,
		ToEngineer:      assignTo,
		AccountID:       tenant.AccountID,
		TeamID:          tenant.TeamID,
	}
	if err := e.incidents.TransitionHandover(ctx, incidentID, from, upd, action); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("incident %d moved concurrently: %w", incidentID, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("initiate handover: %w", err)
	}
	incident.HandoverStatus = store.HandoverPending
	incident.HandoverAssignedTo = &assignTo
	incident.HandoverInitiatedAt = &now
	e.notify(ctx, &NotificationIntent{
		Incident:    incident,
		Kind:        store.NotifyPendingHandover,
		Recipient:   assignTo,
		RecipientID: upd.AssignedToID,
		Episode:     now,
		Tenant:      tenant,
	})
	if e.logger != nil {
		e.logger.Infof("handover: incident %d initiated to %s by %s", incidentID, assignTo, initiatedBy)
	}
	return &TransitionResult{IncidentID: incidentID, Status: store.HandoverPending, AssignedTo: assignTo}, nil
}

// AcceptIncident completes a pending handover and transfers working
// ownership to the accepting engineer.
func (e *Engine) AcceptIncident(ctx context.Context, incidentID int64, acceptedBy, notes string, tenant store.Tenant) (*TransitionResult, error) {
	acceptedBy = strings.TrimSpace(acceptedBy)
	incident, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("accept incident: %w", err)
	}
	if incident == nil {
		return nil, ErrNotFound
	}
	if !CanTransition(incident.HandoverStatus, store.HandoverAccepted) {
		return nil, fmt.Errorf("incident %d: %s -> Accepted: %w", incidentID, incident.HandoverStatus, ErrInvalidTransition)
	}
	if incident.HandoverAssignedTo == nil || *incident.HandoverAssignedTo != acceptedBy {
		return nil, fmt.Errorf("incident %d is assigned to %s: %w", incidentID, derefStr(incident.HandoverAssignedTo), ErrNotAssignee)
	}
	now := e.now()
	if strings.TrimSpace(notes) == "" {
		notes = "Incident accepted"
	}
	previousOwner := incident.AssignedTo
	upd := store.HandoverUpdate{
		Status:        store.HandoverAccepted,
		AssignedTo:    incident.HandoverAssignedTo,
		AssignedToID:  incident.HandoverAssignedToID,
		InitiatedAt:   incident.HandoverInitiatedAt,
		ActionedAt:    &now,
		ActionedBy:    &acceptedBy,
		TransferOwner: &acceptedBy,
	}
	action := &store.HandoverAction{
		IncidentID:      incidentID,
		ActionType:      store.ActionAccepted,
		ActionBy:        acceptedBy,
		ActionByID:      incident.HandoverAssignedToID,
		ActionTimestamp: now,
		Notes:           notes,
		FromEngineer:    previousOwner,
		ToEngineer:      acceptedBy,
		AccountID:       tenant.AccountID,
		TeamID:          tenant.TeamID,
	}
	if err := e.incidents.TransitionHandover(ctx, incidentID, store.HandoverPending, upd, action); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("incident %d moved concurrently: %w", incidentID, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("accept incident: %w", err)
	}
	if e.cfg.SendAcceptanceConfirmation && previousOwner != "" && previousOwner != acceptedBy {
		incident.HandoverStatus = store.HandoverAccepted
		incident.HandoverActionedBy = &acceptedBy
		e.notify(ctx, &NotificationIntent{
			Incident:  incident,
			Kind:      store.NotifyAcceptanceConfirmation,
			Recipient: previousOwner,
			Episode:   episodeOf(incident, now),
			Tenant:    tenant,
		})
	}
	if e.logger != nil {
		e.logger.Infof("handover: incident %d accepted by %s", incidentID, acceptedBy)
	}
	return &TransitionResult{IncidentID: incidentID, Status: store.HandoverAccepted, ActionedBy: acceptedBy}, nil
}

// RejectIncident declines a pending handover. The note is mandatory and
// working ownership stays with the original engineer.
func (e *Engine) RejectIncident(ctx context.Context, incidentID int64, rejectedBy, rejectionNote string, tenant store.Tenant) (*TransitionResult, error) {
	rejectedBy = strings.TrimSpace(rejectedBy)
	rejectionNote = strings.TrimSpace(rejectionNote)
	if rejectionNote == "" {
		return nil, ErrMissingRejectionNote
	}
	incident, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("reject incident: %w", err)
	}
	if incident == nil {
		return nil, ErrNotFound
	}
	if !CanTransition(incident.HandoverStatus, store.HandoverRejected) {
		return nil, fmt.Errorf("incident %d: %s -> Rejected: %w", incidentID, incident.HandoverStatus, ErrInvalidTransition)
	}
	if incident.HandoverAssignedTo == nil || *incident.HandoverAssignedTo != rejectedBy {
		return nil, fmt.Errorf("incident %d is assigned to %s: %w", incidentID, derefStr(incident.HandoverAssignedTo), ErrNotAssignee)
	}
	now := e.now()
	upd := store.HandoverUpdate{
		Status:        store.HandoverRejected,
		AssignedTo:    incident.HandoverAssignedTo,
		AssignedToID:  incident.HandoverAssignedToID,
		InitiatedAt:   incident.HandoverInitiatedAt,
		ActionedAt:    &now,
		ActionedBy:    &rejectedBy,
		RejectionNote: &rejectionNote,
	}
	action := &store.HandoverAction{
		IncidentID:      incidentID,
		ActionType:      store.ActionRejected,
		ActionBy:        rejectedBy,
		ActionByID:      incident.HandoverAssignedToID,
		ActionTimestamp: now,
		Notes:           rejectionNote,
		FromEngineer:    rejectedBy,
		AccountID:       tenant.AccountID,
		TeamID:          tenant.TeamID,
	}
	if err := e.incidents.TransitionHandover(ctx, incidentID, store.HandoverPending, upd, action); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("incident %d moved concurrently: %w", incidentID, ErrInvalidTransition)
		}
		return nil, fmt.Errorf("reject incident: %w", err)
	}
	if e.cfg.SendRejectionNotification && incident.AssignedTo != "" {
		incident.HandoverStatus = store.HandoverRejected
		incident.HandoverActionedBy = &rejectedBy
		incident.HandoverRejectionNote = &rejectionNote
		e.notify(ctx, &NotificationIntent{
			Incident:  incident,
			Kind:      store.NotifyRejectionNotification,
			Recipient: incident.AssignedTo,
			Episode:   episodeOf(incident, now),
			Tenant:    tenant,
		})
	}
	if e.logger != nil {
		e.logger.Infof("handover: incident %d rejected by %s", incidentID, rejectedBy)
	}
	return &TransitionResult{IncidentID: incidentID, Status: store.HandoverRejected, ActionedBy: rejectedBy}, nil
}

// GetPendingHandovers returns incidents waiting on a handover decision,
// annotated with how long they have been pending and an urgency bucket.
// An empty engineer returns the whole pending queue for the tenant.
func (e *Engine) GetPendingHandovers(ctx context.Context, engineer string, tenant store.Tenant) ([]PendingHandover, error) {
	incidents, err := e.incidents.ListIncidents(ctx, store.IncidentFilter{
		HandoverStatus:   store.HandoverPending,
		HandoverAssignee: engineer,
		AccountID:        tenant.AccountID,
		TeamID:           tenant.TeamID,
	})
	if err != nil {
		return nil, fmt.Errorf("pending handovers: %w", err)
	}
	now := e.now()
	res := make([]PendingHandover, 0, len(incidents))
	for _, inc := range incidents {
		if inc.HandoverInitiatedAt == nil {
			continue
		}
		pending := int(now.Sub(*inc.HandoverInitiatedAt).Minutes())
		if pending < 0 {
			pending = 0
		}
		res = append(res, PendingHandover{
			IncidentID:         inc.ID,
			Title:              inc.Title,
			Description:        inc.Description,
			Priority:           inc.Priority,
			Status:             inc.Status,
			AssignedTo:         derefStr(inc.HandoverAssignedTo),
			OriginalOwner:      inc.AssignedTo,
			ShiftID:            inc.ShiftID,
			InitiatedAt:        *inc.HandoverInitiatedAt,
			TimePendingMinutes: pending,
			Urgency:            e.urgencyFor(pending),
		})
	}
	return res, nil
}

// CountPendingFor returns the pending-handover badge count for an engineer.
func (e *Engine) CountPendingFor(ctx context.Context, engineer string, tenant store.Tenant) (int, error) {
	return e.incidents.CountPendingFor(ctx, engineer, tenant)
}

// GetHandoverSummary aggregates handover counts and the mean decision time
// over incidents that reached Accepted or Rejected.
func (e *Engine) GetHandoverSummary(ctx context.Context, scope SummaryScope) (*Summary, error) {
	summary := &Summary{}
	var responseTotal float64
	var responseCount int
	for _, status := range []store.HandoverStatus{store.HandoverPending, store.HandoverAccepted, store.HandoverRejected} {
		incidents, err := e.incidents.ListIncidents(ctx, store.IncidentFilter{
			HandoverStatus: status,
			AccountID:      scope.Tenant.AccountID,
			TeamID:         scope.Tenant.TeamID,
			ShiftID:        scope.ShiftID,
		})
		if err != nil {
			return nil, fmt.Errorf("handover summary: %w", err)
		}
		switch status {
		case store.HandoverPending:
			summary.Pending = len(incidents)
		case store.HandoverAccepted:
			summary.Accepted = len(incidents)
		case store.HandoverRejected:
			summary.Rejected = len(incidents)
		}
		if status == store.HandoverPending {
			continue
		}
		for _, inc := range incidents {
			if inc.HandoverInitiatedAt != nil && inc.HandoverActionedAt != nil {
				responseTotal += inc.HandoverActionedAt.Sub(*inc.HandoverInitiatedAt).Minutes()
				responseCount++
			}
		}
	}
	summary.Total = summary.Pending + summary.Accepted + summary.Rejected
	if summary.Total > 0 {
		summary.AcceptanceRate = float64(summary.Accepted) / float64(summary.Total) * 100
		summary.RejectionRate = float64(summary.Rejected) / float64(summary.Total) * 100
	}
	if responseCount > 0 {
		avg := responseTotal / float64(responseCount)
		summary.AvgResponseMinutes = &avg
	}
	return summary, nil
}

// GetHandoverHistory returns the full audit trail, newest first.
func (e *Engine) GetHandoverHistory(ctx context.Context, incidentID int64) ([]store.HandoverAction, error) {
	incident, err := e.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("handover history: %w", err)
	}
	if incident == nil {
		return nil, ErrNotFound
	}
	return e.audits.ListByIncident(ctx, incidentID)
}

func (e *Engine) urgencyFor(pendingMinutes int) string {
	escalation := int(e.cfg.EscalationThreshold().Minutes())
	reminder := int(e.cfg.ReminderThreshold().Minutes())
	switch {
	case pendingMinutes > escalation:
		return UrgencyCritical
	case pendingMinutes > reminder:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}

// notify is best-effort: a failed or suppressed dispatch never fails the
// workflow operation that triggered it.
func (e *Engine) notify(ctx context.Context, intent *NotificationIntent) {
	if e.dispatcher == nil {
		return
	}
	if _, err := e.dispatcher.Dispatch(ctx, intent); err != nil && e.logger != nil {
		e.logger.Warnf("handover: %s notification for incident %d: %v", intent.Kind, intent.Incident.ID, err)
	}
}

func (e *Engine) lookupMemberID(ctx context.Context, name string) *int64 {
	if e.team == nil {
		return nil
	}
	member, err := e.team.GetMemberByName(ctx, name)
	if err != nil || member == nil {
		return nil
	}
	return &member.ID
}

func actionTypeForInitiation(from store.HandoverStatus) string {
	if from == store.HandoverAccepted {
		return store.ActionReassigned
	}
	return store.ActionInitiated
}

func episodeOf(incident *store.Incident, fallback time.Time) time.Time {
	if incident.HandoverInitiatedAt != nil {
		return *incident.HandoverInitiatedAt
	}
	return fallback
}

func derefStr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
