package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"shiftrelay/core/handover"
	"shiftrelay/core/store"
	"shiftrelay/core/utils"
)

type HandoverHandler struct {
	engine    *handover.Engine
	incidents store.IncidentsStore
	logger    *utils.Logger
}

func NewHandoverHandler(engine *handover.Engine, incidents store.IncidentsStore, logger *utils.Logger) *HandoverHandler {
	return &HandoverHandler{engine: engine, incidents: incidents, logger: logger}
}

func tenantFromRequest(r *http.Request) store.Tenant {
	return store.Tenant{
		AccountID: parseInt64Default(r.URL.Query().Get("account_id"), 0),
		TeamID:    parseInt64Default(r.URL.Query().Get("team_id"), 0),
	}
}

type initiateRequest struct {
	AssignTo    string `json:"assign_to"`
	AssignToID  int64  `json:"assign_to_id"`
	InitiatedBy string `json:"initiated_by"`
	AccountID   int64  `json:"account_id"`
	TeamID      int64  `json:"team_id"`
}

func (h *HandoverHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid incident id"})
		return
	}
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if strings.TrimSpace(req.AssignTo) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "assign_to is required"})
		return
	}
	tenant := store.Tenant{AccountID: req.AccountID, TeamID: req.TeamID}
	res, err := h.engine.InitiateHandover(r.Context(), id, req.AssignTo, req.AssignToID, req.InitiatedBy, tenant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type acceptRequest struct {
	AcceptedBy string `json:"accepted_by"`
	Notes      string `json:"notes"`
	AccountID  int64  `json:"account_id"`
	TeamID     int64  `json:"team_id"`
}

func (h *HandoverHandler) Accept(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid incident id"})
		return
	}
	var req acceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if strings.TrimSpace(req.AcceptedBy) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "accepted_by is required"})
		return
	}
	tenant := store.Tenant{AccountID: req.AccountID, TeamID: req.TeamID}
	res, err := h.engine.AcceptIncident(r.Context(), id, req.AcceptedBy, req.Notes, tenant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type rejectRequest struct {
	RejectedBy    string `json:"rejected_by"`
	RejectionNote string `json:"rejection_note"`
	AccountID     int64  `json:"account_id"`
	TeamID        int64  `json:"team_id"`
}

func (h *HandoverHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid incident id"})
		return
	}
	var req rejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if strings.TrimSpace(req.RejectedBy) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rejected_by is required"})
		return
	}
	tenant := store.Tenant{AccountID: req.AccountID, TeamID: req.TeamID}
	res, err := h.engine.RejectIncident(r.Context(), id, req.RejectedBy, req.RejectionNote, tenant)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *HandoverHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	engineer := strings.TrimSpace(r.URL.Query().Get("engineer"))
	items, err := h.engine.GetPendingHandovers(r.Context(), engineer, tenantFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// BadgeCount returns just the pending counter for one engineer, for UI
// polling without the full queue payload.
func (h *HandoverHandler) BadgeCount(w http.ResponseWriter, r *http.Request) {
	engineer := strings.TrimSpace(r.URL.Query().Get("engineer"))
	if engineer == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "engineer is required"})
		return
	}
	count, err := h.engine.CountPendingFor(r.Context(), engineer, tenantFromRequest(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (h *HandoverHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid incident id"})
		return
	}
	items, err := h.engine.GetHandoverHistory(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *HandoverHandler) Stats(w http.ResponseWriter, r *http.Request) {
	scope := handover.SummaryScope{Tenant: tenantFromRequest(r)}
	if raw := r.URL.Query().Get("shift_id"); raw != "" {
		if id := parseInt64Default(raw, 0); id > 0 {
			scope.ShiftID = &id
		}
	}
	summary, err := h.engine.GetHandoverSummary(r.Context(), scope)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type bulkActionRequest struct {
	Action        string  `json:"action"`
	IncidentIDs   []int64 `json:"incident_ids"`
	Actor         string  `json:"actor"`
	Notes         string  `json:"notes"`
	RejectionNote string  `json:"rejection_note"`
	AccountID     int64   `json:"account_id"`
	TeamID        int64   `json:"team_id"`
}

type bulkActionResult struct {
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Errors    map[int64]string `json:"errors,omitempty"`
}

// BulkAction applies accept or reject to each listed incident in
// isolation. One failure never blocks the rest of the batch.
func (h *HandoverHandler) BulkAction(w http.ResponseWriter, r *http.Request) {
	var req bulkActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if action != "accept" && action != "reject" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action must be accept or reject"})
		return
	}
	if strings.TrimSpace(req.Actor) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "actor is required"})
		return
	}
	if len(req.IncidentIDs) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "incident_ids is required"})
		return
	}
	tenant := store.Tenant{AccountID: req.AccountID, TeamID: req.TeamID}
	result := bulkActionResult{Errors: map[int64]string{}}
	for _, id := range req.IncidentIDs {
		var err error
		if action == "accept" {
			_, err = h.engine.AcceptIncident(r.Context(), id, req.Actor, req.Notes, tenant)
		} else {
			_, err = h.engine.RejectIncident(r.Context(), id, req.Actor, req.RejectionNote, tenant)
		}
		if err != nil {
			result.Failed++
			result.Errors[id] = err.Error()
			continue
		}
		result.Succeeded++
	}
	if result.Failed == 0 {
		result.Errors = nil
	}
	writeJSON(w, http.StatusOK, result)
}

type createIncidentRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	AssignedTo  string `json:"assigned_to"`
	ShiftID     *int64 `json:"shift_id"`
	AccountID   int64  `json:"account_id"`
	TeamID      int64  `json:"team_id"`
}

func (h *HandoverHandler) CreateIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json body"})
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}
	inc := &store.Incident{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Priority:    req.Priority,
		Status:      req.Status,
		AssignedTo:  strings.TrimSpace(req.AssignedTo),
		ShiftID:     req.ShiftID,
		AccountID:   req.AccountID,
		TeamID:      req.TeamID,
	}
	id, err := h.incidents.CreateIncident(r.Context(), inc)
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("create incident: %v", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	inc.ID = id
	writeJSON(w, http.StatusCreated, inc)
}

func (h *HandoverHandler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id, ok := urlParamInt64(r, "id")
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid incident id"})
		return
	}
	inc, err := h.incidents.GetIncident(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	if inc == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "incident not found"})
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
