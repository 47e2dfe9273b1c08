package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"shiftrelay/core/handover"
	"shiftrelay/core/utils"
)

type ReportsHandler struct {
	reporter *handover.Reporter
	logger   *utils.Logger
}

func NewReportsHandler(reporter *handover.Reporter, logger *utils.Logger) *ReportsHandler {
	return &ReportsHandler{reporter: reporter, logger: logger}
}

func (h *ReportsHandler) reportWindow(r *http.Request) (time.Time, time.Time) {
	end := parseDateDefault(r.URL.Query().Get("end"), time.Now().UTC())
	start := parseDateDefault(r.URL.Query().Get("start"), end.AddDate(0, 0, -30))
	return start, end
}

func (h *ReportsHandler) Efficiency(w http.ResponseWriter, r *http.Request) {
	start, end := h.reportWindow(r)
	if end.Before(start) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end before start"})
		return
	}
	report, err := h.reporter.GetEfficiencyReport(r.Context(), start, end, tenantFromRequest(r))
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("efficiency report: %v", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *ReportsHandler) EngineerSummary(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "engineer name is required"})
		return
	}
	days := parseIntDefault(r.URL.Query().Get("days"), 30)
	summary, err := h.reporter.GetEngineerSummary(r.Context(), name, days, tenantFromRequest(r))
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("engineer summary: %v", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *ReportsHandler) Export(w http.ResponseWriter, r *http.Request) {
	start, end := h.reportWindow(r)
	if end.Before(start) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end before start"})
		return
	}
	records, err := h.reporter.ExportAuditLog(r.Context(), start, end, tenantFromRequest(r))
	if err != nil {
		if h.logger != nil {
			h.logger.Errorf("audit export: %v", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records, "count": len(records)})
}
