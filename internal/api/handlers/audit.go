package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pagevoice/pagevoice/internal/audit"
)

type AuditHandler struct {
	svc *audit.Service
}

func NewAuditHandler(svc *audit.Service) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// Logs handles GET /admin/audit. Defaults to the last 7 days.
func (h *AuditHandler) Logs(w http.ResponseWriter, r *http.Request) {
	start, end := parseRange(r, 7*24*time.Hour)

	var actorID *uuid.UUID
	if s := r.URL.Query().Get("actor_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid actor_id"})
			return
		}
		actorID = &id
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.svc.Query(r.Context(), start, end, actorID, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"audit_logs": entries, "count": len(entries)})
}

// Export handles POST /admin/audit/export: writes the range to the object
// store as line-delimited JSON. Defaults to the previous calendar month.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	start, end, ok := monthRange(r)
	if !ok {
		start, end = parseRange(r, 0)
		if start.IsZero() {
			now := time.Now().UTC()
			first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
			start, end = first.AddDate(0, -1, 0), first
		}
	}

	key, count, err := h.svc.Export(r.Context(), start, end, nil)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "count": count})
}

// parseRange reads RFC3339 start/end query params, falling back to
// [now-window, now) when absent. A zero window yields zero times.
func parseRange(r *http.Request, window time.Duration) (time.Time, time.Time) {
	var start, end time.Time
	if s := r.URL.Query().Get("start"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			start = t
		}
	}
	if s := r.URL.Query().Get("end"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			end = t
		}
	}
	if start.IsZero() && window > 0 {
		end = time.Now().UTC()
		start = end.Add(-window)
	}
	if end.IsZero() && !start.IsZero() {
		end = time.Now().UTC()
	}
	return start, end
}

// monthRange reads a month=YYYY-MM query param.
func monthRange(r *http.Request) (time.Time, time.Time, bool) {
	s := r.URL.Query().Get("month")
	if s == "" {
		return time.Time{}, time.Time{}, false
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return t, t.AddDate(0, 1, 0), true
}
