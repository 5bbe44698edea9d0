package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/middleware"
)

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if !requireAccount(w, r, accountID) {
		return
	}
	limit, offset := parsePagination(r)
	alerts, err := h.alertLog.ListByAccount(r.Context(), accountID, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load alerts")
		return
	}
	normalized := make([]map[string]any, 0, len(alerts))
	for _, alert := range alerts {
		normalized = append(normalized, map[string]any{
			"id":             alert.ID,
			"alert_type":     alert.AlertType,
			"priority":       alert.Priority,
			"symbol":         alert.Symbol,
			"cost":           alert.Cost,
			"score":          alert.Score,
			"trigger_window": alert.TriggerWindow,
			"delivered_at":   alert.DeliveredAt,
			"clicked_at":     alert.ClickedAt,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

// ClickAlert stamps the first click; repeats keep the original timestamp and
// report clicked=false.
func (h *Handler) ClickAlert(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	alertID := chi.URLParam(r, "id")
	rows, err := h.alertLog.MarkClicked(r.Context(), alertID, accountID, time.Now().UTC())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to record click")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"alert_id": alertID,
		"clicked":  rows == 1,
	})
}
