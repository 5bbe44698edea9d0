package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/auth"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/services"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/websocket"
)

type sweepRequest struct {
	Mode string `json:"mode"`
}

// RunSweep triggers an alert sweep outside the scheduler, mostly for
// backfills and incident response.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Mode != services.SweepCritical && req.Mode != services.SweepFull {
		respondError(w, http.StatusBadRequest, "mode must be critical or full")
		return
	}
	delivered, err := h.alerts.Sweep(r.Context(), req.Mode)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "sweep failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"mode":      req.Mode,
		"delivered": delivered,
	})
}

type recomputeRequest struct {
	AccountID string `json:"account_id"`
}

func (h *Handler) RecomputeAccount(w http.ResponseWriter, r *http.Request) {
	var req recomputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.AccountID == "" {
		respondError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	if err := h.scoring.Recompute(r.Context(), req.AccountID, time.Now().UTC()); err != nil {
		if err == services.ErrAccountNotFound {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "recompute failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"account_id": req.AccountID,
		"status":     "recomputed",
	})
}

// WSEvents upgrades to the live event feed. Browsers cannot set headers on
// a websocket handshake, so the token rides in the query string.
func (h *Handler) WSEvents(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing token")
		return
	}
	claims, err := auth.ParseToken(h.cfg.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	websocket.ServeWS(w, r, h.hub, claims.AccountID)
}
