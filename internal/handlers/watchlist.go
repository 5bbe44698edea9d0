package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/validator"
)

func (h *Handler) ListWatchlist(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if !requireAccount(w, r, accountID) {
		return
	}
	watches, err := h.watchlist.ListByAccount(r.Context(), accountID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load watchlist")
		return
	}
	normalized := make([]map[string]any, 0, len(watches))
	for _, watch := range watches {
		normalized = append(normalized, map[string]any{
			"symbol":       watch.Symbol,
			"target_price": watch.TargetPrice,
			"added_at":     watch.AddedAt,
		})
	}
	respondJSON(w, http.StatusOK, normalized)
}

type addWatchRequest struct {
	Symbol      string   `json:"symbol"`
	TargetPrice *float64 `json:"target_price"`
}

// AddWatch upserts, so re-adding a symbol just moves its price target.
func (h *Handler) AddWatch(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if !requireAccount(w, r, accountID) {
		return
	}
	var req addWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if err := validator.ValidateSymbol(req.Symbol); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.TargetPrice != nil && *req.TargetPrice <= 0 {
		respondError(w, http.StatusBadRequest, "target price must be positive")
		return
	}
	if err := h.watchlist.Add(r.Context(), accountID, req.Symbol, req.TargetPrice); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to add watch")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"symbol":       req.Symbol,
		"target_price": req.TargetPrice,
	})
}

func (h *Handler) RemoveWatch(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if !requireAccount(w, r, accountID) {
		return
	}
	symbol := chi.URLParam(r, "symbol")
	if err := validator.ValidateSymbol(symbol); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rows, err := h.watchlist.Remove(r.Context(), accountID, symbol)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to remove watch")
		return
	}
	if rows == 0 {
		respondError(w, http.StatusNotFound, "symbol not watched")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
