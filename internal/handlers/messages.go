package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/middleware"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/services"
)

type enqueueRequest struct {
	Content  string `json:"content"`
	Response string `json:"response"`
}

// EnqueueMessage accepts a chat exchange for asynchronous engagement
// processing. The handler returns as soon as the job is queued; 202 never
// means the scores were already updated.
func (h *Handler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Content == "" {
		respondError(w, http.StatusBadRequest, "content is required")
		return
	}
	if len(req.Content) > 4096 {
		respondError(w, http.StatusBadRequest, "content too long")
		return
	}
	allowed, retryAfter, err := h.limiter.Allow(r.Context(), accountID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "rate limiter unavailable")
		return
	}
	if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	jobID, err := h.queue.Enqueue(accountID, req.Content, req.Response)
	if err != nil {
		if err == services.ErrQueueFull {
			respondError(w, http.StatusServiceUnavailable, "queue full, try again later")
			return
		}
		respondError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      jobID,
		"queue_depth": h.queue.Depth(),
	})
}
