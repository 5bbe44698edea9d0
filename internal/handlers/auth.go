package handlers

import (
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"net/http"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/auth"
)

type tokenRequest struct {
	Handle string `json:"handle"`
	APIKey string `json:"api_key"`
	Role   string `json:"role"`
}

// IssueToken exchanges an account's API key for a bearer token. A service
// token requires the shared service key instead and is not tied to any
// account row.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Role == auth.RoleService {
		if h.cfg.ServiceAPIKey == "" ||
			subtle.ConstantTimeCompare([]byte(req.APIKey), []byte(h.cfg.ServiceAPIKey)) != 1 {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		token, err := auth.GenerateToken(h.cfg.JWTSecret, "service", auth.RoleService, h.cfg.TokenTTL)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to generate token")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"token": token})
		return
	}
	account, err := h.accounts.GetByHandle(r.Context(), req.Handle)
	if err != nil {
		if err == sql.ErrNoRows {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respondError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	if !auth.CheckAPIKey(account.APIKeyHash, req.APIKey) {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := auth.GenerateToken(h.cfg.JWTSecret, account.ID, auth.RoleAccount, h.cfg.TokenTTL)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"token":      token,
		"account_id": account.ID,
	})
}
