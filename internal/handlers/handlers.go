package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/auth"
	"github.com/DansiDanutz/ZmartBot-sub008/internal/middleware"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// requireAccount resolves the caller and checks it may act on accountID.
// Service tokens may act on any account.
func requireAccount(w http.ResponseWriter, r *http.Request, accountID string) bool {
	callerID, ok := middleware.AccountIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	role, _ := middleware.RoleFromContext(r.Context())
	if role == auth.RoleService {
		return true
	}
	if callerID != accountID {
		respondError(w, http.StatusForbidden, "access denied")
		return false
	}
	return true
}
