package middleware

import (
	"net/http"

	"github.com/DansiDanutz/ZmartBot-sub008/internal/auth"
)

// RequireService gates the ops endpoints. The role travels in the token, so
// no store lookup is needed here.
func RequireService(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := RoleFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if role != auth.RoleService {
			http.Error(w, "service role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
