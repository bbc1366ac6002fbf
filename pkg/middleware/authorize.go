package middleware

import (
	"net/http"

	"civic-reporting/pkg/response"
	"civic-reporting/pkg/session"
)

// RequireSession rejects requests that Authenticate left anonymous.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := session.FromContext(r.Context()); !ok {
			response.Error(w, http.StatusUnauthorized, "Sign in required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
