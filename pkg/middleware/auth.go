package middleware

import (
	"net/http"
	"strings"

	"civic-reporting/pkg/response"
	"civic-reporting/pkg/session"
)

// TokenParser verifies a bearer token.
type TokenParser interface {
	Parse(token string) (*session.Session, error)
}

// Authenticate attaches the caller's session to the request context when a
// valid token is presented. Requests without a token pass through
// anonymously; an invalid token is rejected.
//
// The token is read from the Authorization header, or from the "token"
// query parameter for websocket upgrades.
func Authenticate(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if raw == "" {
				response.Error(w, http.StatusUnauthorized, "Invalid token format", "Format must be Bearer <token>")
				return
			}

			s, err := tokens.Parse(raw)
			if err != nil {
				response.Error(w, http.StatusUnauthorized, "Invalid or expired token", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), s)))
		})
	}
}

// bearerToken returns the presented token. ok is false when none was sent;
// an empty token with ok true means a malformed header.
func bearerToken(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		tok := strings.TrimPrefix(h, "Bearer ")
		if tok == h {
			return "", true
		}
		return strings.TrimSpace(tok), true
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return q, true
	}
	return "", false
}
