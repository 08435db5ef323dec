package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// auth enforces the static bearer token when one is configured. An empty
// token disables auth for local development.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		token := parseBearer(r)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.AuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// actor identifies who performed a mutating call, for audit entries. The
// gateway trusts the X-Actor header from the UI layer; absent that, calls
// are attributed to "operator".
func actor(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return "operator"
}
