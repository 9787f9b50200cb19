package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Liveness and identity endpoints stay reachable for load balancers and
// dashboards without the API key.
var unauthenticated = map[string]bool{
	"/api/health": true,
	"/api/status": true,
}

// Auth rejects requests whose Bearer token or X-API-Key header does not match
// apiKey. Browsers cannot set headers on a WebSocket upgrade, so /ws also
// accepts ?api_key=. An empty apiKey leaves the API open.
func Auth(apiKey string) func(http.Handler) http.Handler {
	key := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || unauthenticated[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			switch token := requestToken(r); {
			case token == "":
				w.Header().Set("WWW-Authenticate", `Bearer realm="stratbot"`)
				writeJSONError(w, http.StatusUnauthorized, "missing API key")
			case subtle.ConstantTimeCompare([]byte(token), key) != 1:
				writeJSONError(w, http.StatusUnauthorized, "invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func requestToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("api_key")
	}
	return ""
}
