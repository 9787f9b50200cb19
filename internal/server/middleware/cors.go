package middleware

import (
	"net/http"
	"path"
	"strings"
)

const (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, X-Request-ID"
)

// CORS answers preflight requests and echoes allowed origins. Entries may be
// "*", an exact origin, or a glob such as "https://*.example.com". An empty
// list allows every origin.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	patterns := make([]string, 0, len(allowedOrigins))
	for _, o := range allowedOrigins {
		patterns = append(patterns, strings.ToLower(strings.TrimRight(o, "/")))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			if originAllowed(patterns, origin) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")
			}

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}
			if h.Get("Access-Control-Allow-Origin") != "" {
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Set("Access-Control-Max-Age", "600")
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func originAllowed(patterns []string, origin string) bool {
	if len(patterns) == 0 {
		return true
	}
	origin = strings.ToLower(origin)
	for _, p := range patterns {
		if p == "*" || p == origin {
			return true
		}
		if strings.Contains(p, "*") {
			if ok, err := path.Match(p, origin); err == nil && ok {
				return true
			}
		}
	}
	return false
}
