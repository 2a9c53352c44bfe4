package middleware

import (
	"net/http"
	"strings"
)

// CORS allows the configured origins (comma-separated, or "*") plus the
// dashboard's preview deployments.
func CORS(origins string) func(http.Handler) http.Handler {
	allowed := strings.Split(origins, ",")
	for i := range allowed {
		allowed[i] = strings.TrimSpace(allowed[i])
	}
	fallback := allowed[0]

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := fallback
			if reqOrigin := r.Header.Get("Origin"); reqOrigin != "" && isAllowed(reqOrigin, allowed) {
				origin = reqOrigin
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+AdminTokenHeader)
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isAllowed(reqOrigin string, allowed []string) bool {
	for _, o := range allowed {
		if o == "*" || o == reqOrigin {
			return true
		}
	}
	return strings.HasPrefix(reqOrigin, "https://agent-signal-dashboard-") &&
		strings.HasSuffix(reqOrigin, ".vercel.app")
}
