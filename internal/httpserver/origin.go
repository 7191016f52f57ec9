package httpserver

import (
	"net/http"
	"strings"

	"github.com/todorgrigorov/baby-cam/internal/origin"
)

// withOriginPolicy rejects cross-origin browser requests that are not
// allowlisted and adds CORS headers for the ones that are. Requests without
// an Origin header (curl, same-origin navigations) pass through untouched.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			next(w, r)
			return
		}

		normalizedOrigin, originHost, ok := origin.NormalizeHeader(originHeader)
		if !ok || !origin.IsAllowed(normalizedOrigin, originHost, r.Host, s.cfg.AllowedOrigins) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", normalizedOrigin)
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")

		next(w, r)
	}
}
