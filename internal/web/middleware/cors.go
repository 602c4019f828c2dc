package middleware

import (
	"net/http"
	"os"
	"strings"
)

// allowedOriginsEnv lists the browser origins allowed to call the API,
// comma-separated. Localhost origins are allowed regardless so local
// frontend development needs no configuration.
const allowedOriginsEnv = "WEB_ALLOWED_ORIGINS"

func configuredOrigins() map[string]struct{} {
	origins := make(map[string]struct{})
	for o := range strings.SplitSeq(os.Getenv(allowedOriginsEnv), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	return origins
}

func isLocalhost(origin string) bool {
	rest, ok := strings.CutPrefix(origin, "http://localhost")
	if !ok {
		rest, ok = strings.CutPrefix(origin, "https://localhost")
	}
	if !ok {
		return false
	}
	return rest == "" || strings.HasPrefix(rest, ":")
}

func originAllowed(origin string, configured map[string]struct{}) bool {
	if origin == "" {
		return false
	}
	if isLocalhost(origin) {
		return true
	}
	_, ok := configured[origin]
	return ok
}

// CORS returns middleware that reflects the Origin header back for allowed
// origins and answers preflight requests directly.
func CORS() func(http.Handler) http.Handler {
	configured := configuredOrigins()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if originAllowed(origin, configured) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Requested-With")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders returns middleware that applies a restrictive
// Content-Security-Policy and the usual hardening headers. The image
// sources admit data: and blob: URLs for thumbnail previews.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Security-Policy",
				"default-src 'self'; img-src 'self' data: blob:; "+
					"style-src 'self' 'unsafe-inline'; font-src 'self' data:")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			next.ServeHTTP(w, r)
		})
	}
}
