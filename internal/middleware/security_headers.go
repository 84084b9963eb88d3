package middleware

import "net/http"

// SecurityHeadersConfig holds security headers configuration
type SecurityHeadersConfig struct {
	Env string
}

// SecurityHeaders adds the standard browser security headers to all
// responses. The consent page is the only HTML this service renders, so the
// CSP stays tight.
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("X-DNS-Prefetch-Control", "off")
			w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

			var csp string
			if config.Env == "production" {
				csp = "default-src 'self'; " +
					"script-src 'self'; " +
					"style-src 'self' 'unsafe-inline'; " +
					"img-src 'self' data:; " +
					"frame-ancestors 'none'; " +
					"base-uri 'self'; " +
					"form-action 'self'"
			} else {
				csp = "default-src 'self' http: https: ws:; " +
					"script-src 'self' 'unsafe-inline' http: https: ws:; " +
					"style-src 'self' 'unsafe-inline' http: https:; " +
					"img-src 'self' data: https: http:; " +
					"frame-ancestors 'self'; " +
					"base-uri 'self'; " +
					"form-action 'self'"
			}
			w.Header().Set("Content-Security-Policy", csp)

			if config.Env == "production" && (r.Header.Get("X-Forwarded-Proto") == "https" || r.URL.Scheme == "https") {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
			}

			w.Header().Set("Permissions-Policy",
				"accelerometer=(), camera=(), geolocation=(), microphone=(), payment=(), usb=()")

			next.ServeHTTP(w, r)
		})
	}
}
