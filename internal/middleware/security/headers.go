package security

import (
	"fmt"
	"net/http"
)

// HeadersConfig holds the security headers sent with every API response
type HeadersConfig struct {
	CSP string

	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
	CrossOriginResource string
	CacheControl        string
}

// DefaultHeadersConfig returns defaults for a JSON API that serves no markup
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		CSP:                   "default-src 'none'; frame-ancestors 'none'",
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
		XFrameOptions:         "DENY",
		XContentTypeOptions:   "nosniff",
		ReferrerPolicy:        "no-referrer",
		CrossOriginResource:   "cross-origin",
		CacheControl:          "no-store",
	}
}

// Headers returns middleware applying cfg to every response
func Headers(cfg HeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", cfg.XContentTypeOptions)
			h.Set("X-Frame-Options", cfg.XFrameOptions)
			h.Set("Referrer-Policy", cfg.ReferrerPolicy)
			h.Set("Cross-Origin-Resource-Policy", cfg.CrossOriginResource)
			if cfg.CSP != "" {
				h.Set("Content-Security-Policy", cfg.CSP)
			}
			if cfg.CacheControl != "" {
				h.Set("Cache-Control", cfg.CacheControl)
			}
			// HSTS only over TLS
			if r.TLS != nil && cfg.HSTSMaxAge > 0 {
				v := fmt.Sprintf("max-age=%d", cfg.HSTSMaxAge)
				if cfg.HSTSIncludeSubdomains {
					v += "; includeSubDomains"
				}
				h.Set("Strict-Transport-Security", v)
			}
			next.ServeHTTP(w, r)
		})
	}
}
