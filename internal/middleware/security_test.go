package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// headersFor runs one request through SecurityHeadersMiddleware and returns
// the response headers.
func headersFor(cfg SecurityHeadersConfig) http.Header {
	r := gin.New()
	r.Use(SecurityHeadersMiddleware(cfg))
	r.GET("/claims/verify", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/claims/verify", nil)
	r.ServeHTTP(w, req)
	return w.Header()
}

func TestShippedConfig(t *testing.T) {
	cfg := APISecurityHeadersConfig()

	if !cfg.EnableHSTS || cfg.HSTSMaxAge != 31536000 {
		t.Errorf("HSTS = %v/%d, want enabled for one year", cfg.EnableHSTS, cfg.HSTSMaxAge)
	}
	if cfg.EnableXSSProtection {
		t.Error("EnableXSSProtection = true, want false for a JSON API")
	}
	if !strings.Contains(cfg.ContentSecurityPolicy, "style-src 'unsafe-inline'") {
		t.Errorf("CSP = %q, must allow inline styles for the verification landing page", cfg.ContentSecurityPolicy)
	}
	if !strings.Contains(cfg.ContentSecurityPolicy, "default-src 'none'") {
		t.Errorf("CSP = %q, everything but inline styles should be denied", cfg.ContentSecurityPolicy)
	}
	if cfg.ReferrerPolicy != "no-referrer" {
		t.Errorf("ReferrerPolicy = %q, want no-referrer", cfg.ReferrerPolicy)
	}
}

func TestHSTSHeader(t *testing.T) {
	t.Run("subdomains without preload", func(t *testing.T) {
		h := headersFor(SecurityHeadersConfig{
			EnableHSTS: true, HSTSMaxAge: 31536000, HSTSIncludeSubdomains: true,
		})
		hsts := h.Get("Strict-Transport-Security")
		if !strings.Contains(hsts, "max-age=31536000") || !strings.Contains(hsts, "includeSubDomains") {
			t.Errorf("HSTS = %q, want max-age and includeSubDomains", hsts)
		}
		if strings.Contains(hsts, "preload") {
			t.Errorf("HSTS = %q, preload must be opt-in", hsts)
		}
	})

	t.Run("preload appended when enabled", func(t *testing.T) {
		h := headersFor(SecurityHeadersConfig{EnableHSTS: true, HSTSMaxAge: 86400, HSTSPreload: true})
		if hsts := h.Get("Strict-Transport-Security"); !strings.Contains(hsts, "preload") {
			t.Errorf("HSTS = %q, want preload", hsts)
		}
	})

	t.Run("absent when disabled", func(t *testing.T) {
		h := headersFor(SecurityHeadersConfig{EnableHSTS: false})
		if got := h.Get("Strict-Transport-Security"); got != "" {
			t.Errorf("HSTS = %q, want absent", got)
		}
	})
}

func TestToggledHeaders(t *testing.T) {
	tests := []struct {
		name   string
		cfg    SecurityHeadersConfig
		header string
		want   string // "" means the header must be absent
	}{
		{"frame options DENY", SecurityHeadersConfig{EnableFrameOptions: true, FrameOptionsValue: "DENY"}, "X-Frame-Options", "DENY"},
		{"frame options SAMEORIGIN", SecurityHeadersConfig{EnableFrameOptions: true, FrameOptionsValue: "SAMEORIGIN"}, "X-Frame-Options", "SAMEORIGIN"},
		{"frame options disabled", SecurityHeadersConfig{EnableFrameOptions: false, FrameOptionsValue: "DENY"}, "X-Frame-Options", ""},
		{"frame options empty value", SecurityHeadersConfig{EnableFrameOptions: true}, "X-Frame-Options", ""},
		{"nosniff enabled", SecurityHeadersConfig{EnableContentTypeOptions: true}, "X-Content-Type-Options", "nosniff"},
		{"nosniff disabled", SecurityHeadersConfig{}, "X-Content-Type-Options", ""},
		{"xss protection enabled", SecurityHeadersConfig{EnableXSSProtection: true}, "X-XSS-Protection", "1; mode=block"},
		{"xss protection disabled", SecurityHeadersConfig{}, "X-XSS-Protection", ""},
		{"csp set", SecurityHeadersConfig{ContentSecurityPolicy: "default-src 'none'"}, "Content-Security-Policy", "default-src 'none'"},
		{"csp empty", SecurityHeadersConfig{}, "Content-Security-Policy", ""},
		{"referrer policy set", SecurityHeadersConfig{ReferrerPolicy: "no-referrer"}, "Referrer-Policy", "no-referrer"},
		{"referrer policy empty", SecurityHeadersConfig{}, "Referrer-Policy", ""},
		{"permissions policy set", SecurityHeadersConfig{PermissionsPolicy: "geolocation=()"}, "Permissions-Policy", "geolocation=()"},
		{"permissions policy empty", SecurityHeadersConfig{}, "Permissions-Policy", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := headersFor(tt.cfg).Get(tt.header); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestUnconditionalHeaders(t *testing.T) {
	// Set even with a zero config.
	h := headersFor(SecurityHeadersConfig{})
	tests := []struct{ header, want string }{
		{"X-Permitted-Cross-Domain-Policies", "none"},
		{"Cross-Origin-Embedder-Policy", "require-corp"},
		{"Cross-Origin-Opener-Policy", "same-origin"},
		{"Cross-Origin-Resource-Policy", "same-origin"},
	}
	for _, tt := range tests {
		if got := h.Get(tt.header); got != tt.want {
			t.Errorf("%s = %q, want %q", tt.header, got, tt.want)
		}
	}
}
