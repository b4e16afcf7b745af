package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"imfcscli/internal/shared/testutil"
)

func TestSecureHeadersDefaults(t *testing.T) {
	sh := DefaultSecureHeaders()
	handler := sh.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/report", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))

	csp := w.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "default-src 'self'")
	assert.Contains(t, csp, "https://go-echarts.github.io")
	assert.Contains(t, csp, "connect-src 'self' ws: wss:")

	assert.Contains(t, w.Header().Get("Permissions-Policy"), "camera=()")

	// Plain HTTP outside dev mode gets no HSTS
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestSecureHeadersDevMode(t *testing.T) {
	sh := DefaultSecureHeaders()
	sh.DevMode = true
	handler := sh.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/report", nil))

	// Dev mode skips the default CSP and permissions policy
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))
	assert.Empty(t, w.Header().Get("Permissions-Policy"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestSecureHeadersCustomCSP(t *testing.T) {
	sh := DefaultSecureHeaders()
	sh.ContentSecurityPolicy = "default-src 'none'"
	handler := sh.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "default-src 'none'", w.Header().Get("Content-Security-Policy"))
}

func TestSecureHeadersSkipsWebSocketUpgrade(t *testing.T) {
	sh := DefaultSecureHeaders()
	handler := sh.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Upgrade", "websocket")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("X-Frame-Options"))
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))
}

func TestAuditLog(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)

	handler := RequestID(AuditLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations?type=screening", nil)
	req.Header.Set("User-Agent", "imfcs-test/1.0")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, logHandler.ContainsMessage("audit log"))
	assert.True(t, logHandler.ContainsMessage("audit log complete"))
	assert.True(t, logHandler.ContainsAttr("event_type", "api_access"))
	assert.True(t, logHandler.ContainsAttr("event_type", "api_response"))
	assert.True(t, logHandler.ContainsAttr("status", int64(http.StatusAccepted)))
	assert.True(t, logHandler.ContainsAttr("query", "type=screening"))
}

func TestAuditLogDefaultStatus(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)

	// A handler that writes the body without an explicit WriteHeader
	handler := AuditLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.True(t, logHandler.ContainsAttr("status", int64(http.StatusOK)))
}
