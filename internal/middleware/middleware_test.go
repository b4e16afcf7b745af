package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imfcscli/internal/infrastructure"
	"imfcscli/internal/shared/testutil"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) Problem {
	t.Helper()
	var p Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantSame bool
	}{
		{
			name: "generates request ID when absent",
		},
		{
			name:     "honours client supplied header",
			header:   "client-id-7",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetReqID(r.Context())

				// Chi's accessor must observe the same ID
				assert.Equal(t, seen, chimiddleware.GetReqID(r.Context()))

				// And it doubles as the trace ID for logging
				assert.Equal(t, seen, infrastructure.GetTraceID(r.Context()))

				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			require.NotEmpty(t, seen)
			assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
			if tt.wantSame {
				assert.Equal(t, tt.header, seen)
			}
		})
	}
}

func TestStructuredLogger(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)

	handler := RequestID(StructuredLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"status":"started"}`))
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/operations", nil)
	req.Header.Set("User-Agent", "imfcs-test/1.0")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, logHandler.ContainsMessage("request started"))
	assert.True(t, logHandler.ContainsMessage("request completed"))
	assert.True(t, logHandler.ContainsAttr("method", "POST"))
	assert.True(t, logHandler.ContainsAttr("path", "/api/v1/operations"))
	assert.True(t, logHandler.ContainsAttr("status", int64(http.StatusCreated)))
	assert.True(t, logHandler.ContainsAttr("user_agent", "imfcs-test/1.0"))
}

func TestRecoverer(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)

	handler := RequestID(Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("fit cube dimensions disagree")
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/cellA_3", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	problem := decodeProblem(t, w)
	assert.Equal(t, "/errors/internal-server-error", problem.Type)
	assert.Equal(t, http.StatusInternalServerError, problem.Status)
	assert.NotEmpty(t, problem.Trace)

	assert.True(t, logHandler.ContainsMessage("panic recovered"))
	assert.True(t, logHandler.ContainsAttr("path", "/api/v1/runs/cellA_3"))
}

func TestRecovererPassthrough(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)

	handler := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, logHandler.Count())
}

func TestRateLimiter(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)

	// One request allowed, no refill within the test window
	rl := NewRateLimiter(0.0001, 1, logger)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/v1/batches", nil))

	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	problem := decodeProblem(t, second)
	assert.Equal(t, "/errors/rate-limit-exceeded", problem.Type)
	assert.Equal(t, "Too Many Requests", problem.Title)

	assert.True(t, logHandler.ContainsMessage("rate limit exceeded"))
}

func TestTimeout(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)

	t.Run("request within deadline passes through", func(t *testing.T) {
		handler := Timeout(time.Second, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("slow request returns gateway timeout", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		// The handler blocks without touching the writer so the middleware
		// owns the response
		handler := Timeout(20*time.Millisecond, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/operations", nil))

		assert.Equal(t, http.StatusGatewayTimeout, w.Code)

		problem := decodeProblem(t, w)
		assert.Equal(t, "/errors/request-timeout", problem.Type)

		assert.True(t, logHandler.ContainsMessage("request timeout"))
	})
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		config     CORSConfig
		origin     string
		method     string
		wantStatus int
		wantOrigin string
	}{
		{
			name:       "allowed origin is echoed",
			config:     CORSConfig{AllowedOrigins: []string{"http://localhost:8080"}},
			origin:     "http://localhost:8080",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantOrigin: "http://localhost:8080",
		},
		{
			name:       "origin matching is case insensitive",
			config:     CORSConfig{AllowedOrigins: []string{"http://LocalHost:8080"}},
			origin:     "http://localhost:8080",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantOrigin: "http://localhost:8080",
		},
		{
			name:       "wildcard allows any origin",
			config:     CORSConfig{AllowedOrigins: []string{"*"}},
			origin:     "http://example.com",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantOrigin: "http://example.com",
		},
		{
			name:       "disallowed origin gets no allow header",
			config:     CORSConfig{AllowedOrigins: []string{"http://localhost:8080"}},
			origin:     "http://evil.example.com",
			method:     http.MethodGet,
			wantStatus: http.StatusOK,
			wantOrigin: "",
		},
		{
			name:       "preflight request short circuits",
			config:     CORSConfig{AllowedOrigins: []string{"http://localhost:8080"}},
			origin:     "http://localhost:8080",
			method:     http.MethodOptions,
			wantStatus: http.StatusNoContent,
			wantOrigin: "http://localhost:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached := false
			handler := CORS(tt.config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				reached = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/v1/runs", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))

			// Defaults are always advertised
			assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "GET")
			assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
			assert.Equal(t, "300", w.Header().Get("Access-Control-Max-Age"))

			if tt.method == http.MethodOptions {
				assert.False(t, reached, "preflight should not reach the handler")
			} else {
				assert.True(t, reached)
			}
		})
	}
}

func TestProblemFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantType  string
		wantTitle string
	}{
		{http.StatusBadRequest, "/errors/bad-request", "Bad Request"},
		{http.StatusNotFound, "/errors/not-found", "Not Found"},
		{http.StatusMethodNotAllowed, "/errors/method-not-allowed", "Method Not Allowed"},
		{http.StatusConflict, "/errors/conflict", "Conflict"},
		{http.StatusTooManyRequests, "/errors/rate-limit-exceeded", "Too Many Requests"},
		{http.StatusInternalServerError, "/errors/internal-server-error", "Internal Server Error"},
		{http.StatusServiceUnavailable, "/errors/service-unavailable", "Service Unavailable"},
		{http.StatusGatewayTimeout, "/errors/gateway-timeout", "Gateway Timeout"},
		{http.StatusTeapot, "/errors/unknown", "I'm a teapot"},
	}

	for _, tt := range tests {
		t.Run(tt.wantTitle, func(t *testing.T) {
			p := ProblemFromStatus(tt.status, "detail text", "trace-1")
			assert.Equal(t, tt.wantType, p.Type)
			assert.Equal(t, tt.wantTitle, p.Title)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, "detail text", p.Detail)
			assert.Equal(t, "trace-1", p.Trace)
		})
	}
}

func TestProblemRender(t *testing.T) {
	p := Problem{
		Type:   "/errors/not-found",
		Title:  "Not Found",
		Status: http.StatusNotFound,
		Detail: "run cellA_9 not found",
		Trace:  "trace-9",
	}

	w := httptest.NewRecorder()
	err := p.Render(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs/cellA_9", nil))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(w.Body.String(), `"run cellA_9 not found"`))
}
