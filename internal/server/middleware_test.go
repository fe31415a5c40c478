package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_CORSMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		corsOrigin     string
		method         string
		shouldCallNext bool
	}{
		{"GET with wildcard", "*", http.MethodGet, true},
		{"POST with specific origin", "https://example.com", http.MethodPost, true},
		{"OPTIONS preflight", "*", http.MethodOptions, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := &Server{corsOrigin: tt.corsOrigin}

			nextCalled := false
			corsHandler := server.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
				nextCalled = true
				w.WriteHeader(http.StatusAccepted)
			})

			w := httptest.NewRecorder()
			corsHandler(w, httptest.NewRequest(tt.method, "/classify_image", nil))

			assert.Equal(t, tt.corsOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), RequestIDHeader)
			assert.Equal(t, tt.shouldCallNext, nextCalled)
			if tt.shouldCallNext {
				assert.Equal(t, http.StatusAccepted, w.Code)
			} else {
				assert.Equal(t, http.StatusOK, w.Code)
			}
		})
	}
}

func TestResponseWriter_CapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
	rw.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusTeapot, rw.statusCode)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := requestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Len(t, seen, 36, "a UUID is generated")
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remote     string
		trustProxy bool
		want       string
	}{
		{"forwarded list", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "1.2.3.4:5", true, "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": " 10.0.0.9 "}, "1.2.3.4:5", true, "10.0.0.9"},
		{"trusted without headers", nil, "1.2.3.4:5678", true, "1.2.3.4"},
		{"untrusted forwarded", map[string]string{"X-Forwarded-For": "10.0.0.1"}, "1.2.3.4:5", false, "1.2.3.4"},
		{"untrusted real ip", map[string]string{"X-Real-IP": "10.0.0.9"}, "1.2.3.4:5", false, "1.2.3.4"},
		{"remote addr", nil, "1.2.3.4:5678", false, "1.2.3.4"},
		{"remote without port", nil, "1.2.3.4", false, "1.2.3.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, getClientIP(req, tt.trustProxy))
		})
	}
}

func TestRateLimitMiddleware_ForgedForwardedFor(t *testing.T) {
	server, err := NewServer(Config{RateLimit: RateLimitConfig{RequestsPerMinute: 1}})
	require.NoError(t, err)
	h := server.rateLimitMiddleware(func(http.ResponseWriter, *http.Request) {})

	codes := make([]int, 0, 3)
	for i := range 3 {
		req := httptest.NewRequest(http.MethodPost, "/classify_image", nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		w := httptest.NewRecorder()
		h(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, server.rateLimiter.Clients())
}

func TestRateLimitMiddleware_TrustedProxy(t *testing.T) {
	server, err := NewServer(Config{RateLimit: RateLimitConfig{RequestsPerMinute: 1, TrustProxyHeaders: true}})
	require.NoError(t, err)
	h := server.rateLimitMiddleware(func(http.ResponseWriter, *http.Request) {})

	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		req := httptest.NewRequest(http.MethodPost, "/classify_image", nil)
		req.Header.Set("X-Forwarded-For", ip)
		w := httptest.NewRecorder()
		h(w, req)
		assert.Equal(t, http.StatusOK, w.Code, ip)
	}
	assert.Equal(t, 2, server.rateLimiter.Clients())
}

func TestRateLimitMiddleware(t *testing.T) {
	server, err := NewServer(Config{RateLimit: RateLimitConfig{RequestsPerMinute: 2}})
	require.NoError(t, err)

	calls := 0
	h := server.rateLimitMiddleware(func(w http.ResponseWriter, r *http.Request) { calls++ })

	for range 2 {
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodPost, "/classify_image", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/classify_image", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "minute", w.Header().Get("X-RateLimit-Type"))
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, 2, calls)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.False(t, response.Success)
	assert.Contains(t, response.Error, "rate limit exceeded")
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	server := &Server{}
	called := false
	server.rateLimitMiddleware(func(http.ResponseWriter, *http.Request) { called = true })(
		httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", nil))
	assert.True(t, called)
}
