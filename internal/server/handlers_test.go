package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/facecls/internal/classifier"
	"github.com/MeKo-Tech/facecls/internal/utils"
)

func TestServer_HealthHandler(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		withService    bool
		expectedStatus int
	}{
		{"GET before load", http.MethodGet, false, http.StatusOK},
		{"GET after load", http.MethodGet, true, http.StatusOK},
		{"POST not allowed", http.MethodPost, true, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewServer(Config{Version: "1.2.3"})
			require.NoError(t, err)
			if tt.withService {
				server.SetService(newTestService(t, 0))
			}

			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()
			server.healthHandler(w, req)

			require.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}

			var response HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "healthy", response.Status)
			assert.Equal(t, tt.withService, response.Ready)
			assert.Equal(t, "1.2.3", response.Version)
			assert.NotEmpty(t, response.Time)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestServer_LabelsHandler(t *testing.T) {
	server := newTestServer(t)

	w := httptest.NewRecorder()
	server.labelsHandler(w, httptest.NewRequest(http.MethodGet, "/labels", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response LabelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, testLabels, response.ClassDictionary)
	assert.Equal(t, 5, response.Count)

	empty, err := NewServer(Config{})
	require.NoError(t, err)
	w = httptest.NewRecorder()
	empty.labelsHandler(w, httptest.NewRequest(http.MethodGet, "/labels", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_WriteErrorResponse(t *testing.T) {
	server := &Server{}

	tests := []struct {
		name       string
		message    string
		statusCode int
	}{
		{"bad request error", "Invalid input", http.StatusBadRequest},
		{"internal server error", "Something went wrong", http.StatusInternalServerError},
		{"unavailable", "Classifier not loaded", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			server.writeErrorResponse(w, tt.message, tt.statusCode)

			assert.Equal(t, tt.statusCode, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.False(t, response.Success)
			assert.Equal(t, tt.message, response.Error)
		})
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"decode", &utils.DecodeError{Source: "base64", Err: errors.New("bad")}, http.StatusBadRequest},
		{"wrapped decode", fmt.Errorf("x: %w", &utils.DecodeError{Source: "bytes", Err: errors.New("bad")}), http.StatusBadRequest},
		{"too large", &http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{"request", errNoImage, http.StatusBadRequest},
		{"dimension", &classifier.DimensionError{What: "feature vector length", Got: 1, Want: 2}, http.StatusInternalServerError},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := statusForError(tt.err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestServer_SetupRoutes(t *testing.T) {
	server := newTestServer(t)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	for _, path := range []string{"/health", "/labels", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotEmpty(t, resp.Header.Get(RequestIDHeader), path)
	}

	resp, err := http.Get(ts.URL + "/classify_image")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestNewServer_Defaults(t *testing.T) {
	s, err := NewServer(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCORSOrigin, s.corsOrigin)
	assert.Equal(t, int64(DefaultMaxUploadMB), s.maxUploadMB)
	assert.Nil(t, s.rateLimiter)

	s, err = NewServer(Config{RateLimit: RateLimitConfig{RequestsPerMinute: 10}})
	require.NoError(t, err)
	assert.NotNil(t, s.rateLimiter)

	_, err = NewServer(Config{MaxUploadMB: -1})
	assert.Error(t, err)
}

func BenchmarkServer_HealthHandler(b *testing.B) {
	server := &Server{}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	b.ResetTimer()
	for range b.N {
		w := httptest.NewRecorder()
		server.healthHandler(w, req)
	}
}
