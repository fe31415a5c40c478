package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// requestIDMiddleware echoes the caller's X-Request-ID or generates one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers, records metrics and logs the request.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+RequestIDHeader)
		w.Header().Set("Access-Control-Expose-Headers", RequestIDHeader)
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		start := time.Now()
		next(rw, r)
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, http.StatusText(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())

		slog.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration", duration,
			"request_id", RequestID(r.Context()))
	}
}

// rateLimitMiddleware enforces per-client rate limits and daily quotas.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil {
			next(w, r)
			return
		}

		var dataSize int64
		if r.ContentLength > 0 {
			dataSize = r.ContentLength
		}

		if err := s.allow(s.clientKey(r), dataSize); err != nil {
			s.handleRateLimitError(w, err)
			return
		}

		next(w, r)
	}
}

// allow charges one request to client and counts rejections by type.
func (s *Server) allow(client string, dataSize int64) error {
	err := s.rateLimiter.Allow(client, dataSize)
	var rle *RateLimitError
	var qe *QuotaExceededError
	switch {
	case errors.As(err, &rle):
		rateLimitHits.WithLabelValues(rle.Type).Inc()
	case errors.As(err, &qe):
		rateLimitHits.WithLabelValues(qe.Type).Inc()
	}
	return err
}

// clientKey is the rate limiter key for r.
func (s *Server) clientKey(r *http.Request) string {
	return getClientIP(r, s.trustProxy)
}

// handleRateLimitError writes a 429 with headers describing the limit.
func (s *Server) handleRateLimitError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var rle *RateLimitError
	var qe *QuotaExceededError
	switch {
	case errors.As(err, &rle):
		w.Header().Set("X-RateLimit-Type", rle.Type)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rle.RetryAfter.Seconds()))
	case errors.As(err, &qe):
		w.Header().Set("X-Quota-Type", qe.Type)
		w.Header().Set("X-Quota-Limit", strconv.FormatInt(qe.Limit, 10))
		w.Header().Set("X-Quota-Used", strconv.FormatInt(qe.Used, 10))
		w.Header().Set("X-Quota-Resets", qe.Resets.UTC().Format(http.TimeFormat))
	default:
		s.writeErrorResponse(w, "Rate limiting check failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusTooManyRequests)
	if encErr := json.NewEncoder(w).Encode(ErrorResponse{Success: false, Error: err.Error()}); encErr != nil {
		slog.Error("Failed to encode rate limit response", "error", encErr)
	}
}

// getClientIP extracts the client IP address from the request. Proxy
// headers are honored only when trustProxy is set; clients can forge them.
func getClientIP(r *http.Request, trustProxy bool) string {
	if !trustProxy {
		return remoteIP(r)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return remoteIP(r)
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
