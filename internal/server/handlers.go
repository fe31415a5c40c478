package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/facecls/internal/classifier"
	"github.com/MeKo-Tech/facecls/internal/service"
	"github.com/MeKo-Tech/facecls/internal/utils"
)

const (
	sourceHTTP      = "http"
	sourceWebSocket = "websocket"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Ready:   s.service() != nil,
		Version: s.version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// labelsHandler returns the class dictionary of the loaded service.
func (s *Server) labelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	svc := s.service()
	if svc == nil {
		s.writeErrorResponse(w, "Classifier not loaded", http.StatusServiceUnavailable)
		return
	}

	dict := svc.Labels()
	s.writeJSON(w, http.StatusOK, LabelsResponse{ClassDictionary: dict, Count: len(dict)})
}

// classifyImageHandler classifies the faces in one uploaded image and
// answers with a JSON array of per-face results.
func (s *Server) classifyImageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	svc := s.service()
	if svc == nil {
		classificationsTotal.WithLabelValues(sourceHTTP, "unavailable").Inc()
		s.writeErrorResponse(w, "Classifier not loaded", http.StatusServiceUnavailable)
		return
	}

	payload, err := s.parseClassifyRequest(w, r)
	if err != nil {
		s.writeClassifyError(w, r, err)
		return
	}

	start := time.Now()
	results, err := payload.run(svc)
	duration := time.Since(start)
	if err != nil {
		s.writeClassifyError(w, r, err)
		return
	}

	recordClassification(sourceHTTP, results, duration)
	slog.Debug("Classification completed",
		"faces", len(results),
		"duration", duration,
		"request_id", RequestID(r.Context()))

	s.writeJSON(w, http.StatusOK, results)
}

func recordClassification(source string, results []service.Result, duration time.Duration) {
	classificationsTotal.WithLabelValues(source, "success").Inc()
	classificationDuration.WithLabelValues(source).Observe(duration.Seconds())
	facesPerRequest.WithLabelValues(source).Observe(float64(len(results)))
	for _, r := range results {
		predictedClassTotal.WithLabelValues(r.Class).Inc()
	}
}

// requestError is a caller mistake with a fixed status.
type requestError struct {
	Status  int
	Message string
	Err     error
}

func (e *requestError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *requestError) Unwrap() error { return e.Err }

// statusForError maps an error to the HTTP status and the message shown to
// the caller.
func statusForError(err error) (int, string) {
	var reqErr *requestError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "File too large"
	case errors.As(err, &reqErr):
		return reqErr.Status, reqErr.Error()
	case errors.Is(err, utils.ErrDecode):
		return http.StatusBadRequest, fmt.Sprintf("Invalid image: %v", err)
	case errors.Is(err, classifier.ErrDimensionMismatch):
		return http.StatusInternalServerError, fmt.Sprintf("Model and features disagree: %v", err)
	default:
		return http.StatusInternalServerError, fmt.Sprintf("Classification failed: %v", err)
	}
}

func (s *Server) writeClassifyError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusForError(err)
	classificationsTotal.WithLabelValues(sourceHTTP, "error").Inc()

	attrs := []any{"status", status, "error", err, "request_id", RequestID(r.Context())}
	if status >= http.StatusInternalServerError {
		slog.Error("Classification failed", attrs...)
	} else {
		slog.Warn("Classification rejected", attrs...)
	}
	s.writeErrorResponse(w, msg, status)
}

// writeJSON writes v as a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
