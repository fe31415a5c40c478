package server

import (
	"errors"
	"image"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/facecls/internal/service"
)

// Classifier is what the server needs from the classification service.
type Classifier interface {
	Classify(in service.Input) ([]service.Result, error)
	ClassifyImage(img image.Image) ([]service.Result, error)
	Labels() map[string]int
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	mu  sync.RWMutex
	svc Classifier

	corsOrigin  string
	maxUploadMB int64
	version     string
	rateLimiter *RateLimiter
	trustProxy  bool
}

// Config holds server configuration.
type Config struct {
	CORSOrigin  string
	MaxUploadMB int64
	Version     string
	RateLimit   RateLimitConfig
}

// Defaults applied by NewServer.
const (
	DefaultCORSOrigin  = "*"
	DefaultMaxUploadMB = 50
)

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// LabelsResponse is returned by /labels.
type LabelsResponse struct {
	ClassDictionary map[string]int `json:"class_dictionary"`
	Count           int            `json:"count"`
}

// ClassifyRequest is the JSON body accepted by /classify_image.
type ClassifyRequest struct {
	ImageData string `json:"image_data"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer creates a server without a classification service. Until
// SetService is called, classification endpoints answer 503.
func NewServer(config Config) (*Server, error) {
	if config.MaxUploadMB < 0 {
		return nil, errors.New("max upload size must not be negative")
	}
	if config.MaxUploadMB == 0 {
		config.MaxUploadMB = DefaultMaxUploadMB
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = DefaultCORSOrigin
	}

	s := &Server{
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		version:     config.Version,
		trustProxy:  config.RateLimit.TrustProxyHeaders,
	}
	if config.RateLimit.Enabled() {
		s.rateLimiter = NewRateLimiter(config.RateLimit)
	}
	return s, nil
}

// SetService installs or replaces the classification service. Requests in
// flight keep the service they started with.
func (s *Server) SetService(svc Classifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.svc = svc
}

func (s *Server) service() Classifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.svc
}

func (s *Server) maxUploadBytes() int64 { return s.maxUploadMB * 1024 * 1024 }

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/labels", s.corsMiddleware(s.labelsHandler))
	mux.HandleFunc("/classify_image", s.corsMiddleware(s.rateLimitMiddleware(s.classifyImageHandler)))
	mux.HandleFunc("/ws/classify", s.classifyWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns the routes wrapped with request ID handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return requestIDMiddleware(mux)
}
