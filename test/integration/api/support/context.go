// Package support holds the godog step definitions for the HTTP API suite.
// Scenarios run against an in-process server backed by synthetic detectors
// and a constant model, so no artifacts are needed.
package support

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/MeKo-Tech/facecls/internal/artifacts"
	"github.com/MeKo-Tech/facecls/internal/classifier"
	"github.com/MeKo-Tech/facecls/internal/features"
	"github.com/MeKo-Tech/facecls/internal/labels"
	"github.com/MeKo-Tech/facecls/internal/server"
	"github.com/MeKo-Tech/facecls/internal/service"
	"github.com/MeKo-Tech/facecls/internal/testutil"
)

// Players is the class dictionary every scenario starts with.
var Players = map[string]int{
	"lionel_messi":    0,
	"maria_sharapova": 1,
	"roger_federer":   2,
	"serena_williams": 3,
	"virat_kohli":     4,
}

// APIContext holds the state of one scenario.
type APIContext struct {
	// Server configuration, applied when the server starts.
	Config      server.Config
	Predicted   string
	WithService bool

	server *server.Server
	http   *httptest.Server

	// Request input
	Image []byte

	// Last response
	LastStatus  int
	LastHeaders http.Header
	LastBody    []byte
}

// NewAPIContext returns a fresh scenario state.
func NewAPIContext() *APIContext {
	return &APIContext{
		Config:      server.Config{Version: "integration"},
		Predicted:   "roger_federer",
		WithService: true,
	}
}

// Cleanup stops the test server.
func (c *APIContext) Cleanup() {
	if c.http != nil {
		c.http.Close()
		c.http = nil
	}
}

func (c *APIContext) newService() (*service.Service, error) {
	dict, err := labels.New(Players)
	if err != nil {
		return nil, err
	}
	idx, ok := dict.Index(c.Predicted)
	if !ok {
		return nil, fmt.Errorf("unknown class %q", c.Predicted)
	}
	pos, _ := dict.Position(idx)
	return service.New(&artifacts.Artifacts{
		Labels:   dict,
		Model:    classifier.ConstantModel(features.VectorLength, dict.Len(), pos),
		Faces:    testutil.FaceBlobDetector(),
		Eyes:     testutil.EyeBlobDetector(),
		LoadedAt: time.Now(),
	}, service.DefaultConfig())
}

// baseURL starts the server on first use and returns its address.
func (c *APIContext) baseURL() (string, error) {
	if c.http != nil {
		return c.http.URL, nil
	}

	srv, err := server.NewServer(c.Config)
	if err != nil {
		return "", err
	}
	if c.WithService {
		svc, err := c.newService()
		if err != nil {
			return "", err
		}
		srv.SetService(svc)
	}
	c.server = srv
	c.http = httptest.NewServer(srv.Handler())
	return c.http.URL, nil
}

// swapService replaces the running service, as a reload would.
func (c *APIContext) swapService() error {
	if c.server == nil {
		return errors.New("server is not running")
	}
	svc, err := c.newService()
	if err != nil {
		return err
	}
	c.server.SetService(svc)
	return nil
}

func (c *APIContext) setImage(img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	c.Image = buf.Bytes()
	return nil
}

func (c *APIContext) imageBase64() string {
	return base64.StdEncoding.EncodeToString(c.Image)
}
