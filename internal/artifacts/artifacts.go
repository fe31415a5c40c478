// Package artifacts loads the offline artifacts the service runs on: the
// class dictionary, the trained classifier, and the face and eye cascades.
package artifacts

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/MeKo-Tech/facecls/internal/cascade"
	"github.com/MeKo-Tech/facecls/internal/classifier"
	"github.com/MeKo-Tech/facecls/internal/features"
	"github.com/MeKo-Tech/facecls/internal/labels"
)

// ErrConfiguration marks missing, unreadable or inconsistent artifacts. It
// is fatal at startup.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError names the artifact that failed to load.
type ConfigurationError struct {
	Artifact string
	Path     string
	Err      error
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %s: %v", ErrConfiguration, e.Artifact, e.Err)
	}
	return fmt.Sprintf("%v: %s (%s): %v", ErrConfiguration, e.Artifact, e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Is makes every ConfigurationError match ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Default artifact file names.
const (
	DefaultDir         = "./artifacts"
	DefaultLabelsFile  = "class_dictionary.json"
	DefaultModelFile   = "saved_model.onnx"
	PigoFaceCascade    = "facefinder"
	PigoEyeCascade     = "puploc"
	OpenCVFaceCascade  = "haarcascade_frontalface_default.xml"
	OpenCVEyeCascade   = "haarcascade_eye.xml"
	defaultCascadesDir = "cascades"
)

// Config locates the artifacts. Relative file names resolve against Dir.
type Config struct {
	Dir         string
	LabelsFile  string
	ModelFile   string
	FaceCascade string
	EyeCascade  string

	// Backend is the cascade detector backend.
	Backend string
	// Model holds the ONNX graph options; ModelPath and Classes are filled
	// in by the loader.
	Model classifier.ONNXConfig
}

// Paths are resolved artifact locations.
type Paths struct {
	Labels      string
	Model       string
	FaceCascade string
	EyeCascade  string
}

func (c Config) resolve(name, fallback string) string {
	if name == "" {
		name = fallback
	}
	if filepath.IsAbs(name) {
		return name
	}
	dir := c.Dir
	if dir == "" {
		dir = DefaultDir
	}
	return filepath.Join(dir, name)
}

// Paths returns where each artifact is read from. Cascade defaults depend on
// the backend.
func (c Config) Paths() Paths {
	face, eye := PigoFaceCascade, PigoEyeCascade
	if c.Backend == cascade.BackendGoCV {
		face, eye = OpenCVFaceCascade, OpenCVEyeCascade
	}
	return Paths{
		Labels:      c.resolve(c.LabelsFile, DefaultLabelsFile),
		Model:       c.resolve(c.ModelFile, DefaultModelFile),
		FaceCascade: c.resolve(c.FaceCascade, filepath.Join(defaultCascadesDir, face)),
		EyeCascade:  c.resolve(c.EyeCascade, filepath.Join(defaultCascadesDir, eye)),
	}
}

// Artifacts is an immutable snapshot returned by Loader.Load. Model and
// detectors are owned by the Loader and shared between snapshots.
type Artifacts struct {
	Labels   *labels.Dictionary
	Model    classifier.Model
	Faces    cascade.Detector
	Eyes     cascade.Detector
	Paths    Paths
	LoadedAt time.Time
}

// ModelOpener opens the classifier for a freshly loaded dictionary.
type ModelOpener func(path string, dict *labels.Dictionary) (classifier.Model, error)

// DetectorOpener opens a cascade detector for one pass.
type DetectorOpener func(kind cascade.Kind, backend, path string) (cascade.Detector, error)

// Option customizes a Loader.
type Option func(*Loader)

// WithModelOpener replaces the ONNX model opener.
func WithModelOpener(open ModelOpener) Option {
	return func(l *Loader) { l.openModel = open }
}

// WithDetectorOpener replaces cascade.Open.
func WithDetectorOpener(open DetectorOpener) Option {
	return func(l *Loader) { l.openDetector = open }
}

// Loader owns the long-lived artifacts. The class dictionary is re-read on
// every Load; the model and detectors are opened on the first Load that
// reaches them and kept afterwards.
type Loader struct {
	cfg          Config
	openModel    ModelOpener
	openDetector DetectorOpener

	mu    sync.Mutex
	model classifier.Model
	faces cascade.Detector
	eyes  cascade.Detector
}

// NewLoader returns a Loader for cfg. Nothing is read until Load.
func NewLoader(cfg Config, opts ...Option) *Loader {
	l := &Loader{cfg: cfg, openDetector: cascade.Open}
	l.openModel = l.openONNX
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) openONNX(path string, dict *labels.Dictionary) (classifier.Model, error) {
	cfg := l.cfg.Model
	cfg.ModelPath = path
	cfg.Classes = dict.Indices()
	if cfg.InputSize == 0 {
		cfg.InputSize = features.VectorLength
	}
	return classifier.OpenONNX(cfg)
}

// Load refreshes the dictionary, fills empty slots and checks that the model
// and dictionary agree on the class count.
func (l *Loader) Load() (*Artifacts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	paths := l.cfg.Paths()
	start := time.Now()

	dict, err := labels.Load(paths.Labels)
	if err != nil {
		return nil, &ConfigurationError{Artifact: "class dictionary", Path: paths.Labels, Err: err}
	}

	if l.model == nil {
		m, err := l.openModel(paths.Model, dict)
		if err != nil {
			return nil, &ConfigurationError{Artifact: "classifier", Path: paths.Model, Err: err}
		}
		l.model = m
	}
	if got, want := l.model.NumClasses(), dict.Len(); got != want {
		return nil, &ConfigurationError{
			Artifact: "classifier",
			Path:     paths.Model,
			Err:      &classifier.DimensionError{What: "model class count vs dictionary size", Got: got, Want: want},
		}
	}

	if l.faces == nil {
		d, err := l.openDetector(cascade.KindFace, l.cfg.Backend, paths.FaceCascade)
		if err != nil {
			return nil, &ConfigurationError{Artifact: "face cascade", Path: paths.FaceCascade, Err: err}
		}
		l.faces = d
	}
	if l.eyes == nil {
		d, err := l.openDetector(cascade.KindEye, l.cfg.Backend, paths.EyeCascade)
		if err != nil {
			return nil, &ConfigurationError{Artifact: "eye cascade", Path: paths.EyeCascade, Err: err}
		}
		l.eyes = d
	}

	slog.Info("Artifacts loaded",
		"classes", dict.Len(),
		"labels", paths.Labels,
		"model", paths.Model,
		"backend", l.cfg.Backend,
		"duration", time.Since(start))

	return &Artifacts{
		Labels:   dict,
		Model:    l.model,
		Faces:    l.faces,
		Eyes:     l.eyes,
		Paths:    paths,
		LoadedAt: time.Now(),
	}, nil
}

// Close releases the model and detectors. The Loader may be loaded again.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.model != nil {
		errs = append(errs, l.model.Close())
		l.model = nil
	}
	if l.faces != nil {
		errs = append(errs, l.faces.Close())
		l.faces = nil
	}
	if l.eyes != nil {
		errs = append(errs, l.eyes.Close())
		l.eyes = nil
	}
	return errors.Join(errs...)
}
