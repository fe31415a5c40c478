// Package service composes decoding, face location, feature extraction and
// classification into one request-scoped operation.
package service

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/facecls/internal/artifacts"
	"github.com/MeKo-Tech/facecls/internal/classifier"
	"github.com/MeKo-Tech/facecls/internal/common"
	"github.com/MeKo-Tech/facecls/internal/features"
	"github.com/MeKo-Tech/facecls/internal/labels"
	"github.com/MeKo-Tech/facecls/internal/locator"
	"github.com/MeKo-Tech/facecls/internal/utils"
)

// Input carries one image. Path takes precedence over Base64. With both
// empty there is nothing to classify and the result is empty.
type Input struct {
	Path   string
	Base64 string
}

// Box is a face rectangle in image coordinates.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func boxOf(r image.Rectangle) Box {
	return Box{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rect converts b back to an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Result is the classification of one face.
type Result struct {
	Class            string         `json:"class"`
	ClassProbability []float64      `json:"class_probability"`
	ClassDictionary  map[string]int `json:"class_dictionary"`
	Box              Box            `json:"box"`
}

// FaceFeatures is the feature vector of one qualifying face.
type FaceFeatures struct {
	Box    Box             `json:"box"`
	Vector features.Vector `json:"vector"`
}

// Config tunes detection and feature extraction.
type Config struct {
	Locator  locator.Config
	Features features.Config
}

// DefaultConfig returns the settings the model was trained with.
func DefaultConfig() Config {
	return Config{Locator: locator.DefaultConfig(), Features: features.DefaultConfig()}
}

// Service classifies faces. A Service exists only once artifacts have
// loaded, and it is safe for concurrent use.
type Service struct {
	locator    *locator.Locator
	builder    *features.Builder
	classifier *classifier.Classifier
	labels     *labels.Dictionary
	loadedAt   time.Time
}

// New builds a Service over a loaded artifact snapshot.
func New(a *artifacts.Artifacts, cfg Config) (*Service, error) {
	if a == nil || a.Labels == nil || a.Model == nil {
		return nil, errors.New("service: artifacts not loaded")
	}
	loc, err := locator.New(a.Faces, a.Eyes, cfg.Locator)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	builder, err := features.NewBuilder(cfg.Features)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	clf, err := classifier.New(a.Model, a.Labels.Len())
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	if builder.Length() != clf.InputSize() {
		return nil, fmt.Errorf("service: %w", &classifier.DimensionError{
			What: "feature vector length vs model input", Got: builder.Length(), Want: clf.InputSize(),
		})
	}
	return &Service{
		locator:    loc,
		builder:    builder,
		classifier: clf,
		labels:     a.Labels,
		loadedAt:   a.LoadedAt,
	}, nil
}

// Labels returns a copy of the class dictionary.
func (s *Service) Labels() map[string]int { return s.labels.Map() }

// LoadedAt reports when the underlying artifacts were loaded.
func (s *Service) LoadedAt() time.Time { return s.loadedAt }

// Decode resolves in to an image. It returns nil without error when in is
// empty.
func Decode(in Input) (image.Image, error) {
	switch {
	case in.Path != "":
		img, _, err := utils.LoadImage(in.Path)
		return img, err
	case in.Base64 != "":
		return utils.DecodeBase64(in.Base64)
	default:
		return nil, nil //nolint:nilnil // empty input is not an error
	}
}

// Classify decodes in and classifies every face with at least the
// configured number of eyes.
func (s *Service) Classify(in Input) ([]Result, error) {
	img, err := Decode(in)
	if err != nil {
		return nil, err
	}
	return s.ClassifyImage(img)
}

// ClassifyImage classifies the faces in img. A failure on any face fails
// the whole call. No qualifying faces yields an empty, non-nil slice.
func (s *Service) ClassifyImage(img image.Image) ([]Result, error) {
	start := time.Now()
	faces, err := s.locator.Locate(img)
	if err != nil {
		return nil, fmt.Errorf("locate faces: %w", err)
	}
	locate := time.Since(start)

	results := make([]Result, 0, len(faces))
	for i, face := range faces {
		r, err := s.classifyFace(i, face)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}

	slog.Debug("Image classified",
		"faces", len(results),
		"locate_duration", locate,
		"duration", time.Since(start))
	return results, nil
}

func (s *Service) classifyFace(i int, face locator.Face) (Result, error) {
	timer := common.NewTimer("face")

	vec, err := s.builder.Build(face.Crop)
	if err != nil {
		return Result{}, fmt.Errorf("face %d: %w", i, err)
	}
	timer.Lap("features")

	idx, err := s.classifier.Predict(vec)
	if err != nil {
		return Result{}, fmt.Errorf("face %d: %w", i, err)
	}
	timer.Lap("predict")

	probs, err := s.classifier.PredictProbabilities(vec)
	if err != nil {
		return Result{}, fmt.Errorf("face %d: %w", i, err)
	}
	timer.Lap("probabilities")

	name, ok := s.labels.Name(idx)
	if !ok {
		return Result{}, fmt.Errorf("face %d: %w: predicted class %d is not in the dictionary",
			i, classifier.ErrDimensionMismatch, idx)
	}

	slog.Debug("Face classified",
		"face", i,
		"class", name,
		"box", face.Box.String(),
		"eyes", len(face.Eyes),
		timer.LogAttr())

	return Result{
		Class:            name,
		ClassProbability: probs,
		ClassDictionary:  s.labels.Map(),
		Box:              boxOf(face.Box),
	}, nil
}

// Features returns the feature vector of every qualifying face in img.
func (s *Service) Features(img image.Image) ([]FaceFeatures, error) {
	faces, err := s.locator.Locate(img)
	if err != nil {
		return nil, fmt.Errorf("locate faces: %w", err)
	}
	out := make([]FaceFeatures, 0, len(faces))
	for i, face := range faces {
		vec, err := s.builder.Build(face.Crop)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		out = append(out, FaceFeatures{Box: boxOf(face.Box), Vector: vec})
	}
	return out, nil
}
