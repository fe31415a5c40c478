package cascade

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendPigo = "pigo"
	BackendGoCV = "gocv"
)

// Kind says which pass a detector serves.
type Kind int

// Detector kinds.
const (
	KindFace Kind = iota
	KindEye
)

func (k Kind) String() string {
	if k == KindEye {
		return "eye"
	}
	return "face"
}

// ErrBackendUnavailable is returned when a backend was not compiled in.
var ErrBackendUnavailable = errors.New("cascade: backend not linked; build with -tags=cascade_gocv")

// Params controls a multi-scale detection pass.
type Params struct {
	// ScaleFactor is the growth of the search window between pyramid levels.
	ScaleFactor float64 `mapstructure:"scale_factor" yaml:"scale_factor" json:"scale_factor"`
	// MinNeighbors is how many overlapping raw hits a candidate needs
	// besides itself to be kept. Zero disables grouping.
	MinNeighbors int `mapstructure:"min_neighbors" yaml:"min_neighbors" json:"min_neighbors"`
	// MinSize and MaxSize bound the window side in pixels. MaxSize 0 means
	// limited by the image.
	MinSize int `mapstructure:"min_size" yaml:"min_size" json:"min_size"`
	MaxSize int `mapstructure:"max_size" yaml:"max_size" json:"max_size"`
	// ShiftFactor is the window step relative to its size (pigo only).
	ShiftFactor float64 `mapstructure:"shift_factor" yaml:"shift_factor" json:"shift_factor"`
	// MinQuality drops raw hits scoring below it (pigo only).
	MinQuality float64 `mapstructure:"min_quality" yaml:"min_quality" json:"min_quality"`
}

// DefaultFaceParams mirrors the face pass of the trained pipeline.
func DefaultFaceParams() Params {
	return Params{
		ScaleFactor:  1.3,
		MinNeighbors: 5,
		MinSize:      30,
		ShiftFactor:  0.1,
	}
}

// DefaultEyeParams mirrors OpenCV's detectMultiScale defaults.
func DefaultEyeParams() Params {
	return Params{
		ScaleFactor:  1.1,
		MinNeighbors: 3,
		MinSize:      10,
		ShiftFactor:  0.1,
	}
}

// Validate checks that the parameters describe a terminating scan.
func (p Params) Validate() error {
	if p.ScaleFactor <= 1.0 {
		return fmt.Errorf("scale factor must be greater than 1, got %.3f", p.ScaleFactor)
	}
	if p.MinNeighbors < 0 {
		return fmt.Errorf("min neighbors must be non-negative, got %d", p.MinNeighbors)
	}
	if p.MinSize < 0 || p.MaxSize < 0 {
		return fmt.Errorf("window sizes must be non-negative, got min=%d max=%d", p.MinSize, p.MaxSize)
	}
	if p.MaxSize > 0 && p.MaxSize < p.MinSize {
		return fmt.Errorf("max size %d smaller than min size %d", p.MaxSize, p.MinSize)
	}
	if p.ShiftFactor < 0 || p.ShiftFactor > 1 {
		return fmt.Errorf("shift factor must be within [0, 1], got %.3f", p.ShiftFactor)
	}
	return nil
}

// Detector finds candidate rectangles in a grayscale image. Returned
// rectangles use the coordinate space of the image passed in, so a
// sub-image yields rectangles inside its own bounds. Implementations must be
// safe for concurrent use.
type Detector interface {
	Detect(gray *image.Gray, p Params) ([]image.Rectangle, error)
	Close() error
}

// Backends lists the backend names this binary can open.
func Backends() []string {
	names := []string{BackendPigo}
	if gocvAvailable {
		names = append(names, BackendGoCV)
	}
	return names
}

// Open loads a cascade file with the named backend. The pigo backend reads
// a pico face cascade for KindFace and a puploc cascade for KindEye; gocv
// reads Haar XML for both.
func Open(kind Kind, backend, path string) (Detector, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendPigo:
		if kind == KindEye {
			return OpenPuploc(path)
		}
		return OpenPigo(path)
	case BackendGoCV:
		return openGoCV(path)
	default:
		return nil, fmt.Errorf("unknown cascade backend %q (available: %s)", backend, strings.Join(Backends(), ", "))
	}
}
