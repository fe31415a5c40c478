// Package locator finds face regions that contain at least two eyes and
// returns their color crops.
package locator

import (
	"errors"
	"fmt"
	"image"

	"github.com/MeKo-Tech/facecls/internal/cascade"
	"github.com/MeKo-Tech/facecls/internal/utils"
)

// DefaultMinEyes is the number of eyes a face region needs to qualify.
const DefaultMinEyes = 2

// Config holds detection parameters for both passes.
type Config struct {
	Face    cascade.Params `mapstructure:"face" yaml:"face" json:"face"`
	Eye     cascade.Params `mapstructure:"eye" yaml:"eye" json:"eye"`
	MinEyes int            `mapstructure:"min_eyes" yaml:"min_eyes" json:"min_eyes"`
}

// DefaultConfig returns the parameters the classifier was trained with.
func DefaultConfig() Config {
	return Config{
		Face:    cascade.DefaultFaceParams(),
		Eye:     cascade.DefaultEyeParams(),
		MinEyes: DefaultMinEyes,
	}
}

// Validate checks both detection passes.
func (c Config) Validate() error {
	if err := c.Face.Validate(); err != nil {
		return fmt.Errorf("face detection: %w", err)
	}
	if err := c.Eye.Validate(); err != nil {
		return fmt.Errorf("eye detection: %w", err)
	}
	if c.MinEyes < 1 {
		return fmt.Errorf("min eyes must be at least 1, got %d", c.MinEyes)
	}
	return nil
}

// Face is a qualifying face region.
type Face struct {
	// Box is the face rectangle in image coordinates.
	Box image.Rectangle
	// Eyes are the eye rectangles found inside Box, in image coordinates.
	Eyes []image.Rectangle
	// Crop is a copy of the color pixels under Box, anchored at (0,0).
	Crop *image.NRGBA
}

// Locator runs the face pass and the per-face eye pass.
type Locator struct {
	faces  cascade.Detector
	eyes   cascade.Detector
	config Config
}

// New builds a Locator from two detectors.
func New(faces, eyes cascade.Detector, config Config) (*Locator, error) {
	if faces == nil || eyes == nil {
		return nil, errors.New("locator needs both a face and an eye detector")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Locator{faces: faces, eyes: eyes, config: config}, nil
}

// Config returns the detection parameters in use.
func (l *Locator) Config() Config { return l.config }

// Locate returns every face of img with at least MinEyes eyes, in the face
// detector's order. A nil image yields no faces.
func (l *Locator) Locate(img image.Image) ([]Face, error) {
	if img == nil {
		return []Face{}, nil
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return []Face{}, nil
	}

	gray := utils.Grayscale(img)
	faceRects, err := l.faces.Detect(gray, l.config.Face)
	if err != nil {
		return nil, fmt.Errorf("face detection: %w", err)
	}

	faces := make([]Face, 0, len(faceRects))
	for _, r := range faceRects {
		box := r.Intersect(gray.Bounds())
		if box.Empty() {
			continue
		}
		roi, ok := gray.SubImage(box).(*image.Gray)
		if !ok {
			return nil, fmt.Errorf("face region %v: unexpected sub-image type", box)
		}
		eyes, err := l.eyes.Detect(roi, l.config.Eye)
		if err != nil {
			return nil, fmt.Errorf("eye detection in %v: %w", box, err)
		}
		if len(eyes) < l.config.MinEyes {
			continue
		}

		// gray is anchored at (0,0); map the box back into img's space.
		crop, err := utils.CropRect(img, box.Add(bounds.Min))
		if err != nil {
			return nil, err
		}
		faces = append(faces, Face{
			Box:  box.Add(bounds.Min),
			Eyes: offsetAll(eyes, bounds.Min),
			Crop: crop,
		})
	}
	return faces, nil
}

func offsetAll(rects []image.Rectangle, p image.Point) []image.Rectangle {
	out := make([]image.Rectangle, len(rects))
	for i, r := range rects {
		out[i] = r.Add(p)
	}
	return out
}
