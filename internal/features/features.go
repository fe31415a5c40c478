// Package features turns a face crop into the fixed-length vector the
// classifier was trained on: a small color thumbnail followed by a thumbnail
// of the crop's wavelet detail image.
package features

import (
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/facecls/internal/utils"
	"github.com/MeKo-Tech/facecls/internal/wavelet"
)

// DefaultSize is the thumbnail edge length.
const DefaultSize = 32

// VectorLength is Length(DefaultSize).
const VectorLength = DefaultSize*DefaultSize*3 + DefaultSize*DefaultSize

// Vector is a flattened feature vector.
type Vector []float64

// Length returns the vector length for thumbnails of edge size.
func Length(size int) int {
	return size*size*3 + size*size
}

// Config controls vector construction. The defaults reproduce the training
// pipeline; changing them invalidates a trained model.
type Config struct {
	Size             int    `mapstructure:"size" yaml:"size" json:"size"`
	Wavelet          string `mapstructure:"wavelet" yaml:"wavelet" json:"wavelet"`
	Level            int    `mapstructure:"level" yaml:"level" json:"level"`
	ResizeFilter     string `mapstructure:"resize_filter" yaml:"resize_filter" json:"resize_filter"`
	SwapGrayChannels bool   `mapstructure:"swap_gray_channels" yaml:"swap_gray_channels" json:"swap_gray_channels"`
}

// DefaultConfig returns the training configuration.
func DefaultConfig() Config {
	return Config{
		Size:             DefaultSize,
		Wavelet:          wavelet.DefaultMode,
		Level:            wavelet.DefaultLevel,
		ResizeFilter:     "linear",
		SwapGrayChannels: true,
	}
}

// Validate checks that c describes a buildable vector.
func (c Config) Validate() error {
	var errs []error
	if c.Size <= 0 {
		errs = append(errs, fmt.Errorf("features.size must be positive, got %d", c.Size))
	}
	if c.Level < 1 {
		errs = append(errs, fmt.Errorf("features.level must be at least 1, got %d", c.Level))
	}
	if _, err := wavelet.Lookup(c.Wavelet); err != nil {
		errs = append(errs, fmt.Errorf("features.wavelet: %w", err))
	}
	if _, err := utils.ParseResampleFilter(c.ResizeFilter); err != nil {
		errs = append(errs, fmt.Errorf("features.resize_filter: %w", err))
	}
	return errors.Join(errs...)
}

// Builder builds feature vectors. It holds no mutable state and may be
// shared between goroutines.
type Builder struct {
	cfg    Config
	filter imaging.ResampleFilter
}

// NewBuilder validates cfg and returns a Builder.
func NewBuilder(cfg Config) (*Builder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	filter, _ := utils.ParseResampleFilter(cfg.ResizeFilter)
	return &Builder{cfg: cfg, filter: filter}, nil
}

// Config returns the builder configuration.
func (b *Builder) Config() Config { return b.cfg }

// Length returns the length of vectors produced by b.
func (b *Builder) Length() int { return Length(b.cfg.Size) }

// Build returns the feature vector of crop. The color part is laid out
// row-major with pixels interleaved as B, G, R; the detail part follows it.
func (b *Builder) Build(crop image.Image) (Vector, error) {
	if crop == nil || crop.Bounds().Empty() {
		return nil, errors.New("build features: empty crop")
	}
	size := b.cfg.Size

	thumb, err := utils.ResizeExact(crop, size, size, b.filter)
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}

	var gray *image.Gray
	if b.cfg.SwapGrayChannels {
		gray = utils.GrayscaleSwapped(crop)
	} else {
		gray = utils.Grayscale(crop)
	}
	detail, err := wavelet.DetailImage(gray, b.cfg.Wavelet, b.cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}
	detailThumb, err := utils.ResizeExact(detail, size, size, b.filter)
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}

	n := size * size
	vec := make(Vector, 0, Length(size))
	for i := 0; i < n; i++ {
		px := thumb.Pix[thumb.PixOffset(i%size, i/size):]
		vec = append(vec, float64(px[2]), float64(px[1]), float64(px[0]))
	}
	for i := 0; i < n; i++ {
		// gray resized through NRGBA keeps R == G == B
		vec = append(vec, float64(detailThumb.Pix[detailThumb.PixOffset(i%size, i/size)]))
	}
	return vec, nil
}

// Color returns the color part of v for thumbnails of edge size.
func (v Vector) Color(size int) []float64 { return v[:size*size*3] }

// Detail returns the wavelet part of v for thumbnails of edge size.
func (v Vector) Detail(size int) []float64 { return v[size*size*3:] }

// Float32 converts v for runtimes that take single precision input.
func (v Vector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
