package utils

import (
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// Fixed-point luma weights with 14 fractional bits, as used by OpenCV for
// 8-bit color to gray conversion.
const (
	lumaR     = 4899
	lumaG     = 9617
	lumaB     = 1868
	lumaShift = 14
	lumaRound = 1 << (lumaShift - 1)
)

// Grayscale converts img to 8-bit gray with the standard luma weights.
func Grayscale(img image.Image) *image.Gray {
	return toGray(img, lumaR, lumaG, lumaB)
}

// GrayscaleSwapped converts img to gray with the red and blue weights
// exchanged. This reproduces an RGB-to-gray conversion applied to pixels
// stored in BGR order.
func GrayscaleSwapped(img image.Image) *image.Gray {
	return toGray(img, lumaB, lumaG, lumaR)
}

func toGray(img image.Image, wr, wg, wb int) *image.Gray {
	if img == nil {
		return nil
	}
	src := ToNRGBA(img)
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+b.Dx()*4]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
		for x := range out {
			r := int(row[x*4])
			g := int(row[x*4+1])
			bl := int(row[x*4+2])
			out[x] = uint8((r*wr + g*wg + bl*wb + lumaRound) >> lumaShift) //nolint:gosec // G115: sum of weights is 1<<14
		}
	}
	return dst
}

// ToNRGBA returns img as a non-premultiplied RGBA image anchored at (0,0).
// Alpha is kept in the buffer but callers only read the color channels.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Bounds().Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}

// CropRect copies the part of img covered by rect, clipped to the image.
// The result is anchored at (0,0).
func CropRect(img image.Image, rect image.Rectangle) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "crop", Err: errors.New("input image is nil")}
	}
	r := rect.Intersect(img.Bounds())
	if r.Empty() {
		return nil, &ImageProcessingError{
			Operation: "crop",
			Err:       fmt.Errorf("rectangle %v outside image bounds %v", rect, img.Bounds()),
		}
	}
	return imaging.Crop(img, r), nil
}

// ResizeExact scales img to exactly w x h. An image that already has the
// target size is copied pixel for pixel.
func ResizeExact(img image.Image, w, h int, filter imaging.ResampleFilter) (*image.NRGBA, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is nil")}
	}
	if w <= 0 || h <= 0 {
		return nil, &ImageProcessingError{Operation: "resize", Err: fmt.Errorf("invalid target size %dx%d", w, h)}
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, &ImageProcessingError{Operation: "resize", Err: errors.New("input image is empty")}
	}
	if b.Dx() == w && b.Dy() == h {
		return imaging.Clone(img), nil
	}
	return imaging.Resize(img, w, h, filter), nil
}

// ParseResampleFilter maps a filter name to an imaging resampling filter.
func ParseResampleFilter(name string) (imaging.ResampleFilter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "linear", "bilinear":
		return imaging.Linear, nil
	case "nearest":
		return imaging.NearestNeighbor, nil
	case "box", "area":
		return imaging.Box, nil
	case "catmullrom", "cubic":
		return imaging.CatmullRom, nil
	case "lanczos":
		return imaging.Lanczos, nil
	default:
		return imaging.ResampleFilter{}, fmt.Errorf("unknown resize filter: %q", name)
	}
}

// GrayPixels returns the pixels of g as a tight row-major buffer together
// with its width and height. Sub-images with a non-zero origin are handled.
func GrayPixels(g *image.Gray) ([]byte, int, int) {
	if g == nil {
		return nil, 0, 0
	}
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, 0, 0
	}
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		start := g.PixOffset(b.Min.X, b.Min.Y+y)
		copy(out[y*w:(y+1)*w], g.Pix[start:start+w])
	}
	return out, w, h
}
