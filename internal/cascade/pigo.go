package cascade

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/MeKo-Tech/facecls/internal/utils"
	pigo "github.com/esimov/pigo/core"
)

// PigoDetector runs a pico-format cascade with the pure Go pigo engine.
// The unpacked cascade is read-only, so concurrent Detect calls are safe.
type PigoDetector struct {
	classifier *pigo.Pigo
}

// minCascadeSize covers the 8-byte preamble plus the tree depth and count.
const minCascadeSize = 16

// NewPigoDetector unpacks a pico cascade held in memory.
func NewPigoDetector(data []byte) (*PigoDetector, error) {
	if len(data) < minCascadeSize {
		return nil, fmt.Errorf("cascade data too short: %d bytes", len(data))
	}
	classifier, err := unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack pigo cascade: %w", err)
	}
	return &PigoDetector{classifier: classifier}, nil
}

// unpack converts the index panics pigo raises on truncated input into errors.
func unpack(data []byte) (classifier *pigo.Pigo, err error) {
	defer func() {
		if r := recover(); r != nil {
			classifier = nil
			err = fmt.Errorf("malformed cascade: %v", r)
		}
	}()
	classifier, err = pigo.NewPigo().Unpack(data)
	if err == nil && classifier == nil {
		err = errors.New("malformed cascade")
	}
	return classifier, err
}

// OpenPigo reads and unpacks a pico cascade file.
func OpenPigo(path string) (*PigoDetector, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: cascade path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read cascade %s: %w", path, err)
	}
	d, err := NewPigoDetector(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Detect scans gray over all window sizes between p.MinSize and p.MaxSize and
// groups the raw hits.
func (d *PigoDetector) Detect(gray *image.Gray, p Params) ([]image.Rectangle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	pix, w, h := utils.GrayPixels(gray)
	if w == 0 || h == 0 {
		return []image.Rectangle{}, nil
	}

	minSize := max(p.MinSize, 1)
	// pigo grows the window with int(size*factor); it must strictly grow.
	if int(float64(minSize)*p.ScaleFactor) <= minSize {
		return nil, fmt.Errorf("scale factor %.3f does not grow window of size %d; raise min size", p.ScaleFactor, minSize)
	}
	maxSize := min(w, h)
	if p.MaxSize > 0 {
		maxSize = min(maxSize, p.MaxSize)
	}
	if minSize > maxSize {
		return []image.Rectangle{}, nil
	}
	shift := p.ShiftFactor
	if shift == 0 {
		shift = 0.1
	}

	params := pigo.CascadeParams{
		MinSize:     minSize,
		MaxSize:     maxSize,
		ShiftFactor: shift,
		ScaleFactor: p.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pix,
			Rows:   h,
			Cols:   w,
			Dim:    w,
		},
	}
	dets := d.classifier.RunCascade(params, 0.0)

	origin := gray.Bounds().Min
	frame := image.Rect(0, 0, w, h)
	raw := make([]image.Rectangle, 0, len(dets))
	for _, det := range dets {
		if float64(det.Q) < p.MinQuality {
			continue
		}
		r := detectionRect(det).Intersect(frame)
		if r.Empty() {
			continue
		}
		raw = append(raw, r.Add(origin))
	}
	return GroupRectangles(raw, p.MinNeighbors, DefaultGroupEps), nil
}

// Close is a no-op; the cascade lives in Go memory.
func (d *PigoDetector) Close() error { return nil }

// detectionRect converts pigo's center/size triple into a square rectangle.
func detectionRect(det pigo.Detection) image.Rectangle {
	half := det.Scale / 2
	x := det.Col - half
	y := det.Row - half
	return image.Rect(x, y, x+det.Scale, y+det.Scale)
}
