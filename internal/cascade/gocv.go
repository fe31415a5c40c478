//go:build cascade_gocv

package cascade

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/MeKo-Tech/facecls/internal/utils"
	"gocv.io/x/gocv"
)

const gocvAvailable = true

// GoCVDetector wraps an OpenCV Haar cascade. The C classifier is not
// documented as thread-safe, so calls are serialized.
type GoCVDetector struct {
	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	closed     bool
}

func openGoCV(path string) (Detector, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("read cascade %s: %w", path, err)
	}
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(path) {
		_ = classifier.Close()
		return nil, fmt.Errorf("load OpenCV cascade %s: not a valid cascade file", path)
	}
	return &GoCVDetector{classifier: classifier}, nil
}

// Detect runs detectMultiScale on gray. OpenCV groups hits internally with
// the same neighbor rule as GroupRectangles.
func (d *GoCVDetector) Detect(gray *image.Gray, p Params) ([]image.Rectangle, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	pix, w, h := utils.GrayPixels(gray)
	if w == 0 || h == 0 {
		return []image.Rectangle{}, nil
	}

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8U, pix)
	if err != nil {
		return nil, fmt.Errorf("wrap gray image: %w", err)
	}
	defer func() { _ = mat.Close() }()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("cascade detector closed")
	}

	minSize := image.Pt(p.MinSize, p.MinSize)
	maxSize := image.Pt(p.MaxSize, p.MaxSize)
	found := d.classifier.DetectMultiScaleWithParams(mat, p.ScaleFactor, p.MinNeighbors, 0, minSize, maxSize)

	origin := gray.Bounds().Min
	out := make([]image.Rectangle, 0, len(found))
	for _, r := range found {
		out = append(out, r.Add(origin))
	}
	return out, nil
}

// Close releases the OpenCV classifier.
func (d *GoCVDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.classifier.Close()
}
