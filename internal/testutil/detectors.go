package testutil

import (
	"image"
	"sync/atomic"

	"github.com/MeKo-Tech/facecls/internal/cascade"
)

// BlobDetector is a deterministic stand-in for a trained cascade: it returns
// the bounding boxes of 4-connected pixel blobs whose gray level lies in
// [Lo, Hi]. Blobs come out in row-major order of their first pixel.
type BlobDetector struct {
	Lo, Hi  uint8
	MinArea int

	calls  atomic.Int64
	closed atomic.Bool
}

// FaceBlobDetector finds SkinColor regions.
func FaceBlobDetector() *BlobDetector { return &BlobDetector{Lo: 120, Hi: 220, MinArea: 16} }

// EyeBlobDetector finds EyeColor regions.
func EyeBlobDetector() *BlobDetector { return &BlobDetector{Lo: 0, Hi: 60, MinArea: 2} }

// Calls reports how many times Detect ran.
func (d *BlobDetector) Calls() int { return int(d.calls.Load()) }

// Closed reports whether Close was called.
func (d *BlobDetector) Closed() bool { return d.closed.Load() }

// Detect implements cascade.Detector.
func (d *BlobDetector) Detect(gray *image.Gray, _ cascade.Params) ([]image.Rectangle, error) {
	d.calls.Add(1)
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	seen := make([]bool, w*h)
	match := func(x, y int) bool {
		v := gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y
		return v >= d.Lo && v <= d.Hi
	}

	var out []image.Rectangle
	queue := make([]image.Point, 0, 64)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if seen[y*w+x] || !match(x, y) {
				continue
			}
			seen[y*w+x] = true
			queue = append(queue[:0], image.Pt(x, y))
			box := image.Rect(x, y, x+1, y+1)
			area := 0
			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				area++
				box = box.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))
				for _, n := range [4]image.Point{{p.X + 1, p.Y}, {p.X - 1, p.Y}, {p.X, p.Y + 1}, {p.X, p.Y - 1}} {
					if n.X < 0 || n.Y < 0 || n.X >= w || n.Y >= h || seen[n.Y*w+n.X] || !match(n.X, n.Y) {
						continue
					}
					seen[n.Y*w+n.X] = true
					queue = append(queue, n)
				}
			}
			if area >= d.MinArea {
				out = append(out, box.Add(b.Min))
			}
		}
	}
	return out, nil
}

// Close implements cascade.Detector.
func (d *BlobDetector) Close() error {
	d.closed.Store(true)
	return nil
}

// FailingDetector always returns Err.
type FailingDetector struct{ Err error }

// Detect implements cascade.Detector.
func (d FailingDetector) Detect(*image.Gray, cascade.Params) ([]image.Rectangle, error) {
	return nil, d.Err
}

// Close implements cascade.Detector.
func (d FailingDetector) Close() error { return nil }
