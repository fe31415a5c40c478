package cascade

import (
	"image"
	"image/draw"
	"path/filepath"
	"testing"

	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/facecls/internal/utils"
)

// Known geometry of testdata/images/portrait.jpg.
var (
	portraitFace       = image.Rect(50, 60, 270, 340)
	portraitFaceCore   = image.Rect(100, 120, 220, 300)
	portraitLeftPupil  = image.Pt(113, 185)
	portraitRightPupil = image.Pt(205, 183)
)

func pigoDetection(row, col, scale int) pigo.Detection {
	return pigo.Detection{Row: row, Col: col, Scale: scale, Q: 1}
}

func testdataPath(parts ...string) string {
	return filepath.Join(append([]string{"..", "..", "testdata"}, parts...)...)
}

func testCascade(t *testing.T, name string) string {
	t.Helper()
	path := testdataPath("cascades", name)
	require.FileExists(t, path)
	return path
}

func portraitGray(t *testing.T) *image.Gray {
	t.Helper()
	img, _, err := utils.LoadImage(testdataPath("images", "portrait.jpg"))
	require.NoError(t, err)
	return utils.Grayscale(img)
}

// portraitFaceParams scans finely enough that one clear face yields
// several overlapping raw hits.
func portraitFaceParams() Params {
	return Params{ScaleFactor: 1.1, MinNeighbors: 1, MinSize: 60, ShiftFactor: 0.1}
}

// shifted pastes gray onto a white canvas at offset.
func shifted(gray *image.Gray, offset image.Point) *image.Gray {
	b := gray.Bounds()
	canvas := image.NewGray(image.Rect(0, 0, b.Dx()+2*offset.X, b.Dy()+2*offset.Y))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, b.Add(offset), gray, b.Min, draw.Src)
	return canvas
}

func center(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}

func anyCenteredIn(rects []image.Rectangle, area image.Rectangle) bool {
	for _, r := range rects {
		if center(r).In(area) {
			return true
		}
	}
	return false
}

func assertNear(t *testing.T, want, got image.Point, tolerance int) {
	t.Helper()
	d := got.Sub(want)
	assert.True(t, d.X*d.X+d.Y*d.Y <= tolerance*tolerance, "got %v, want within %dpx of %v", got, tolerance, want)
}
