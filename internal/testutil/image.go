package testutil

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Colors used by synthetic scenes. Their gray levels fall into the ranges
// picked up by FaceBlobDetector and EyeBlobDetector.
var (
	SkinColor       = color.NRGBA{200, 160, 130, 255}
	EyeColor        = color.NRGBA{20, 20, 20, 255}
	BackgroundColor = color.NRGBA{255, 255, 255, 255}
)

// FaceSpec places one synthetic face with the given number of eyes.
type FaceSpec struct {
	Box  image.Rectangle
	Eyes int
}

// FaceScene draws faces on a white canvas. Each face is a textured skin
// rectangle with dark square eyes spread along its upper third.
func FaceScene(width, height int, faces ...FaceSpec) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{BackgroundColor}, image.Point{}, draw.Src)

	for _, f := range faces {
		box := f.Box.Intersect(img.Bounds())
		for y := box.Min.Y; y < box.Max.Y; y++ {
			for x := box.Min.X; x < box.Max.X; x++ {
				c := SkinColor
				c.R += uint8((x + y) % 16) //nolint:gosec // G115: small texture offset
				img.SetNRGBA(x, y, c)
			}
		}

		size := max(2, box.Dx()/8)
		y0 := box.Min.Y + box.Dy()/3
		for i := 0; i < f.Eyes; i++ {
			cx := box.Min.X + (i+1)*box.Dx()/(f.Eyes+1)
			eye := image.Rect(cx-size/2, y0, cx-size/2+size, y0+size)
			draw.Draw(img, eye, &image.Uniform{EyeColor}, image.Point{}, draw.Src)
		}
	}
	return img
}

// Gradient returns a deterministic color pattern, useful where pixel detail
// matters.
func Gradient(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / max(1, width-1)),  //nolint:gosec // G115: bounded by 255
				G: uint8((y * 255) / max(1, height-1)), //nolint:gosec // G115: bounded by 255
				B: uint8((x*y + 3*x) % 256),            //nolint:gosec // G115: bounded by 255
				A: 255,
			})
		}
	}
	return img
}

// CreateTestImage creates a simple test image with the specified dimensions and color.
func CreateTestImage(width, height int, backgroundColor color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{backgroundColor}, image.Point{}, draw.Src)
	return img
}

// EncodePNG returns img as PNG bytes.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img), "Failed to encode PNG image")
	return buf.Bytes()
}

// Base64PNG returns img as a base64 PNG payload, optionally as a data URI.
func Base64PNG(t *testing.T, img image.Image, dataURI bool) string {
	t.Helper()

	s := base64.StdEncoding.EncodeToString(EncodePNG(t, img))
	if dataURI {
		return "data:image/png;base64," + s
	}
	return s
}

// SaveImage saves an image to the specified path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	dir := filepath.Dir(path)
	require.NoError(t, EnsureDir(dir), "Failed to create directory %s", dir)
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0o600))
}
