package wavelet

import (
	"errors"
	"image"

	"github.com/MeKo-Tech/facecls/internal/utils"
)

// Defaults used by the trained model.
const (
	DefaultMode  = "db1"
	DefaultLevel = 5
)

// W2D converts img to gray the way the model's training data was prepared
// (RGB weights applied to BGR pixels) and returns its detail image.
func W2D(img image.Image, mode string, level int) (*image.Gray, error) {
	if img == nil {
		return nil, errors.New("w2d: nil image")
	}
	return DetailImage(utils.GrayscaleSwapped(img), mode, level)
}

// DetailImage keeps only the high-frequency content of gray. Pixels are
// scaled to [0,1], decomposed, the approximation band is zeroed, and the
// reconstruction is scaled back by 255 and truncated into 8 bits with
// wrap-around. Odd dimensions come back one pixel larger.
func DetailImage(gray *image.Gray, mode string, level int) (*image.Gray, error) {
	w, err := Lookup(mode)
	if err != nil {
		return nil, err
	}
	pix, cols, rows := utils.GrayPixels(gray)
	if cols == 0 || rows == 0 {
		return nil, errors.New("w2d: empty image")
	}

	m := NewMatrix(rows, cols)
	for i, p := range pix {
		m.Data[i] = float32(p) / 255
	}

	dec, err := Wavedec2(m, w, level)
	if err != nil {
		return nil, err
	}
	dec.Approx.Scale(0)

	rec, err := Waverec2(dec, w)
	if err != nil {
		return nil, err
	}

	out := image.NewGray(image.Rect(0, 0, rec.Cols, rec.Rows))
	for i, v := range rec.Data {
		out.Pix[i] = toByte(v * 255)
	}
	return out, nil
}

// toByte truncates toward zero and keeps the low 8 bits, so -1.5 becomes 255
// and 256.7 becomes 0.
func toByte(v float32) uint8 {
	return uint8(int32(v)) //nolint:gosec // G115: wrap-around is the intended cast
}
