package cascade

import (
	"fmt"
	"image"
	"math"
	"os"

	"github.com/MeKo-Tech/facecls/internal/utils"
	pigo "github.com/esimov/pigo/core"
)

// Pupil seeds relative to a face of side s centered at (row, col): each eye
// starts at row-0.085s, col∓0.185s with a search scale of 0.4s.
const (
	pupilRowOffset = 0.085
	pupilColOffset = 0.185
	pupilScale     = 0.4
	// pigo sorts a fixed pool of 63 perturbation slots; fewer perturbations
	// would mix stale slots into the median.
	pupilPerturbs = 63
)

// PuplocDetector localizes the two pupils of a face region with pigo's
// pupil localization cascade. It treats the whole region passed to Detect
// as one face, so it belongs on the eye pass, never the face pass.
// The unpacked cascade is read-only, so concurrent Detect calls are safe.
type PuplocDetector struct {
	cascade *pigo.PuplocCascade
}

// NewPuplocDetector unpacks a puploc cascade held in memory.
func NewPuplocDetector(data []byte) (*PuplocDetector, error) {
	if len(data) < minCascadeSize {
		return nil, fmt.Errorf("cascade data too short: %d bytes", len(data))
	}
	plc, err := unpackPuploc(data)
	if err != nil {
		return nil, fmt.Errorf("unpack puploc cascade: %w", err)
	}
	return &PuplocDetector{cascade: plc}, nil
}

func unpackPuploc(data []byte) (plc *pigo.PuplocCascade, err error) {
	defer func() {
		if r := recover(); r != nil {
			plc = nil
			err = fmt.Errorf("malformed cascade: %v", r)
		}
	}()
	return pigo.NewPuplocCascade().UnpackCascade(data)
}

// OpenPuploc reads and unpacks a puploc cascade file.
func OpenPuploc(path string) (*PuplocDetector, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: cascade path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read cascade %s: %w", path, err)
	}
	d, err := NewPuplocDetector(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Detect returns up to two eye boxes, left then right, in gray's coordinate
// space. An eye counts only when its pupil lands in the expected half of the
// region, inside its upper two thirds. Params other than MinSize are unused;
// regions smaller than MinSize yield nothing.
func (d *PuplocDetector) Detect(gray *image.Gray, p Params) ([]image.Rectangle, error) {
	pix, w, h := utils.GrayPixels(gray)
	side := min(w, h)
	if side == 0 || side < p.MinSize {
		return []image.Rectangle{}, nil
	}

	img := pigo.ImageParams{Pixels: pix, Rows: h, Cols: w, Dim: w}
	s := float64(side)
	row := h/2 - int(pupilRowOffset*s)
	dc := int(pupilColOffset * s)
	frame := image.Rect(0, 0, w, h)

	eyes := make([]image.Rectangle, 0, 2)
	for _, seed := range []struct {
		col  int
		half image.Rectangle
	}{
		{w/2 - dc, image.Rect(0, 0, w/2, h*2/3)},
		{w/2 + dc, image.Rect(w/2, 0, w, h*2/3)},
	} {
		res := d.cascade.RunDetector(pigo.Puploc{
			Row:      row,
			Col:      seed.col,
			Scale:    float32(pupilScale * s),
			Perturbs: pupilPerturbs,
		}, img, 0.0, false)
		if res == nil || res.Row <= 0 || res.Col <= 0 {
			continue
		}
		if !image.Pt(res.Col, res.Row).In(seed.half) {
			continue
		}
		eyes = append(eyes, pupilRect(res, s).Intersect(frame).Add(gray.Bounds().Min))
	}
	return eyes, nil
}

// Close is a no-op; the cascade lives in Go memory.
func (d *PuplocDetector) Close() error { return nil }

// pupilRect is a square of a tenth of the face side around the pupil.
func pupilRect(pl *pigo.Puploc, faceSide float64) image.Rectangle {
	half := max(1, int(math.Round(faceSide/20)))
	return image.Rect(pl.Col-half, pl.Row-half, pl.Col+half, pl.Row+half)
}
