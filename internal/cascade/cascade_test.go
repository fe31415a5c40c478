package cascade

import (
	"image"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{"face defaults", func(*Params) {}, false},
		{"scale factor of one never terminates", func(p *Params) { p.ScaleFactor = 1.0 }, true},
		{"negative neighbors", func(p *Params) { p.MinNeighbors = -1 }, true},
		{"max below min", func(p *Params) { p.MinSize, p.MaxSize = 40, 20 }, true},
		{"unbounded max", func(p *Params) { p.MaxSize = 0 }, false},
		{"shift above one", func(p *Params) { p.ShiftFactor = 1.5 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultFaceParams()
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.NoError(t, DefaultEyeParams().Validate())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(KindFace, "haar-js", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown cascade backend")
}

func TestOpen_PigoMissingFile(t *testing.T) {
	_, err := Open(KindFace, BackendPigo, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNewPigoDetector_RejectsGarbage(t *testing.T) {
	_, err := NewPigoDetector(nil)
	assert.Error(t, err)

	_, err = NewPigoDetector([]byte("0123456789abcdefghij"))
	assert.Error(t, err)
}

func TestBackendsIncludesPigo(t *testing.T) {
	assert.Contains(t, Backends(), BackendPigo)
}

func TestDetectionRect(t *testing.T) {
	r := detectionRect(pigoDetection(50, 60, 20))
	assert.Equal(t, image.Rect(50, 40, 70, 60), r)
}

func TestPigoDetector_EmptyImage(t *testing.T) {
	d, err := OpenPigo(testCascade(t, "facefinder"))
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	gray := image.NewGray(image.Rect(0, 0, 120, 120))
	rects, err := d.Detect(gray, DefaultFaceParams())
	require.NoError(t, err)
	assert.Empty(t, rects, "a flat image contains no faces")

	_, err = d.Detect(gray, Params{ScaleFactor: 1.05, MinSize: 4, ShiftFactor: 0.1})
	assert.Error(t, err, "window that cannot grow must be rejected")
}

func TestPigoDetector_FindsFace(t *testing.T) {
	d, err := OpenPigo(testCascade(t, "facefinder"))
	require.NoError(t, err)
	gray := portraitGray(t)

	rects, err := d.Detect(gray, portraitFaceParams())
	require.NoError(t, err)
	require.NotEmpty(t, rects)
	assert.True(t, anyCenteredIn(rects, portraitFaceCore), "no face box centered on the face: %v", rects)
}

func TestPigoDetector_SubImageKeepsCoordinates(t *testing.T) {
	d, err := OpenPigo(testCascade(t, "facefinder"))
	require.NoError(t, err)

	offset := image.Pt(40, 30)
	canvas := shifted(portraitGray(t), offset)
	roi := canvas.SubImage(portraitFace.Add(offset).Inset(-20)).(*image.Gray)

	rects, err := d.Detect(roi, portraitFaceParams())
	require.NoError(t, err)
	assert.True(t, anyCenteredIn(rects, portraitFaceCore.Add(offset)), "boxes not in canvas coordinates: %v", rects)
	for _, r := range rects {
		assert.True(t, r.In(roi.Bounds()), "%v escapes %v", r, roi.Bounds())
	}
}

func TestPuplocDetector_FindsPupils(t *testing.T) {
	d, err := OpenPuploc(testCascade(t, "puploc"))
	require.NoError(t, err)
	defer func() { _ = d.Close() }()

	for _, offset := range []image.Point{{}, {40, 30}} {
		canvas := shifted(portraitGray(t), offset)
		roi := canvas.SubImage(portraitFace.Add(offset)).(*image.Gray)

		eyes, err := d.Detect(roi, DefaultEyeParams())
		require.NoError(t, err)
		require.Len(t, eyes, 2, "offset %v", offset)
		assertNear(t, portraitLeftPupil.Add(offset), center(eyes[0]), 15)
		assertNear(t, portraitRightPupil.Add(offset), center(eyes[1]), 15)
		for _, e := range eyes {
			assert.True(t, e.In(roi.Bounds()))
		}
	}
}

func TestPuplocDetector_RegionBelowMinSize(t *testing.T) {
	d, err := OpenPuploc(testCascade(t, "puploc"))
	require.NoError(t, err)

	eyes, err := d.Detect(image.NewGray(image.Rect(0, 0, 8, 8)), DefaultEyeParams())
	require.NoError(t, err)
	assert.Empty(t, eyes)
}

func TestNewPuplocDetector_RejectsGarbage(t *testing.T) {
	_, err := NewPuplocDetector(nil)
	assert.Error(t, err)

	_, err = NewPuplocDetector([]byte("0123456789abcdefghij"))
	assert.Error(t, err)
}

func TestOpen_Kinds(t *testing.T) {
	eyes, err := Open(KindEye, BackendPigo, testCascade(t, "puploc"))
	require.NoError(t, err)
	assert.IsType(t, &PuplocDetector{}, eyes)

	faces, err := Open(KindFace, "", testCascade(t, "facefinder"))
	require.NoError(t, err)
	assert.IsType(t, &PigoDetector{}, faces)

	_, err = Open(KindFace, BackendPigo, testCascade(t, "puploc"))
	assert.Error(t, err, "a puploc file is not a face cascade")

	assert.Equal(t, "eye", KindEye.String())
	assert.Equal(t, "face", KindFace.String())
}
