package service

import (
	"errors"
	"image"
	"io/fs"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/facecls/internal/artifacts"
	"github.com/MeKo-Tech/facecls/internal/cascade"
	"github.com/MeKo-Tech/facecls/internal/classifier"
	"github.com/MeKo-Tech/facecls/internal/features"
	"github.com/MeKo-Tech/facecls/internal/labels"
	"github.com/MeKo-Tech/facecls/internal/testutil"
	"github.com/MeKo-Tech/facecls/internal/utils"
)

var players = map[string]int{
	"lionel_messi":    0,
	"maria_sharapova": 1,
	"roger_federer":   2,
	"serena_williams": 3,
	"virat_kohli":     4,
}

func newService(t *testing.T, model classifier.Model, names map[string]int, faces, eyes cascade.Detector) *Service {
	t.Helper()

	dict, err := labels.New(names)
	require.NoError(t, err)
	svc, err := New(&artifacts.Artifacts{
		Labels:   dict,
		Model:    model,
		Faces:    faces,
		Eyes:     eyes,
		LoadedAt: time.Now(),
	}, DefaultConfig())
	require.NoError(t, err)
	return svc
}

func twoFaceScene() *image.NRGBA {
	return testutil.FaceScene(320, 120,
		testutil.FaceSpec{Box: image.Rect(10, 10, 90, 90), Eyes: 2},
		testutil.FaceSpec{Box: image.Rect(120, 10, 200, 90), Eyes: 1},
		testutil.FaceSpec{Box: image.Rect(230, 10, 310, 90), Eyes: 3},
	)
}

func TestClassify_OneResultPerQualifyingFace(t *testing.T) {
	svc := newService(t, classifier.ConstantModel(features.VectorLength, 5, 2), players,
		testutil.FaceBlobDetector(), testutil.EyeBlobDetector())

	results, err := svc.ClassifyImage(twoFaceScene())
	require.NoError(t, err)
	require.Len(t, results, 2, "the one-eyed face is skipped")

	assert.Equal(t, Box{X: 10, Y: 10, Width: 80, Height: 80}, results[0].Box)
	assert.Equal(t, Box{X: 230, Y: 10, Width: 80, Height: 80}, results[1].Box)
	for _, r := range results {
		assert.Equal(t, "roger_federer", r.Class)
		assert.Equal(t, []float64{0, 0, 100, 0, 0}, r.ClassProbability)
		assert.Equal(t, players, r.ClassDictionary)
	}

	results[0].ClassDictionary["intruder"] = 9
	assert.NotContains(t, results[1].ClassDictionary, "intruder", "each result owns its dictionary")
	assert.NotContains(t, svc.Labels(), "intruder")
}

func TestClassify_ProbabilitiesFollowIndexOrder(t *testing.T) {
	// Non-contiguous indices: positions map to sorted indices 3, 7, 11.
	names := map[string]int{"c": 11, "a": 3, "b": 7}
	model := &classifier.FuncModel{
		Inputs:  features.VectorLength,
		Classes: 3,
		Scores:  func([]float64) []float64 { return []float64{1, 1, 2} },
	}
	svc := newService(t, &indexedModel{FuncModel: model, indices: []int{3, 7, 11}}, names,
		testutil.FaceBlobDetector(), testutil.EyeBlobDetector())

	results, err := svc.ClassifyImage(testutil.FaceScene(100, 100,
		testutil.FaceSpec{Box: image.Rect(10, 10, 90, 90), Eyes: 2}))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c", results[0].Class)
	assert.Equal(t, []float64{25, 25, 50}, results[0].ClassProbability)
}

// indexedModel reports class indices instead of positions, as a model with
// a non-contiguous label set does.
type indexedModel struct {
	*classifier.FuncModel
	indices []int
}

func (m *indexedModel) Predict(vec []float64) (int, error) {
	pos, err := m.FuncModel.Predict(vec)
	if err != nil {
		return 0, err
	}
	return m.indices[pos], nil
}

func TestClassify_NoFaces(t *testing.T) {
	svc := newService(t, classifier.ConstantModel(features.VectorLength, 5, 0), players,
		testutil.FaceBlobDetector(), testutil.EyeBlobDetector())

	results, err := svc.ClassifyImage(testutil.CreateTestImage(64, 64, testutil.BackgroundColor))
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestClassify_EmptyInput(t *testing.T) {
	faces := testutil.FaceBlobDetector()
	svc := newService(t, classifier.ConstantModel(features.VectorLength, 5, 0), players,
		faces, testutil.EyeBlobDetector())

	results, err := svc.Classify(Input{})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Zero(t, faces.Calls(), "nothing is detected without an image")
}

func TestClassify_Inputs(t *testing.T) {
	scene := testutil.FaceScene(100, 100, testutil.FaceSpec{Box: image.Rect(10, 10, 90, 90), Eyes: 2})
	path := filepath.Join(t.TempDir(), "scene.png")
	testutil.SaveImage(t, scene, path)

	svc := newService(t, classifier.ConstantModel(features.VectorLength, 5, 4), players,
		testutil.FaceBlobDetector(), testutil.EyeBlobDetector())

	tests := []struct {
		name string
		in   Input
	}{
		{"path", Input{Path: path}},
		{"base64", Input{Base64: testutil.Base64PNG(t, scene, false)}},
		{"data uri", Input{Base64: testutil.Base64PNG(t, scene, true)}},
		{"path wins over base64", Input{Path: path, Base64: "not base64 at all"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := svc.Classify(tt.in)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "virat_kohli", results[0].Class)
		})
	}
}

func TestClassify_DecodeErrors(t *testing.T) {
	svc := newService(t, classifier.ConstantModel(features.VectorLength, 5, 0), players,
		testutil.FaceBlobDetector(), testutil.EyeBlobDetector())

	_, err := svc.Classify(Input{Base64: "aGVsbG8gd29ybGQ="})
	assert.ErrorIs(t, err, utils.ErrDecode)

	results, err := svc.Classify(Input{Path: filepath.Join(t.TempDir(), "missing.png")})
	require.ErrorIs(t, err, utils.ErrDecode)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Nil(t, results)
	var de *utils.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "path", de.Source)
}

func TestClassify_FaceFailureAbortsRequest(t *testing.T) {
	boom := errors.New("boom")
	flaky := &classifier.FuncModel{
		Inputs:  features.VectorLength,
		Classes: 5,
		Scores:  func([]float64) []float64 { return []float64{1, 0, 0, -1, 0} },
	}
	svc := newService(t, flaky, players, testutil.FaceBlobDetector(), testutil.EyeBlobDetector())
	results, err := svc.ClassifyImage(twoFaceScene())
	assert.Error(t, err)
	assert.Nil(t, results)

	svc = newService(t, classifier.ConstantModel(features.VectorLength, 5, 0), players,
		testutil.FailingDetector{Err: boom}, testutil.EyeBlobDetector())
	_, err = svc.ClassifyImage(twoFaceScene())
	assert.ErrorIs(t, err, boom)
}

func TestClassify_PredictedIndexNotInDictionary(t *testing.T) {
	names := map[string]int{"a": 0, "b": 5}
	svc := newService(t, classifier.ConstantModel(features.VectorLength, 2, 1), names,
		testutil.FaceBlobDetector(), testutil.EyeBlobDetector())

	_, err := svc.ClassifyImage(twoFaceScene())
	assert.ErrorIs(t, err, classifier.ErrDimensionMismatch)
}

func TestNew_Errors(t *testing.T) {
	dict, err := labels.New(players)
	require.NoError(t, err)

	_, err = New(nil, DefaultConfig())
	assert.Error(t, err)

	_, err = New(&artifacts.Artifacts{
		Labels: dict,
		Model:  classifier.ConstantModel(100, 5, 0),
		Faces:  testutil.FaceBlobDetector(),
		Eyes:   testutil.EyeBlobDetector(),
	}, DefaultConfig())
	assert.ErrorIs(t, err, classifier.ErrDimensionMismatch, "model input must match the feature length")

	_, err = New(&artifacts.Artifacts{
		Labels: dict,
		Model:  classifier.ConstantModel(features.VectorLength, 5, 0),
		Faces:  testutil.FaceBlobDetector(),
	}, DefaultConfig())
	assert.Error(t, err, "eye detector is required")

	cfg := DefaultConfig()
	cfg.Features.Size = 0
	_, err = New(&artifacts.Artifacts{
		Labels: dict,
		Model:  classifier.ConstantModel(features.VectorLength, 5, 0),
		Faces:  testutil.FaceBlobDetector(),
		Eyes:   testutil.EyeBlobDetector(),
	}, cfg)
	assert.Error(t, err)
}

func TestFeatures(t *testing.T) {
	svc := newService(t, classifier.ConstantModel(features.VectorLength, 5, 0), players,
		testutil.FaceBlobDetector(), testutil.EyeBlobDetector())

	out, err := svc.Features(twoFaceScene())
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, f := range out {
		assert.Len(t, f.Vector, features.VectorLength)
	}
	assert.Equal(t, image.Rect(10, 10, 90, 90), out[0].Box.Rect())
}
