package server

import (
	"bytes"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/facecls/internal/artifacts"
	"github.com/MeKo-Tech/facecls/internal/classifier"
	"github.com/MeKo-Tech/facecls/internal/features"
	"github.com/MeKo-Tech/facecls/internal/labels"
	"github.com/MeKo-Tech/facecls/internal/service"
	"github.com/MeKo-Tech/facecls/internal/testutil"
)

var testLabels = map[string]int{
	"lionel_messi":    0,
	"maria_sharapova": 1,
	"roger_federer":   2,
	"serena_williams": 3,
	"virat_kohli":     4,
}

// newTestService returns a service over synthetic detectors and a model that
// always predicts class.
func newTestService(t *testing.T, class int) *service.Service {
	t.Helper()

	dict, err := labels.New(testLabels)
	require.NoError(t, err)
	svc, err := service.New(&artifacts.Artifacts{
		Labels:   dict,
		Model:    classifier.ConstantModel(features.VectorLength, len(testLabels), class),
		Faces:    testutil.FaceBlobDetector(),
		Eyes:     testutil.EyeBlobDetector(),
		LoadedAt: time.Now(),
	}, service.DefaultConfig())
	require.NoError(t, err)
	return svc
}

// newTestServer returns a server with a service that predicts class 2.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	s, err := NewServer(Config{Version: "test"})
	require.NoError(t, err)
	s.SetService(newTestService(t, 2))
	return s
}

func oneFaceScene() *image.NRGBA {
	return testutil.FaceScene(100, 100, testutil.FaceSpec{Box: image.Rect(10, 10, 90, 90), Eyes: 2})
}

// failingClassifier returns err from every classification.
type failingClassifier struct{ err error }

func (f failingClassifier) Classify(service.Input) ([]service.Result, error)    { return nil, f.err }
func (f failingClassifier) ClassifyImage(image.Image) ([]service.Result, error) { return nil, f.err }
func (f failingClassifier) Labels() map[string]int                              { return map[string]int{} }

// createMultipartFormRequest creates a multipart request carrying an image
// file and extra fields.
func createMultipartFormRequest(t *testing.T, imageData []byte, extraFields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if imageData != nil {
		part, err := writer.CreateFormFile(fieldImageFile, "face.png")
		require.NoError(t, err)
		_, err = part.Write(imageData)
		require.NoError(t, err)
	}
	for key, value := range extraFields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/classify_image", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}
