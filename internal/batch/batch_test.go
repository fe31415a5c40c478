package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/facecls/internal/service"
)

var dict = map[string]int{"lionel_messi": 0, "roger_federer": 2, "virat_kohli": 4}

// fakeClassifier returns one face per image unless the file name says otherwise.
type fakeClassifier struct {
	calls atomic.Int32
}

func (f *fakeClassifier) Classify(in service.Input) ([]service.Result, error) {
	f.calls.Add(1)
	name := filepath.Base(in.Path)
	switch {
	case strings.HasPrefix(name, "broken"):
		return nil, errors.New("image could not be decoded")
	case strings.HasPrefix(name, "empty"):
		return []service.Result{}, nil
	}
	return []service.Result{{
		Class:            "roger_federer",
		ClassProbability: []float64{10, 75.5, 14.5},
		ClassDictionary:  dict,
		Box:              service.Box{X: 1, Y: 2, Width: 30, Height: 40},
	}}, nil
}

func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	return path
}

func TestDiscoverImageFiles(t *testing.T) {
	dir := t.TempDir()
	a := touch(t, filepath.Join(dir, "a.png"))
	b := touch(t, filepath.Join(dir, "b.JPG"))
	_ = touch(t, filepath.Join(dir, "notes.txt"))
	nested := touch(t, filepath.Join(dir, "sub", "c.png"))
	explicit := touch(t, filepath.Join(t.TempDir(), "upload.bin"))

	tests := []struct {
		name      string
		args      []string
		recursive bool
		include   []string
		exclude   []string
		want      []string
	}{
		{"directory", []string{dir}, false, nil, nil, []string{a, b}},
		{"recursive", []string{dir}, true, nil, nil, []string{a, b, nested}},
		{"include", []string{dir}, true, []string{"*.png"}, nil, []string{a, nested}},
		{"exclude", []string{dir}, true, nil, []string{"c.*"}, []string{a, b}},
		{"explicit file", []string{explicit}, false, nil, nil, []string{explicit}},
		{"empty", nil, false, nil, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := discoverImageFiles(tt.args, tt.recursive, tt.include, tt.exclude)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, files)
		})
	}

	_, err := discoverImageFiles([]string{filepath.Join(dir, "missing.png")}, false, nil, nil)
	assert.ErrorContains(t, err, "cannot access")
}

func TestProcess_KeepsInputOrder(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"1.png", "2.png", "empty.png", "4.png", "5.png", "6.png"} {
		paths = append(paths, touch(t, filepath.Join(dir, name)))
	}

	svc := &fakeClassifier{}
	var progress bytes.Buffer
	res, err := Process(context.Background(), svc, paths, Config{Workers: 3, Progress: &progress})
	require.NoError(t, err)

	require.Len(t, res.Items, len(paths))
	for i, it := range res.Items {
		assert.Equal(t, paths[i], it.File)
	}
	assert.Empty(t, res.Items[2].Faces)
	assert.Equal(t, 5, res.Faces())
	assert.Equal(t, 0, res.Failed())
	assert.Equal(t, 3, res.WorkerCount)
	assert.EqualValues(t, len(paths), svc.calls.Load())
}

func TestProcess_Errors(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		touch(t, filepath.Join(dir, "1.png")),
		touch(t, filepath.Join(dir, "broken.png")),
		touch(t, filepath.Join(dir, "3.png")),
	}

	_, err := Process(context.Background(), &fakeClassifier{}, paths, Config{Workers: 1})
	require.Error(t, err)
	assert.ErrorContains(t, err, "broken.png")

	res, err := Process(context.Background(), &fakeClassifier{}, paths, Config{Workers: 2, ContinueOnError: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed())
	require.Error(t, res.Items[1].Err())
	assert.Equal(t, "image could not be decoded", res.Items[1].Error)
	assert.Len(t, res.Items[2].Faces, 1)

	_, err = Process(context.Background(), &fakeClassifier{}, []string{t.TempDir()}, Config{})
	assert.ErrorIs(t, err, ErrNoImages)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Process(ctx, &fakeClassifier{}, paths, Config{})
	assert.ErrorIs(t, err, context.Canceled)
}

func sampleResult(t *testing.T) *Result {
	t.Helper()
	dir := t.TempDir()
	paths := []string{
		touch(t, filepath.Join(dir, "one.png")),
		touch(t, filepath.Join(dir, "empty.png")),
		touch(t, filepath.Join(dir, "broken.png")),
	}
	res, err := Process(context.Background(), &fakeClassifier{}, paths, Config{ContinueOnError: true})
	require.NoError(t, err)
	return res
}

func TestFormatResults_JSON(t *testing.T) {
	out, err := sampleResult(t).FormatResults(FormatJSON)
	require.NoError(t, err)

	var decoded struct {
		Images []struct {
			File  string           `json:"file"`
			Faces []service.Result `json:"faces"`
			Error string           `json:"error"`
		} `json:"images"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Images, 3)
	assert.Equal(t, "roger_federer", decoded.Images[0].Faces[0].Class)
	assert.NotNil(t, decoded.Images[1].Faces)
	assert.Contains(t, out, `"faces": []`)
	assert.Equal(t, "image could not be decoded", decoded.Images[2].Error)
}

func TestFormatResults_CSV(t *testing.T) {
	out, err := sampleResult(t).FormatResults(FormatCSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "file,face_index,class,probability,x,y,width,height,error", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ",0,roger_federer,75.50,1,2,30,40,"), lines[1])
	assert.True(t, strings.HasSuffix(lines[3], ",image could not be decoded"), lines[3])
}

func TestFormatResults_Text(t *testing.T) {
	out, err := sampleResult(t).FormatResults(FormatText)
	require.NoError(t, err)
	assert.Contains(t, out, "face 0 at (1,2 30x40): roger_federer (75.50%)")
	assert.Contains(t, out, "no faces found")
	assert.Contains(t, out, "error: image could not be decoded")

	_, err = sampleResult(t).FormatResults("xml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	sampleResult(t).PrintStats(&buf)
	assert.Contains(t, buf.String(), "Total images: 3")
	assert.Contains(t, buf.String(), "Failed: 1")
	assert.Contains(t, buf.String(), "Faces: 1")
}

func TestClassProbability(t *testing.T) {
	r := service.Result{Class: "virat_kohli", ClassProbability: []float64{1, 2, 97}, ClassDictionary: dict}
	assert.InDelta(t, 97.0, classProbability(r), 1e-9)

	r.Class = "unknown"
	assert.Zero(t, classProbability(r))
}
