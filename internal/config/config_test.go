package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/facecls/internal/artifacts"
	"github.com/MeKo-Tech/facecls/internal/cascade"
	"github.com/MeKo-Tech/facecls/internal/features"
	"github.com/MeKo-Tech/facecls/internal/testutil"
)

// isolate points the search paths at empty directories.
func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	t.Chdir(dir)
	return dir
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, artifacts.DefaultDir, cfg.ArtifactsDir)
	assert.Equal(t, cascade.BackendPigo, cfg.Detector.Backend)
	assert.Equal(t, 1.3, cfg.Detector.Face.ScaleFactor)
	assert.Equal(t, 5, cfg.Detector.Face.MinNeighbors)
	assert.Equal(t, 2, cfg.Detector.MinEyes)
	assert.Equal(t, "db1", cfg.Features.Wavelet)
	assert.Equal(t, 5, cfg.Features.Level)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "*", cfg.Server.CORSOrigin)
}

func TestLoad_NoConfigFile(t *testing.T) {
	isolate(t)

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := isolate(t)
	testutil.WriteFile(t, dir, "facecls.yaml", []byte(`
log_level: debug
artifacts_dir: /srv/facecls
artifacts:
  model_file: model-v2.onnx
detector:
  min_eyes: 1
  face:
    scale_factor: 1.2
server:
  port: 9090
  rate_limit:
    requests_per_minute: 30
    trust_proxy_headers: true
`))

	l := NewLoaderWithViper(viper.New())
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "facecls.yaml"), l.GetConfigFileUsed())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/srv/facecls", cfg.ArtifactsDir)
	assert.Equal(t, "model-v2.onnx", cfg.Artifacts.ModelFile)
	assert.Equal(t, artifacts.DefaultLabelsFile, cfg.Artifacts.LabelsFile, "unset keys keep defaults")
	assert.Equal(t, 1, cfg.Detector.MinEyes)
	assert.Equal(t, 1.2, cfg.Detector.Face.ScaleFactor)
	assert.Equal(t, 5, cfg.Detector.Face.MinNeighbors)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.RateLimit.RequestsPerMinute)
	assert.True(t, cfg.Server.RateLimit.TrustProxyHeaders)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	dir := isolate(t)
	testutil.WriteFile(t, dir, "facecls.yaml", []byte("server:\n  port: 9090\n"))

	t.Setenv("FACECLS_SERVER_PORT", "7070")
	t.Setenv("FACECLS_DETECTOR_EYE_MIN_NEIGHBORS", "4")
	t.Setenv("FACECLS_GPU_ENABLED", "true")
	t.Setenv("FACECLS_CLASSIFIER_LIBRARY_PATH", "/opt/ort/libonnxruntime.so")

	cfg, err := NewLoaderWithViper(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port, "environment beats the file")
	assert.Equal(t, 4, cfg.Detector.Eye.MinNeighbors)
	assert.True(t, cfg.GPU.Enabled)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", cfg.Classifier.LibraryPath)
}

func TestLoadWithFile(t *testing.T) {
	dir := isolate(t)

	_, err := NewLoaderWithViper(viper.New()).LoadWithFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "does not exist")

	bad := testutil.WriteFile(t, dir, "bad.yaml", []byte("server: [unclosed"))
	_, err = NewLoaderWithViper(viper.New()).LoadWithFile(bad)
	assert.ErrorContains(t, err, "error reading config file")

	invalid := testutil.WriteFile(t, dir, "invalid.yaml", []byte("log_level: loud\nserver:\n  port: 0\n"))
	_, err = NewLoaderWithViper(viper.New()).LoadWithFile(invalid)
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid log level")
	assert.ErrorContains(t, err, "invalid server port", "all problems are reported together")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithoutValidation(invalid)
	require.NoError(t, err)
	assert.Equal(t, "loud", cfg.LogLevel)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"output format", func(c *Config) { c.Output.Format = "xml" }, "invalid output format"},
		{"backend", func(c *Config) { c.Detector.Backend = "dlib" }, "invalid detector backend"},
		{"min eyes", func(c *Config) { c.Detector.MinEyes = 0 }, "min eyes"},
		{"scale factor", func(c *Config) { c.Detector.Face.ScaleFactor = 1 }, "face detection"},
		{"wavelet", func(c *Config) { c.Features.Wavelet = "sym2" }, "features.wavelet"},
		{"size off the model", func(c *Config) { c.Features.Size = 16 }, "classifier expects 4096"},
		{"threads", func(c *Config) { c.Classifier.NumThreads = -1 }, "num_threads"},
		{"gpu device", func(c *Config) { c.GPU.Enabled = true; c.GPU.Device = -1 }, "gpu.device"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"upload", func(c *Config) { c.Server.MaxUploadMB = 0 }, "invalid max upload size"},
		{"timeout", func(c *Config) { c.Server.TimeoutSec = 0 }, "invalid timeout"},
		{"shutdown", func(c *Config) { c.Server.ShutdownTimeout = -1 }, "invalid shutdown timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArtifactsDir = "/srv/art"
	cfg.Artifacts.FaceCascade = "/cascades/face"
	cfg.Classifier.NumThreads = 2
	cfg.Classifier.ProbabilityOutput = "probabilities"
	cfg.GPU.Enabled = true
	cfg.Server.MaxUploadMB = 5
	cfg.Server.RateLimit.RequestsPerDay = 100
	cfg.Server.RateLimit.TrustProxyHeaders = true

	a := cfg.ToArtifactsConfig()
	assert.Equal(t, "/srv/art", a.Dir)
	assert.Equal(t, "/cascades/face", a.Paths().FaceCascade)
	assert.Equal(t, "/srv/art/cascades/puploc", a.Paths().EyeCascade)
	assert.Equal(t, cascade.BackendPigo, a.Backend)
	assert.Equal(t, features.VectorLength, a.Model.InputSize)
	assert.Equal(t, "probabilities", a.Model.ProbabilityOutput)
	assert.Equal(t, 2, a.Model.Runtime.NumThreads)
	assert.True(t, a.Model.Runtime.GPU.Enabled)

	s := cfg.ToServiceConfig()
	assert.Equal(t, cfg.Detector.Config, s.Locator)
	assert.Equal(t, cfg.Features, s.Features)

	srv := cfg.ToServerConfig("1.0.0")
	assert.Equal(t, int64(5), srv.MaxUploadMB)
	assert.Equal(t, "1.0.0", srv.Version)
	assert.Equal(t, 100, srv.RateLimit.RequestsPerDay)
	assert.True(t, srv.RateLimit.TrustProxyHeaders)
}

func TestConfig_YAMLShape(t *testing.T) {
	out, err := yaml.Marshal(DefaultConfig())
	require.NoError(t, err)

	var tree map[string]any
	require.NoError(t, yaml.Unmarshal(out, &tree))
	detector, ok := tree["detector"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, detector, "backend")
	assert.Contains(t, detector, "min_eyes", "locator settings sit directly under detector")
	assert.Contains(t, detector, "face")

	var back Config
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, DefaultConfig(), back)
}

func TestGetConfigSearchPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")

	assert.Equal(t, []string{".", home, filepath.Join(home, ".config", "facecls"), "/etc/facecls"}, GetConfigSearchPaths())

	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, []string{".", home, "/xdg/facecls", "/etc/facecls"}, GetConfigSearchPaths())
}
