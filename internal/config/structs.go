//nolint:lll
package config

import (
	"github.com/MeKo-Tech/facecls/internal/features"
	"github.com/MeKo-Tech/facecls/internal/locator"
	"github.com/MeKo-Tech/facecls/internal/onnx"
	"github.com/MeKo-Tech/facecls/internal/server"
)

// Config is the complete configuration of facecls. It is read from a
// config file, FACECLS_ environment variables and command-line flags.
type Config struct {
	// Global settings
	ArtifactsDir string `mapstructure:"artifacts_dir" yaml:"artifacts_dir" json:"artifacts_dir"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose      bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Artifact file names, relative to ArtifactsDir unless absolute
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts" json:"artifacts"`

	// Face and eye detection
	Detector DetectorConfig `mapstructure:"detector" yaml:"detector" json:"detector"`

	// Feature vector construction; must match training
	Features features.Config `mapstructure:"features" yaml:"features" json:"features"`

	// ONNX classifier
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier" json:"classifier"`

	// GPU configuration
	GPU onnx.GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Output configuration (for classify and features commands)
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`
}

// ArtifactsConfig names the artifact files.
type ArtifactsConfig struct {
	LabelsFile  string `mapstructure:"labels_file" yaml:"labels_file" json:"labels_file"`
	ModelFile   string `mapstructure:"model_file" yaml:"model_file" json:"model_file"`
	FaceCascade string `mapstructure:"face_cascade" yaml:"face_cascade" json:"face_cascade"`
	EyeCascade  string `mapstructure:"eye_cascade" yaml:"eye_cascade" json:"eye_cascade"`
}

// DetectorConfig selects the cascade backend and its parameters.
type DetectorConfig struct {
	Backend        string `mapstructure:"backend" yaml:"backend" json:"backend"`
	locator.Config `mapstructure:",squash" yaml:",inline"`
}

// ClassifierConfig contains ONNX Runtime and graph settings.
type ClassifierConfig struct {
	LibraryPath       string `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	NumThreads        int    `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	InputName         string `mapstructure:"input_name" yaml:"input_name" json:"input_name"`
	LabelOutput       string `mapstructure:"label_output" yaml:"label_output" json:"label_output"`
	ProbabilityOutput string `mapstructure:"probability_output" yaml:"probability_output" json:"probability_output"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string                 `mapstructure:"host" yaml:"host" json:"host"`
	Port            int                    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string                 `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int                    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int                    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int                    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       server.RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}
