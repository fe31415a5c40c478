package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MeKo-Tech/facecls/internal/artifacts"
	"github.com/MeKo-Tech/facecls/internal/cascade"
	"github.com/MeKo-Tech/facecls/internal/classifier"
	"github.com/MeKo-Tech/facecls/internal/features"
	"github.com/MeKo-Tech/facecls/internal/locator"
	"github.com/MeKo-Tech/facecls/internal/onnx"
	"github.com/MeKo-Tech/facecls/internal/server"
	"github.com/MeKo-Tech/facecls/internal/service"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatCSV  = "csv"
)

var (
	validLogLevels = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{FormatJSON, FormatText, FormatCSV}
)

// DefaultConfig returns a configuration with the training defaults.
func DefaultConfig() Config {
	return Config{
		ArtifactsDir: artifacts.DefaultDir,
		LogLevel:     "info",
		Artifacts: ArtifactsConfig{
			LabelsFile: artifacts.DefaultLabelsFile,
			ModelFile:  artifacts.DefaultModelFile,
		},
		Detector: DetectorConfig{
			Backend: cascade.BackendPigo,
			Config:  locator.DefaultConfig(),
		},
		Features: features.DefaultConfig(),
		GPU:      onnx.DefaultGPUConfig(),
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      server.DefaultCORSOrigin,
			MaxUploadMB:     server.DefaultMaxUploadMB,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
		Output: OutputConfig{Format: FormatJSON},
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if !slices.Contains(validLogLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", ")))
	}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		errs = append(errs, fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", ")))
	}

	if !slices.Contains(cascade.Backends(), c.Detector.Backend) {
		errs = append(errs, fmt.Errorf("invalid detector backend: %s (available: %s)", c.Detector.Backend, strings.Join(cascade.Backends(), ", ")))
	}
	if err := c.Detector.Config.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("detector: %w", err))
	}
	if err := c.Features.Validate(); err != nil {
		errs = append(errs, err)
	}
	if features.Length(c.Features.Size) != features.VectorLength {
		errs = append(errs, fmt.Errorf("features.size %d gives vectors of length %d; the classifier expects %d",
			c.Features.Size, features.Length(c.Features.Size), features.VectorLength))
	}
	if err := c.runtime().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("classifier: %w", err))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB))
	}
	if c.Server.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("invalid shutdown timeout: %d (must not be negative)", c.Server.ShutdownTimeout))
	}

	return errors.Join(errs...)
}

func (c *Config) runtime() onnx.RuntimeConfig {
	return onnx.RuntimeConfig{
		LibraryPath: c.Classifier.LibraryPath,
		NumThreads:  c.Classifier.NumThreads,
		GPU:         c.GPU,
	}
}

// ToArtifactsConfig converts to the artifact loader configuration.
func (c *Config) ToArtifactsConfig() artifacts.Config {
	return artifacts.Config{
		Dir:         c.ArtifactsDir,
		LabelsFile:  c.Artifacts.LabelsFile,
		ModelFile:   c.Artifacts.ModelFile,
		FaceCascade: c.Artifacts.FaceCascade,
		EyeCascade:  c.Artifacts.EyeCascade,
		Backend:     c.Detector.Backend,
		Model: classifier.ONNXConfig{
			InputName:         c.Classifier.InputName,
			LabelOutput:       c.Classifier.LabelOutput,
			ProbabilityOutput: c.Classifier.ProbabilityOutput,
			InputSize:         features.Length(c.Features.Size),
			Runtime:           c.runtime(),
		},
	}
}

// ToServiceConfig converts to the classification service configuration.
func (c *Config) ToServiceConfig() service.Config {
	return service.Config{
		Locator:  c.Detector.Config,
		Features: c.Features,
	}
}

// ToServerConfig converts to the HTTP server configuration.
func (c *Config) ToServerConfig(version string) server.Config {
	return server.Config{
		CORSOrigin:  c.Server.CORSOrigin,
		MaxUploadMB: int64(c.Server.MaxUploadMB),
		Version:     version,
		RateLimit:   c.Server.RateLimit,
	}
}
