package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/MeKo-Tech/facecls/internal/cascade"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "facecls"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "FACECLS"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance, which is where
// the root command binds its flags.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on v.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the first facecls config file found on the search paths,
// applies environment overrides and defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	return l.LoadWithFile("")
}

// LoadWithFile is Load with an explicit config file. An empty path searches
// the standard locations and tolerates a missing file.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.read(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation is LoadWithFile without the validation step.
func (l *Loader) LoadWithoutValidation(configFile string) (*Config, error) {
	return l.read(configFile)
}

func (l *Loader) read(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); err != nil {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		for _, p := range GetConfigSearchPaths() {
			l.v.AddConfigPath(p)
		}
	}

	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

// setupEnvironmentVariables maps keys like server.port to FACECLS_SERVER_PORT.
func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so that environment variables can
// override keys absent from the config file.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("artifacts_dir", d.ArtifactsDir)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("artifacts.labels_file", d.Artifacts.LabelsFile)
	l.v.SetDefault("artifacts.model_file", d.Artifacts.ModelFile)
	l.v.SetDefault("artifacts.face_cascade", d.Artifacts.FaceCascade)
	l.v.SetDefault("artifacts.eye_cascade", d.Artifacts.EyeCascade)

	l.v.SetDefault("detector.backend", d.Detector.Backend)
	l.v.SetDefault("detector.min_eyes", d.Detector.MinEyes)
	l.setParamDefaults("detector.face", d.Detector.Face)
	l.setParamDefaults("detector.eye", d.Detector.Eye)

	l.v.SetDefault("features.size", d.Features.Size)
	l.v.SetDefault("features.wavelet", d.Features.Wavelet)
	l.v.SetDefault("features.level", d.Features.Level)
	l.v.SetDefault("features.resize_filter", d.Features.ResizeFilter)
	l.v.SetDefault("features.swap_gray_channels", d.Features.SwapGrayChannels)

	l.v.SetDefault("classifier.library_path", d.Classifier.LibraryPath)
	l.v.SetDefault("classifier.num_threads", d.Classifier.NumThreads)
	l.v.SetDefault("classifier.input_name", d.Classifier.InputName)
	l.v.SetDefault("classifier.label_output", d.Classifier.LabelOutput)
	l.v.SetDefault("classifier.probability_output", d.Classifier.ProbabilityOutput)

	l.v.SetDefault("gpu.enabled", d.GPU.Enabled)
	l.v.SetDefault("gpu.device", d.GPU.Device)
	l.v.SetDefault("gpu.memory_limit", d.GPU.MemoryLimit)
	l.v.SetDefault("gpu.arena_strategy", d.GPU.ArenaStrategy)
	l.v.SetDefault("gpu.conv_algo_search", d.GPU.ConvAlgoSearch)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.rate_limit.requests_per_minute", d.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.requests_per_hour", d.Server.RateLimit.RequestsPerHour)
	l.v.SetDefault("server.rate_limit.requests_per_day", d.Server.RateLimit.RequestsPerDay)
	l.v.SetDefault("server.rate_limit.max_bytes_per_day", d.Server.RateLimit.MaxBytesPerDay)
	l.v.SetDefault("server.rate_limit.trust_proxy_headers", d.Server.RateLimit.TrustProxyHeaders)

	l.v.SetDefault("output.format", d.Output.Format)
}

func (l *Loader) setParamDefaults(prefix string, p cascade.Params) {
	l.v.SetDefault(prefix+".scale_factor", p.ScaleFactor)
	l.v.SetDefault(prefix+".min_neighbors", p.MinNeighbors)
	l.v.SetDefault(prefix+".min_size", p.MinSize)
	l.v.SetDefault(prefix+".max_size", p.MaxSize)
	l.v.SetDefault(prefix+".shift_factor", p.ShiftFactor)
	l.v.SetDefault(prefix+".min_quality", p.MinQuality)
}

// GetConfigSearchPaths returns the directories searched for facecls.yaml,
// in order.
func GetConfigSearchPaths() []string {
	paths := []string{"."}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
		if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok && configDir != "" {
			paths = append(paths, filepath.Join(configDir, "facecls"))
		} else {
			paths = append(paths, filepath.Join(home, ".config", "facecls"))
		}
	}

	return append(paths, "/etc/facecls")
}
