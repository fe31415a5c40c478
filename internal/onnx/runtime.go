// Package onnx wraps ONNX Runtime process setup: locating the shared
// library, initializing the environment once, and building session options.
package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/yalue/onnxruntime_go"
)

// LibraryEnv overrides shared library discovery.
const LibraryEnv = "ONNXRUNTIME_LIB_PATH"

// ErrLibraryNotFound is returned when no ONNX Runtime shared library exists
// at any of the searched locations.
var ErrLibraryNotFound = errors.New("onnxruntime shared library not found")

// RuntimeConfig controls environment and session setup.
type RuntimeConfig struct {
	LibraryPath string    `mapstructure:"library_path" yaml:"library_path" json:"library_path"`
	NumThreads  int       `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
	GPU         GPUConfig `mapstructure:"gpu" yaml:"gpu" json:"gpu"`
}

// Validate checks the runtime settings.
func (c RuntimeConfig) Validate() error {
	if c.NumThreads < 0 {
		return fmt.Errorf("num_threads must be non-negative, got %d", c.NumThreads)
	}
	return c.GPU.Validate()
}

func libraryName() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// candidatePaths lists where the shared library is looked for, in order:
// the explicit path, the environment override, system locations (GPU builds
// first when useGPU is set) and an onnxruntime/ directory next to the
// working directory or any of its parents.
func candidatePaths(explicit string, useGPU bool) []string {
	if explicit != "" {
		return []string{explicit}
	}
	var paths []string
	if env := os.Getenv(LibraryEnv); env != "" {
		paths = append(paths, env)
	}

	name, err := libraryName()
	if err != nil {
		return paths
	}
	if useGPU {
		paths = append(paths, filepath.Join("/opt/onnxruntime/gpu/lib", name))
	}
	paths = append(paths,
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
		filepath.Join("/opt/onnxruntime/cpu/lib", name),
	)

	if dir, err := os.Getwd(); err == nil {
		for {
			if useGPU {
				paths = append(paths, filepath.Join(dir, "onnxruntime", "gpu", "lib", name))
			}
			paths = append(paths, filepath.Join(dir, "onnxruntime", "lib", name))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return paths
}

// ResolveLibraryPath returns the first existing shared library candidate.
func ResolveLibraryPath(explicit string, useGPU bool) (string, error) {
	paths := candidatePaths(explicit, useGPU)
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, nil
		}
	}
	if explicit != "" {
		return "", fmt.Errorf("%w at %s", ErrLibraryNotFound, explicit)
	}
	return "", fmt.Errorf("%w (set %s or classifier.library_path)", ErrLibraryNotFound, LibraryEnv)
}

var initMu sync.Mutex

// Initialize points onnxruntime_go at the shared library and creates the
// process environment. Calling it again after success is a no-op.
func Initialize(cfg RuntimeConfig) error {
	initMu.Lock()
	defer initMu.Unlock()

	if onnxruntime_go.IsInitialized() {
		return nil
	}
	path, err := ResolveLibraryPath(cfg.LibraryPath, cfg.GPU.Enabled)
	if err != nil {
		return err
	}
	onnxruntime_go.SetSharedLibraryPath(path)
	if err := onnxruntime_go.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime from %s: %w", path, err)
	}
	return nil
}

// NewSessionOptions returns session options for cfg. The caller destroys
// them once the session has been created.
func NewSessionOptions(cfg RuntimeConfig) (*onnxruntime_go.SessionOptions, error) {
	opts, err := onnxruntime_go.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			_ = opts.Destroy()
			return nil, fmt.Errorf("set thread count: %w", err)
		}
	}
	if err := appendCUDA(opts, cfg.GPU); err != nil {
		_ = opts.Destroy()
		return nil, err
	}
	return opts, nil
}
