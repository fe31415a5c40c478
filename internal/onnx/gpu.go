package onnx

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/yalue/onnxruntime_go"
)

// GPUConfig selects the CUDA execution provider.
type GPUConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Device         int    `mapstructure:"device" yaml:"device" json:"device"`
	MemoryLimit    uint64 `mapstructure:"memory_limit" yaml:"memory_limit" json:"memory_limit"` // bytes, 0 = unlimited
	ArenaStrategy  string `mapstructure:"arena_strategy" yaml:"arena_strategy" json:"arena_strategy"`
	ConvAlgoSearch string `mapstructure:"conv_algo_search" yaml:"conv_algo_search" json:"conv_algo_search"`
}

// DefaultGPUConfig returns a CPU-only configuration with CUDA defaults filled
// in for when it is switched on.
func DefaultGPUConfig() GPUConfig {
	return GPUConfig{
		ArenaStrategy:  "kNextPowerOfTwo",
		ConvAlgoSearch: "DEFAULT",
	}
}

var (
	arenaStrategies = map[string]bool{"kNextPowerOfTwo": true, "kSameAsRequested": true}
	convAlgoSearch  = map[string]bool{"EXHAUSTIVE": true, "HEURISTIC": true, "DEFAULT": true}
)

// Validate checks the CUDA settings. A disabled config is always valid.
func (c GPUConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Device < 0 {
		return fmt.Errorf("gpu.device must be non-negative, got %d", c.Device)
	}
	if c.ArenaStrategy != "" && !arenaStrategies[c.ArenaStrategy] {
		return fmt.Errorf("invalid gpu.arena_strategy %q (kNextPowerOfTwo or kSameAsRequested)", c.ArenaStrategy)
	}
	if c.ConvAlgoSearch != "" && !convAlgoSearch[c.ConvAlgoSearch] {
		return fmt.Errorf("invalid gpu.conv_algo_search %q (EXHAUSTIVE, HEURISTIC or DEFAULT)", c.ConvAlgoSearch)
	}
	return nil
}

// providerSettings returns the CUDA provider key/value options for c.
func (c GPUConfig) providerSettings() map[string]string {
	settings := map[string]string{
		"device_id":                 strconv.Itoa(c.Device),
		"do_copy_in_default_stream": "1",
	}
	if c.MemoryLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(c.MemoryLimit, 10)
	}
	if c.ArenaStrategy != "" {
		settings["arena_extend_strategy"] = c.ArenaStrategy
	}
	if c.ConvAlgoSearch != "" {
		settings["cudnn_conv_algo_search"] = c.ConvAlgoSearch
	}
	return settings
}

// appendCUDA adds the CUDA execution provider to opts when c is enabled.
func appendCUDA(opts *onnxruntime_go.SessionOptions, c GPUConfig) error {
	if !c.Enabled {
		return nil
	}

	cudaOpts, err := onnxruntime_go.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("create CUDA provider options (is a GPU build of onnxruntime installed?): %w", err)
	}
	defer func() {
		if err := cudaOpts.Destroy(); err != nil {
			slog.Warn("Failed to destroy CUDA provider options", "error", err)
		}
	}()

	if err := cudaOpts.Update(c.providerSettings()); err != nil {
		return fmt.Errorf("update CUDA provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("append CUDA execution provider: %w", err)
	}
	return nil
}
