// Package batch classifies many image files with a worker pool and formats
// the per-file results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoImages is returned when the arguments expand to no image files.
var ErrNoImages = errors.New("no image files found")

// Process discovers image files under paths and classifies each of them.
func Process(ctx context.Context, svc Classifier, paths []string, cfg Config) (*Result, error) {
	files, err := discoverImageFiles(paths, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}

	start := time.Now()
	items, err := processImagesParallel(ctx, svc, files, &cfg)
	if err != nil {
		return nil, fmt.Errorf("batch processing failed: %w", err)
	}

	return &Result{
		Items:       items,
		Duration:    time.Since(start),
		WorkerCount: cfg.workers(len(files)),
	}, nil
}
