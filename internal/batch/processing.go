package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/MeKo-Tech/facecls/internal/service"
)

// Classifier classifies one input image.
type Classifier interface {
	Classify(in service.Input) ([]service.Result, error)
}

func newProgressBar(cfg *Config, total int) *progressbar.ProgressBar {
	if cfg.Progress == nil {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Classifying"),
		progressbar.OptionSetWriter(cfg.Progress),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func processSingleImage(svc Classifier, path string) Item {
	start := time.Now()
	faces, err := svc.Classify(service.Input{Path: path})
	it := Item{File: path, Faces: faces, Elapsed: time.Since(start)}
	if err != nil {
		it.err = fmt.Errorf("%s: %w", path, err)
		it.Error = err.Error()
		it.Faces = nil
	}
	return it
}

// processImagesParallel classifies paths with a fixed worker pool. Items
// keep input order. Unless cfg.ContinueOnError is set, the first failure
// cancels the remaining work and is returned.
func processImagesParallel(ctx context.Context, svc Classifier, paths []string, cfg *Config) ([]Item, error) {
	items := make([]Item, len(paths))
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	bar := newProgressBar(cfg, len(paths))
	var barMu sync.Mutex

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < cfg.workers(len(paths)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				items[i] = processSingleImage(svc, paths[i])
				if err := items[i].err; err != nil {
					slog.Warn("Image classification failed", "file", paths[i], "error", err)
					if !cfg.ContinueOnError {
						cancel(err)
					}
				}
				if bar != nil {
					barMu.Lock()
					_ = bar.Add(1)
					barMu.Unlock()
				}
			}
		}()
	}

feed:
	for i := range paths {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if bar != nil {
		_ = bar.Finish()
	}
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}
	return items, nil
}
