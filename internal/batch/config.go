package batch

import (
	"fmt"
	"io"
	"time"

	"github.com/MeKo-Tech/facecls/internal/service"
)

// Config holds all configuration for batch classification.
type Config struct {
	// Number of images classified concurrently; values below 1 mean 1.
	Workers int

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Keep going after an image fails; its error is recorded on the item.
	ContinueOnError bool

	// Progress receives a progress bar when set.
	Progress io.Writer
}

func (c *Config) workers(n int) int {
	w := c.Workers
	if w < 1 {
		w = 1
	}
	return min(w, n)
}

// Item is the outcome for one image file.
type Item struct {
	File    string           `json:"file"`
	Faces   []service.Result `json:"faces"`
	Error   string           `json:"error,omitempty"`
	Elapsed time.Duration    `json:"-"`

	err error
}

// Err returns the classification error, if any.
func (it *Item) Err() error { return it.err }

// Result holds the result of batch classification, in input order.
type Result struct {
	Items       []Item
	Duration    time.Duration
	WorkerCount int
}

// Failed returns the number of items that could not be classified.
func (r *Result) Failed() int {
	n := 0
	for i := range r.Items {
		if r.Items[i].err != nil {
			n++
		}
	}
	return n
}

// Faces returns the total number of classified faces.
func (r *Result) Faces() int {
	n := 0
	for i := range r.Items {
		n += len(r.Items[i].Faces)
	}
	return n
}

// FormatResults formats the batch results in the specified format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatBatchResults(r.Items, format)
}

// PrintStats writes processing statistics to w.
func (r *Result) PrintStats(w io.Writer) {
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total images: %d\n", len(r.Items))
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", r.Failed())
	_, _ = fmt.Fprintf(w, "  Faces: %d\n", r.Faces())
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", r.WorkerCount)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	if len(r.Items) > 0 && r.Duration > 0 {
		_, _ = fmt.Fprintf(w, "  Throughput: %.1f images/sec\n", float64(len(r.Items))/r.Duration.Seconds())
	}
}
