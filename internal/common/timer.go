// Package common provides small helpers shared across packages.
package common

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Timer measures the stages of one unit of work.
type Timer struct {
	start  time.Time
	last   time.Time
	name   string
	stages []Stage
}

// Stage is one named interval recorded by Lap.
type Stage struct {
	Name     string
	Duration time.Duration
}

// NewTimer starts a timer.
func NewTimer(name string) *Timer {
	now := time.Now()
	return &Timer{start: now, last: now, name: name}
}

// Lap records the time since the previous lap (or the start) under stage.
func (t *Timer) Lap(stage string) time.Duration {
	now := time.Now()
	d := now.Sub(t.last)
	t.last = now
	t.stages = append(t.stages, Stage{Name: stage, Duration: d})
	return d
}

// Total returns the time since the timer started.
func (t *Timer) Total() time.Duration { return time.Since(t.start) }

// Name returns the timer name.
func (t *Timer) Name() string { return t.name }

// Stages returns the recorded laps in order.
func (t *Timer) Stages() []Stage { return append([]Stage(nil), t.stages...) }

// LogAttr groups the laps and the total as a slog attribute.
func (t *Timer) LogAttr() slog.Attr {
	attrs := make([]any, 0, len(t.stages)+1)
	for _, s := range t.stages {
		attrs = append(attrs, slog.Duration(s.Name, s.Duration))
	}
	attrs = append(attrs, slog.Duration("total", t.Total()))
	return slog.Group("timings", attrs...)
}

// String formats the laps as "name: a=1ms b=2ms".
func (t *Timer) String() string {
	var b strings.Builder
	if t.name != "" {
		b.WriteString(t.name)
		b.WriteString(":")
	}
	for _, s := range t.stages {
		fmt.Fprintf(&b, " %s=%v", s.Name, s.Duration)
	}
	return strings.TrimSpace(b.String())
}
