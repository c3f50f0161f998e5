// Package watch polls a pipeline run until it reaches a terminal state.
// It works against anything that can produce run snapshots, which in
// practice is the HTTP API client.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/sentinelops/sentinel/pkg/logging"
	"github.com/sentinelops/sentinel/pkg/tracker"
)

// DefaultInterval is the polling cadence when none is configured.
const DefaultInterval = 2 * time.Second

// maxConsecutiveFailures bounds tolerated transient poll errors before the
// watch gives up.
const maxConsecutiveFailures = 3

// Snapshotter produces point-in-time snapshots of a pipeline run.
type Snapshotter interface {
	PipelineRun(ctx context.Context, id string) (*tracker.PipelineRun, error)
}

// Config configures a Watcher.
type Config struct {
	// Interval is the polling cadence. Defaults to DefaultInterval.
	Interval time.Duration

	// Timeout bounds the whole watch. Zero means no bound beyond ctx.
	Timeout time.Duration

	Logger logging.Logger
}

// Watcher polls runs to completion.
type Watcher struct {
	source   Snapshotter
	interval time.Duration
	timeout  time.Duration
	logger   logging.Logger
}

// New creates a Watcher reading snapshots from source.
func New(source Snapshotter, cfg *Config) *Watcher {
	if cfg == nil {
		cfg = &Config{}
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Watcher{
		source:   source,
		interval: interval,
		timeout:  cfg.Timeout,
		logger:   logging.OrNop(cfg.Logger),
	}
}

// Watch polls the run until it is terminal, calling fn (if non-nil) with
// each snapshot including the final one. It returns the terminal snapshot.
// Transient snapshot errors are tolerated up to maxConsecutiveFailures in a
// row.
func (w *Watcher) Watch(ctx context.Context, id string, fn func(*tracker.PipelineRun)) (*tracker.PipelineRun, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	failures := 0
	for {
		run, err := w.source.PipelineRun(ctx, id)
		if err != nil {
			failures++
			if failures >= maxConsecutiveFailures {
				return nil, fmt.Errorf("watch run %s: %w", id, err)
			}
			w.logger.Warn("[watch] poll run %s: %v", id, err)
		} else {
			failures = 0
			if fn != nil {
				fn(run)
			}
			if run.Terminal() {
				return run, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("watch run %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}
