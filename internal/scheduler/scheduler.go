// Package scheduler sizes a worker pool from system memory, splits it
// across enabled models by priority, and drives each model's polling
// loop until its forecast hours are produced or the time budget runs
// out. One model's failures never abort another model's loop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/stratuscast/gridgen/internal/accum"
	"github.com/stratuscast/gridgen/internal/artifact"
	"github.com/stratuscast/gridgen/internal/assemble"
	"github.com/stratuscast/gridgen/internal/fetch"
	"github.com/stratuscast/gridgen/internal/nwp"
	"github.com/stratuscast/gridgen/internal/observability"
)

// Memory-reclaim pause between sequential models; the forced GC drops
// the previous model's grids before the next pool spins up.
const reclaimPause = 5 * time.Second

// Options configures a generation cycle.
type Options struct {
	// Variables lists requested output variables; each model produces
	// the subset it supports.
	Variables []string

	// WorkersOverride pins the pool size, bypassing memory sizing.
	WorkersOverride int

	MaxDuration   time.Duration
	CheckInterval time.Duration
	MaxAttempts   int
	RetainRuns    int

	// Parallel runs one goroutine per model, each owning its own pool
	// slice; sequential runs models one after another with a reclaim
	// pause between.
	Parallel bool

	// Progressive keeps polling until the time budget expires;
	// non-progressive runs a single availability pass and stops.
	Progressive bool
}

// Scheduler owns one host's generation cycles.
type Scheduler struct {
	registry *nwp.Registry
	fetcher  fetch.Fetcher
	renderer assemble.Renderer
	store    *artifact.Store
	events   Publisher
	memStats MemoryStats
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	opts     Options

	cycled atomic.Bool
}

// New creates a Scheduler. events may be nil; memStats defaults to the
// live system reader when nil.
func New(registry *nwp.Registry, fetcher fetch.Fetcher, renderer assemble.Renderer, store *artifact.Store, events Publisher, memStats MemoryStats, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Scheduler {
	if memStats == nil {
		memStats = SystemMemoryStats
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 120 * time.Minute
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetainRuns <= 0 {
		opts.RetainRuns = 4
	}
	return &Scheduler{
		registry: registry,
		fetcher:  fetcher,
		renderer: renderer,
		store:    store,
		events:   events,
		memStats: memStats,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		opts:     opts,
	}
}

// CheckReadiness reports ready once the first generation cycle has
// completed.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.cycled.Load() {
		return errors.New("no generation cycle has completed yet")
	}
	return nil
}

// RunCycle executes one generation cycle across all enabled models and
// returns the per-model results keyed by model id.
func (s *Scheduler) RunCycle(ctx context.Context) (map[string]ModelResult, error) {
	enabled := s.registry.EnabledModels()
	if len(enabled) == 0 {
		return nil, errors.New("no models enabled")
	}

	models := make([]nwp.ModelConfig, 0, len(enabled))
	for _, m := range enabled {
		models = append(models, m)
	}

	totalMem, availMem, err := s.memStats()
	if err != nil {
		return nil, fmt.Errorf("read memory stats: %w", err)
	}
	totalWorkers := PoolSize(totalMem, availMem, s.opts.WorkersOverride)
	allocation := Allocate(totalWorkers, models)

	s.logger.Info("generation cycle starting",
		"models", len(models), "total_workers", totalWorkers, "parallel", s.opts.Parallel)
	for id, n := range allocation {
		s.metrics.WorkersAllocated.WithLabelValues(id).Set(float64(n))
	}
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	results := make(map[string]ModelResult, len(models))

	if s.opts.Parallel {
		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for _, m := range models {
			if allocation[m.ID] == 0 {
				s.logger.Warn("model received no workers this cycle", "model", m.ID)
				continue
			}
			wg.Add(1)
			go func(m nwp.ModelConfig) {
				defer wg.Done()
				r := s.runModel(ctx, m, allocation[m.ID])
				mu.Lock()
				results[m.ID] = r
				mu.Unlock()
			}(m)
		}
		wg.Wait()
	} else {
		for i, m := range models {
			if allocation[m.ID] == 0 {
				s.logger.Warn("model received no workers this cycle", "model", m.ID)
				continue
			}
			if i > 0 {
				runtime.GC()
				s.sleep(ctx, reclaimPause)
			}
			results[m.ID] = s.runModel(ctx, m, allocation[m.ID])
			if ctx.Err() != nil {
				break
			}
		}
	}

	s.cleanup(models)
	s.summarize(results)
	s.cycled.Store(true)
	return results, nil
}

// runModel builds the per-model machinery and runs the polling loop
// for the model's latest expected run. The accumulation engine is
// fresh per call, so the run cache lives exactly as long as this loop.
func (s *Scheduler) runModel(ctx context.Context, model nwp.ModelConfig, workers int) ModelResult {
	variables := s.registry.FilterVariablesForModel(s.opts.Variables, model)
	if len(variables) == 0 {
		s.logger.Warn("no supported variables for model", "model", model.ID)
		return ModelResult{Model: model.ID}
	}

	engine := accum.NewEngine(s.fetcher, s.logger, s.metrics)
	assembler := assemble.New(s.registry, s.fetcher, engine, s.logger, s.metrics)

	poller := NewPoller(PollerOptions{
		Model:         model,
		Variables:     variables,
		Fetcher:       s.fetcher,
		Assembler:     assembler,
		Renderer:      s.renderer,
		Store:         s.store,
		Events:        s.events,
		Clock:         s.clock,
		Logger:        s.logger,
		Metrics:       s.metrics,
		Workers:       workers,
		MaxDuration:   s.opts.MaxDuration,
		CheckInterval: s.opts.CheckInterval,
		MaxAttempts:   s.opts.MaxAttempts,
		Progressive:   s.opts.Progressive,
	})

	runTime := model.LatestExpectedRun(s.clock.Now())
	return poller.Run(ctx, runTime)
}

// cleanup applies the retention policy per model after the cycle.
func (s *Scheduler) cleanup(models []nwp.ModelConfig) {
	for _, m := range models {
		if _, err := s.store.CleanupOldRuns(m.ID, s.opts.RetainRuns); err != nil {
			s.logger.Warn("retention cleanup failed", "model", m.ID, "error", err)
			continue
		}
		runs, err := s.store.ListRuns(m.ID)
		if err == nil {
			s.metrics.ArtifactsRetained.WithLabelValues(m.ID).Set(float64(len(runs)))
		}
	}
}

// summarize logs the operator-facing end-of-run report.
func (s *Scheduler) summarize(results map[string]ModelResult) {
	for id, r := range results {
		s.logger.Info("model cycle summary",
			"model", id,
			"run", r.RunTime,
			"completed", len(r.Completed),
			"abandoned", r.Abandoned,
			"pending", r.Pending,
			"timed_out", r.TimedOut)
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	timer := s.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.Chan():
	}
}
