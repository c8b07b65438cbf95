package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/stratuscast/gridgen/internal/artifact"
	"github.com/stratuscast/gridgen/internal/assemble"
	"github.com/stratuscast/gridgen/internal/fetch"
	"github.com/stratuscast/gridgen/internal/nwp"
	"github.com/stratuscast/gridgen/internal/observability"
)

// Publisher announces generated artifacts downstream. A nil publisher
// disables events.
type Publisher interface {
	PublishArtifact(ctx context.Context, ev artifact.Event) error
}

// Job is one unit of dispatch: produce every requested variable for one
// forecast hour of one model run.
type Job struct {
	Model        string
	RunTime      time.Time
	ForecastHour int
	Variables    []string
}

// jobOutcome distinguishes the three ways a job can end. Upstream
// vanishing between the availability probe and the fetch keeps the hour
// pending without spending a retry.
type jobOutcome int

const (
	jobSucceeded jobOutcome = iota
	jobNotReady
	jobFailed
)

// ModelResult summarizes one model's polling loop for the end-of-run
// report.
type ModelResult struct {
	Model     string
	RunTime   time.Time
	Completed []int
	Abandoned []int
	Pending   []int
	TimedOut  bool
}

// Poller drives one model's forecast hours to completion: poll
// availability, dispatch ready hours into a bounded worker pool, retry
// failures, give up politely when the time or retry budget runs out.
type Poller struct {
	model     nwp.ModelConfig
	variables []string
	fetcher   fetch.Fetcher
	assembler *assemble.Assembler
	renderer  assemble.Renderer
	store     *artifact.Store
	events    Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	workers       int
	maxDuration   time.Duration
	checkInterval time.Duration
	maxAttempts   int
	progressive   bool
}

// PollerOptions bundles the per-model knobs.
type PollerOptions struct {
	Model     nwp.ModelConfig
	Variables []string
	Fetcher   fetch.Fetcher
	Assembler *assemble.Assembler
	Renderer  assemble.Renderer
	Store     *artifact.Store
	Events    Publisher
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Metrics   *observability.Metrics

	Workers       int
	MaxDuration   time.Duration
	CheckInterval time.Duration
	MaxAttempts   int
	Progressive   bool
}

// NewPoller creates the polling loop for one model.
func NewPoller(opts PollerOptions) *Poller {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	return &Poller{
		model:         opts.Model,
		variables:     opts.Variables,
		fetcher:       opts.Fetcher,
		assembler:     opts.Assembler,
		renderer:      opts.Renderer,
		store:         opts.Store,
		events:        opts.Events,
		clock:         opts.Clock,
		logger:        opts.Logger.With("model", opts.Model.ID),
		metrics:       opts.Metrics,
		workers:       opts.Workers,
		maxDuration:   opts.MaxDuration,
		checkInterval: opts.CheckInterval,
		maxAttempts:   opts.MaxAttempts,
		progressive:   opts.Progressive,
	}
}

// Run executes the polling loop for one run of the model. Hours already
// complete on disk are skipped up front, so a restart resumes where the
// previous process stopped. The returned result is informational; an
// exhausted hour never fails the run.
func (p *Poller) Run(ctx context.Context, runTime time.Time) ModelResult {
	pending := make(map[int]bool)
	for _, h := range p.model.TargetForecastHours() {
		if p.store.HourComplete(p.model.ID, runTime, p.variables, h) {
			continue
		}
		pending[h] = true
	}

	result := ModelResult{Model: p.model.ID, RunTime: runTime}
	if len(pending) == 0 {
		p.logger.Info("all forecast hours already produced", "run", runTime)
		return result
	}

	deadline := p.clock.Now().Add(p.maxDuration)
	failedAttempts := make(map[int]int)

	p.logger.Info("polling loop started",
		"run", runTime, "pending_hours", len(pending),
		"workers", p.workers, "deadline", deadline)

	for len(pending) > 0 {
		cycleStart := p.clock.Now()
		p.runCycle(ctx, runTime, pending, failedAttempts, &result)
		p.metrics.PollCycleDuration.WithLabelValues(p.model.ID).Observe(p.clock.Since(cycleStart).Seconds())

		if len(pending) == 0 || !p.progressive {
			break
		}
		if ctx.Err() != nil || !p.clock.Now().Before(deadline) {
			result.TimedOut = true
			break
		}
		if !p.sleep(ctx, p.checkInterval) {
			result.TimedOut = true
			break
		}
		if !p.clock.Now().Before(deadline) {
			result.TimedOut = true
			break
		}
	}

	for h := range pending {
		result.Pending = append(result.Pending, h)
	}
	sort.Ints(result.Completed)
	sort.Ints(result.Abandoned)
	sort.Ints(result.Pending)

	p.logger.Info("polling loop finished",
		"run", runTime,
		"completed", len(result.Completed),
		"abandoned", len(result.Abandoned),
		"still_pending", len(result.Pending),
		"timed_out", result.TimedOut)
	return result
}

// runCycle probes availability for every pending hour and dispatches
// each ready hour into the worker pool the moment its probe comes back
// positive. The batch is awaited before the caller's next cycle; an
// already-dispatched job is never cancelled mid-flight.
func (p *Poller) runCycle(ctx context.Context, runTime time.Time, pending map[int]bool, failedAttempts map[int]int, result *ModelResult) {
	hours := make([]int, 0, len(pending))
	for h := range pending {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	type hourOutcome struct {
		hour    int
		outcome jobOutcome
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes []hourOutcome
	)
	sem := make(chan struct{}, p.workers)

	for _, h := range hours {
		if ctx.Err() != nil {
			break
		}

		available, err := p.fetcher.HourAvailable(ctx, p.model.ID, runTime, h)
		if err != nil {
			p.logger.Warn("availability probe failed", "forecast_hour", h, "error", err)
			continue
		}
		if !available {
			continue
		}

		p.metrics.JobsDispatched.WithLabelValues(p.model.ID).Inc()
		wg.Add(1)
		go func(hour int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := p.runJob(ctx, Job{
				Model:        p.model.ID,
				RunTime:      runTime,
				ForecastHour: hour,
				Variables:    p.variables,
			})
			mu.Lock()
			outcomes = append(outcomes, hourOutcome{hour: hour, outcome: outcome})
			mu.Unlock()
		}(h)
	}

	wg.Wait()

	for _, o := range outcomes {
		switch o.outcome {
		case jobSucceeded:
			delete(pending, o.hour)
			result.Completed = append(result.Completed, o.hour)
			p.metrics.JobsSucceeded.WithLabelValues(p.model.ID).Inc()
		case jobNotReady:
			// Stays pending without spending a retry.
		case jobFailed:
			failedAttempts[o.hour]++
			p.metrics.JobsFailed.WithLabelValues(p.model.ID).Inc()
			if failedAttempts[o.hour] >= p.maxAttempts {
				delete(pending, o.hour)
				result.Abandoned = append(result.Abandoned, o.hour)
				p.metrics.JobsAbandoned.WithLabelValues(p.model.ID).Inc()
				p.logger.Error("abandoning forecast hour after repeated failures",
					"forecast_hour", o.hour, "attempts", failedAttempts[o.hour])
			}
		}
	}
}

// runJob assembles the dataset and renders every requested variable.
// Any panic-free failure is converted to an outcome here; nothing
// escapes the job boundary.
func (p *Poller) runJob(ctx context.Context, job Job) jobOutcome {
	start := p.clock.Now()
	defer func() {
		p.metrics.JobDuration.WithLabelValues(job.Model).Observe(p.clock.Since(start).Seconds())
	}()

	ds, err := p.assembler.BuildDataset(ctx, p.model, job.RunTime, job.ForecastHour, job.Variables)
	if err != nil {
		if errors.Is(err, assemble.ErrUpstreamNotReady) {
			p.logger.Info("hour vanished between probe and fetch",
				"forecast_hour", job.ForecastHour)
			return jobNotReady
		}
		p.logger.Error("dataset assembly failed",
			"forecast_hour", job.ForecastHour, "error", err)
		return jobFailed
	}

	rendered := 0
	for _, variable := range job.Variables {
		if p.store.Exists(job.Model, job.RunTime, variable, job.ForecastHour) {
			rendered++
			continue
		}

		path, err := p.renderer.GenerateArtifact(ctx, ds, job.Model, job.RunTime, job.ForecastHour, variable)
		if err != nil {
			p.logger.Error("artifact generation failed",
				"forecast_hour", job.ForecastHour, "variable", variable, "error", err)
			continue
		}
		rendered++
		p.metrics.ArtifactsGenerated.WithLabelValues(job.Model, variable).Inc()
		p.publishEvent(ctx, job, variable, path)
	}

	if rendered < len(job.Variables) {
		return jobFailed
	}
	return jobSucceeded
}

func (p *Poller) publishEvent(ctx context.Context, job Job, variable, path string) {
	if p.events == nil {
		return
	}
	ev := artifact.Event{
		Model:        job.Model,
		RunTime:      job.RunTime,
		ForecastHour: job.ForecastHour,
		Variable:     variable,
		Path:         path,
		GeneratedAt:  p.clock.Now().UTC(),
	}
	if err := p.events.PublishArtifact(ctx, ev); err != nil {
		p.metrics.KafkaEventErrors.Inc()
		p.logger.Warn("artifact event publish failed",
			"variable", variable, "forecast_hour", job.ForecastHour, "error", err)
		return
	}
	p.metrics.KafkaEventsPublished.Inc()
}

// sleep waits for the check interval on the injected clock, returning
// false when the context is cancelled first.
func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := p.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
