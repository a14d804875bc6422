// Package schedule runs periodic jobs, such as syncs and cross-reference
// rebuilds, on cron specs.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	serrors "github.com/Aman-CERP/strata/internal/errors"
)

// Job is a named unit of periodic work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc struct {
	JobName string
	Fn      func(ctx context.Context) error
}

func (j JobFunc) Name() string                  { return j.JobName }
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec checks a five-field cron spec or a descriptor such as
// "@hourly" or "@every 15m".
func ValidateSpec(spec string) error {
	if _, err := parser.Parse(spec); err != nil {
		return serrors.New(serrors.ErrCodeConfigInvalid, "invalid schedule "+spec, err).
			WithSuggestion(`use five cron fields ("*/15 * * * *") or "@every 15m"`)
	}
	return nil
}

// CronScheduler runs jobs on cron specs. A job never overlaps itself: a
// tick that arrives while the previous run is going is skipped.
type CronScheduler struct {
	cron *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
}

// NewCronScheduler creates a stopped scheduler.
func NewCronScheduler() *CronScheduler {
	return &CronScheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		ctx:     context.Background(),
	}
}

// AddJob schedules job on spec.
func (c *CronScheduler) AddJob(job Job, spec string) error {
	if err := ValidateSpec(spec); err != nil {
		return err
	}
	id, err := c.cron.AddFunc(spec, c.wrap(job, spec))
	if err != nil {
		return serrors.New(serrors.ErrCodeConfigInvalid, "cannot schedule "+job.Name(), err)
	}
	c.mu.Lock()
	c.entries[job.Name()] = id
	c.mu.Unlock()
	slog.Info("schedule_job_added",
		slog.String("job", job.Name()),
		slog.String("spec", spec))
	return nil
}

// Next returns the next run time of the named job, or zero.
func (c *CronScheduler) Next(name string) time.Time {
	c.mu.Lock()
	id, ok := c.entries[name]
	c.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return c.cron.Entry(id).Next
}

// Start runs the scheduler in the background. Jobs receive ctx.
func (c *CronScheduler) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.cron.Start()
}

// Stop stops scheduling and waits for running jobs to return.
func (c *CronScheduler) Stop() {
	<-c.cron.Stop().Done()
}

func (c *CronScheduler) wrap(job Job, spec string) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			slog.Info("schedule_job_skipped",
				slog.String("job", job.Name()),
				slog.String("reason", "still running"))
			return
		}
		defer running.Store(false)

		c.mu.Lock()
		ctx := c.ctx
		c.mu.Unlock()
		if ctx.Err() != nil {
			return
		}

		start := time.Now()
		err := job.Run(ctx)
		attrs := []any{
			slog.String("job", job.Name()),
			slog.String("spec", spec),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if err != nil && !serrors.IsCancelled(err) {
			slog.Error("schedule_job_failed", append(attrs, slog.String("error", err.Error()))...)
			return
		}
		slog.Info("schedule_job_finished", attrs...)
	}
}
