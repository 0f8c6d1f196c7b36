/*
scheduler.go - Scheduled recompute of the policy book

PURPOSE:
  Statuses and debt priorities depend on today's date, so stored facts go
  stale overnight even when no input changes. The scheduler re-derives the
  whole book on a cron schedule (default 03:00 daily).

DESIGN:
  - robfig/cron runs the job in the configured location
  - A run never overlaps the previous one (SkipIfStillRunning)
  - Every run is recorded by the service as a "recompute" Run

CONFIGURATION:
  - Schedule: standard 5-field cron spec (default "0 3 * * *")
  - Location: time zone for the spec (default UTC)
  - Timeout:  upper bound for one run (default 30 minutes)
  - Enabled:  whether Start schedules anything (default true)

USAGE:
  scheduler := NewRecomputeScheduler(svc, logger)
  if err := scheduler.Start(); err != nil {
      log.Fatal(err)
  }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Recompute endpoint (manual run)
  - book/service.go: Service.Recompute
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/warp/policy-engine/book"
)

// DefaultSchedule runs the recompute daily at 03:00.
const DefaultSchedule = "0 3 * * *"

// Recomputer is the part of book.Service the scheduler drives.
type Recomputer interface {
	Recompute(ctx context.Context, filter book.Filter) (book.RecomputeResult, error)
}

// RecomputeScheduler re-derives the book on a cron schedule.
type RecomputeScheduler struct {
	Service  Recomputer
	Schedule string
	Location *time.Location
	Timeout  time.Duration
	Enabled  bool
	Logger   zerolog.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	mu      sync.Mutex
}

// NewRecomputeScheduler creates a scheduler with the default schedule.
func NewRecomputeScheduler(svc Recomputer, logger zerolog.Logger) *RecomputeScheduler {
	return &RecomputeScheduler{
		Service:  svc,
		Schedule: DefaultSchedule,
		Location: time.UTC,
		Timeout:  30 * time.Minute,
		Enabled:  true,
		Logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start schedules the recompute job. It fails on an invalid cron spec.
func (rs *RecomputeScheduler) Start() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info().Msg("disabled, not starting")
		return nil
	}
	if rs.cron != nil {
		return nil
	}

	loc := rs.Location
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	id, err := c.AddFunc(rs.Schedule, rs.runScheduled)
	if err != nil {
		return fmt.Errorf("invalid recompute schedule %q: %w", rs.Schedule, err)
	}
	c.Start()

	rs.cron = c
	rs.entryID = id
	rs.Logger.Info().
		Str("schedule", rs.Schedule).
		Str("location", loc.String()).
		Time("next_run", c.Entry(id).Next).
		Msg("started")
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (rs *RecomputeScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.cron == nil {
		return
	}
	<-rs.cron.Stop().Done()
	rs.cron = nil
	rs.Logger.Info().Msg("stopped")
}

// NextRun returns when the next scheduled recompute will start, or the zero
// time when the scheduler is not running.
func (rs *RecomputeScheduler) NextRun() time.Time {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.cron == nil {
		return time.Time{}
	}
	return rs.cron.Entry(rs.entryID).Next
}

// RunNow triggers an immediate recompute of the whole book.
func (rs *RecomputeScheduler) RunNow(ctx context.Context) (book.RecomputeResult, error) {
	if rs.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rs.Timeout)
		defer cancel()
	}

	started := time.Now()
	res, err := rs.Service.Recompute(ctx, book.Filter{})
	if err != nil {
		rs.Logger.Error().Err(err).Dur("took", time.Since(started)).Msg("recompute failed")
		return res, err
	}
	rs.Logger.Info().
		Str("run_id", res.RunID).
		Int("processed", res.Processed).
		Int("errors", len(res.Errors)).
		Dur("took", time.Since(started)).
		Msg("recompute completed")
	return res, nil
}

func (rs *RecomputeScheduler) runScheduled() {
	rs.RunNow(context.Background())
}
