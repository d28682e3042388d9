package scheduler

import (
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler owns a cron loop that runs registered jobs at their configured
// cadence. Jobs are serialized: a tick that arrives while the previous run
// of the same job is still in progress is skipped, and a panic inside a job
// is contained so the loop keeps ticking.
type Scheduler struct {
	cron   *cron.Cron
	logger *log.Logger
}

// New creates a stopped scheduler in the given location.
func New(location *time.Location, logger *log.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(location)),
		logger: logger,
	}
}

// AddJob registers fn under a cron expression ("0 8 * * *", "@every 20s").
func (s *Scheduler) AddJob(spec string, fn func()) error {
	_, err := s.cron.AddJob(spec, wrap(fn, s.logger))
	return err
}

// Start begins ticking in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the loop before the next tick and waits for any running job to
// finish. A job already in progress is never interrupted.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// wrap chains skip-if-still-running and panic recovery around a job.
func wrap(fn func(), logger *log.Logger) cron.Job {
	cronLogger := cron.PrintfLogger(logger)
	return cron.NewChain(
		cron.SkipIfStillRunning(cronLogger),
		cron.Recover(cronLogger),
	).Then(cron.FuncJob(fn))
}
