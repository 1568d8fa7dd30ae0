package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one named cron entry.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Cron runs batch refreshes on standard five-field cron specs. A job that
// is still running when its next slot arrives is skipped.
type Cron struct {
	c      *cron.Cron
	logger zerolog.Logger
	jobs   []string
}

// NewCron builds an empty Cron in the given location (UTC when nil).
func NewCron(loc *time.Location, logger zerolog.Logger) *Cron {
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With().Str("component", "cron").Logger()
	return &Cron{
		c: cron.New(
			cron.WithLocation(loc),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
		),
		logger: logger,
	}
}

// Add registers a job. Jobs with an empty spec are ignored.
func (c *Cron) Add(ctx context.Context, job Job) error {
	if job.Spec == "" {
		c.logger.Debug().Str("job", job.Name).Msg("no schedule configured")
		return nil
	}
	_, err := c.c.AddFunc(job.Spec, func() {
		started := time.Now()
		c.logger.Info().Str("job", job.Name).Msg("executing scheduled job")
		if err := job.Run(ctx); err != nil {
			c.logger.Error().Err(err).Str("job", job.Name).Msg("scheduled job failed")
			return
		}
		c.logger.Info().Str("job", job.Name).Dur("took", time.Since(started)).Msg("scheduled job done")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	c.jobs = append(c.jobs, job.Name)
	return nil
}

// Jobs lists the registered job names.
func (c *Cron) Jobs() []string {
	return append([]string(nil), c.jobs...)
}

// Run starts the cron and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (c *Cron) Run(ctx context.Context) error {
	c.c.Start()
	<-ctx.Done()
	<-c.c.Stop().Done()
	return ctx.Err()
}

type cronLogger struct{ logger zerolog.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
