// Package jobs runs periodic maintenance (vault resync, cache pruning) on
// cron schedules.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Job is one scheduled task.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler collects jobs and runs them until its context ends. A job that
// is still running when its next tick comes is skipped for that tick.
type Scheduler struct {
	logger *slog.Logger
	jobs   []Job
}

// New creates an empty Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// Add validates job's schedule and queues it. An empty schedule disables
// the job.
func (s *Scheduler) Add(job Job) error {
	job.Schedule = normalize(job.Schedule)
	if job.Schedule == "" {
		s.logger.Info("jobs: disabled", slog.String("job", job.Name))
		return nil
	}
	if _, err := parser.Parse(job.Schedule); err != nil {
		return fmt.Errorf("jobs: %s: parse schedule %q: %w", job.Name, job.Schedule, err)
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int { return len(s.jobs) }

// Run starts the jobs and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cronLogger{s.logger}),
		cron.WithChain(cron.Recover(cronLogger{s.logger}), cron.SkipIfStillRunning(cronLogger{s.logger})),
	)
	for _, job := range s.jobs {
		if _, err := c.AddFunc(job.Schedule, s.wrap(ctx, job)); err != nil {
			return fmt.Errorf("jobs: %s: %w", job.Name, err)
		}
		s.logger.Info("jobs: scheduled", slog.String("job", job.Name), slog.String("schedule", job.Schedule))
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) wrap(ctx context.Context, job Job) func() {
	return func() {
		started := time.Now()
		if err := job.Run(ctx); err != nil {
			s.logger.Warn("jobs: run failed",
				slog.String("job", job.Name),
				slog.String("error", err.Error()))
			return
		}
		s.logger.Debug("jobs: run finished",
			slog.String("job", job.Name),
			slog.Duration("elapsed", time.Since(started)))
	}
}

// Next returns the first activation of schedule after from.
func Next(schedule string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(normalize(schedule))
	if err != nil {
		return time.Time{}, fmt.Errorf("jobs: parse schedule %q: %w", schedule, err)
	}
	return sched.Next(from), nil
}

func normalize(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
