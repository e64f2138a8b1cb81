package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/euskalmet-poller/internal/weather"
)

// Job is one subject's periodic cycle.
type Job struct {
	ID       string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs every subject's cycle on its own interval. A job never
// overlaps itself; one subject falling behind does not delay the others.
type Scheduler struct {
	scheduler *gocron.Scheduler
	jobs      []Job
	timeout   time.Duration
	logger    *slog.Logger
}

// New creates a new Scheduler. Each run gets a context bounded by timeout.
func New(jobs []Job, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		jobs:      jobs,
		timeout:   timeout,
		logger:    logger.With("component", "scheduler"),
	}
}

// FromService builds one job per configured station and forecast location.
func FromService(svc *weather.Service, stationEvery, forecastEvery time.Duration) []Job {
	var jobs []Job
	for _, c := range svc.StationCoordinators() {
		jobs = append(jobs, Job{
			ID:       c.Subject().ID,
			Interval: stationEvery,
			Run: func(ctx context.Context) error {
				_, err := c.Run(ctx)
				return err
			},
		})
	}
	for _, c := range svc.ForecastCoordinators() {
		jobs = append(jobs, Job{
			ID:       c.Subject().ID,
			Interval: forecastEvery,
			Run: func(ctx context.Context) error {
				_, err := c.Run(ctx)
				return err
			},
		})
	}
	return jobs
}

// Start schedules every job, runs each once immediately and starts the
// underlying scheduler.
func (s *Scheduler) Start() error {
	if len(s.jobs) == 0 {
		s.logger.Warn("no subjects configured; nothing to schedule")
		return nil
	}

	for _, job := range s.jobs {
		_, err := s.scheduler.
			Every(job.Interval).
			SingletonMode().
			StartImmediately().
			Tag(job.ID).
			Do(s.run, job)
		if err != nil {
			return err
		}
		s.logger.Info("scheduled subject", "subject", job.ID, "interval", job.Interval)
	}

	s.scheduler.StartAsync()
	return nil
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := job.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, weather.ErrCycleInProgress):
		s.logger.Debug("previous cycle still running", "subject", job.ID)
	case errors.Is(err, weather.ErrHalted) || weather.IsCredentialError(err):
		s.logger.Error("subject halted; unscheduling", "subject", job.ID, "error", err)
		if rerr := s.scheduler.RemoveByTag(job.ID); rerr != nil {
			s.logger.Warn("failed to unschedule subject", "subject", job.ID, "error", rerr)
		}
	default:
		s.logger.Warn("cycle failed", "subject", job.ID, "error", err)
	}
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Scheduled reports how many jobs are still scheduled.
func (s *Scheduler) Scheduled() int {
	return len(s.scheduler.Jobs())
}
