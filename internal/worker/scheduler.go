package worker

import (
	"context"
	"time"

	"github.com/portfolio-guardian/internal/logging"
	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled background work
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on cron schedules with a seconds field
type Scheduler struct {
	cron       *cron.Cron
	ctx        context.Context
	cancel     context.CancelFunc
	jobTimeout time.Duration
	logger     *logging.Logger
}

// NewScheduler creates a stopped scheduler. jobTimeout bounds each run.
func NewScheduler(jobTimeout time.Duration, logger *logging.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(cron.WithSeconds()),
		ctx:        ctx,
		cancel:     cancel,
		jobTimeout: jobTimeout,
		logger:     logger.WithField("component", "scheduler"),
	}
}

// AddJob registers job under schedule, e.g. "0 30 0 * * *" or "@every 6h"
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		_ = s.RunNow(job)
	})
	if err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"schedule": schedule,
		"job":      job.Name(),
	}).Info("Job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule
func (s *Scheduler) RunNow(job Job) error {
	ctx := s.ctx
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	log := s.logger.WithField("job", job.Name())
	log.Debug("Running job")
	if err := job.Run(ctx); err != nil {
		log.WithError(err).Error("Job failed")
		return err
	}
	log.Debug("Job completed")
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}
