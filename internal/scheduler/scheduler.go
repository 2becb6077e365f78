// Package scheduler runs the periodic loan maintenance jobs.
package scheduler

import (
	"context"

	"github.com/Dan9191/microcredit-service/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler manages the cron jobs
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	log    *logrus.Logger
	config *config.Config
}

// NewScheduler creates a new scheduler instance
func NewScheduler(jobs *Jobs, log *logrus.Logger, cfg *config.Config) *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log))))
	return &Scheduler{cron: c, jobs: jobs, log: log, config: cfg}
}

// Register adds the jobs to the cron table
func (s *Scheduler) Register() error {
	if _, err := s.cron.AddFunc(s.config.ReminderSchedule, s.jobs.SendPaymentReminders); err != nil {
		return err
	}
	s.log.Infof("Scheduled payment reminder job: %s", s.config.ReminderSchedule)

	if s.config.DefaultGraceDays <= 0 {
		s.log.Info("Default sweep disabled (DEFAULT_GRACE_DAYS <= 0)")
		return nil
	}
	if _, err := s.cron.AddFunc(s.config.DefaultSweepSchedule, s.jobs.SweepDefaults); err != nil {
		return err
	}
	s.log.Infof("Scheduled default sweep job: %s", s.config.DefaultSweepSchedule)
	return nil
}

// Entries reports how many jobs are scheduled
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler; the returned context is done once running jobs finish
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
