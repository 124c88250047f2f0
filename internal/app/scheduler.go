/**
 * @description
 * Thin wrapper around robfig/cron used to run the periodic settlement jobs.
 * Panics inside a job are recovered and logged so one bad run never takes
 * the scheduler down.
 */

package app

import (
	"github.com/robfig/cron/v3"
)

// Scheduler runs registered jobs on cron schedules.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates a scheduler with panic recovery on every job.
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
		)),
	}
}

// AddJob registers a function on a standard 5-field cron schedule.
func (s *Scheduler) AddJob(spec string, job func()) error {
	_, err := s.cron.AddFunc(spec, job)
	return err
}

// Start launches the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
