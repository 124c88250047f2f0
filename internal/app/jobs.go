/**
 * @description
 * Periodic jobs for the cagnotte service. The only scheduled work is the
 * due-settlement sweep: recurring pots whose cycle window elapsed get their
 * cycle settled and advanced, and one-time pots past their end date get
 * closed. Every step is idempotent, so overlapping runs are harmless.
 */

package app

import (
	"context"
	"log"
	"time"
)

// Jobs bundles the scheduled entry points of the service.
type Jobs struct {
	service *Service
}

// NewJobs creates the job set for the given service.
func NewJobs(service *Service) *Jobs {
	return &Jobs{service: service}
}

// Register attaches all jobs to the scheduler.
func (j *Jobs) Register(scheduler *Scheduler, cycleCloseSchedule string) error {
	return scheduler.AddJob(cycleCloseSchedule, j.RunDueSettlements)
}

// RunDueSettlements sweeps for pots and cycles whose settlement is due.
func (j *Jobs) RunDueSettlements() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	start := time.Now()
	cyclesClosed, potsClosed := j.service.RunDueSettlements(ctx, start)
	if cyclesClosed > 0 || potsClosed > 0 {
		log.Printf("RunDueSettlements: closed %d cycles and %d pots in %s", cyclesClosed, potsClosed, time.Since(start))
	}
}
