package usecase

import (
	"context"
	"time"

	"TieredCrawler/internal/domain"
	"TieredCrawler/internal/ports"
)

// Scheduler wires a recurring driver with the tiered crawl cycle.
type Scheduler struct {
	driver  ports.Scheduler
	tiered  *TieredScheduler
	opts    RunOptions
	reports chan<- domain.RunReport
}

// NewScheduler returns a helper to start/stop recurring cycles. Reports of finished
// cycles are sent to reports when it is non-nil.
func NewScheduler(driver ports.Scheduler, tiered *TieredScheduler, opts RunOptions, reports chan<- domain.RunReport) *Scheduler {
	return &Scheduler{driver: driver, tiered: tiered, opts: opts, reports: reports}
}

// Start registers the cycle with the provided driver. A started cycle is detached
// from ctx cancellation: stopping takes effect between cycles only.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.tiered == nil {
		return nil
	}

	job := func(trigger time.Time) {
		report := s.tiered.Run(context.WithoutCancel(ctx), s.opts)
		if s.reports != nil {
			select {
			case s.reports <- report:
			case <-ctx.Done():
			}
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
