package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"TieredCrawler/internal/ports"
)

// HourlyScheduler fires a job at the top of every interval (hourly by default).
// Jobs run one after another on a single goroutine, so cycles never overlap. A
// boundary that passes while a job is still running triggers one catch-up run
// as soon as that job returns.
type HourlyScheduler struct {
	interval  time.Duration
	immediate bool
	now       func() time.Time
	logger    *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

var _ ports.Scheduler = (*HourlyScheduler)(nil)

// NewHourlyScheduler builds a driver; immediate runs the first job right away
// instead of waiting for the next boundary.
func NewHourlyScheduler(interval time.Duration, immediate bool, logger *slog.Logger) *HourlyScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HourlyScheduler{interval: interval, immediate: immediate, now: time.Now, logger: logger}
}

// Start begins the loop. Calling Start twice is a no-op.
func (h *HourlyScheduler) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	h.stop, h.done = stop, done

	go func() {
		defer close(done)
		next := h.boundaryAfter(h.now())
		if h.immediate {
			job(h.now())
		}
		for {
			next = h.catchUp(next)
			timer := time.NewTimer(max(next.Sub(h.now()), 0))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
			}

			select {
			case <-stop:
				return
			default:
			}
			job(h.now())
			next = next.Add(h.interval)
		}
	}()

	return nil
}

// Stop halts the loop after the running job, if any, returns.
func (h *HourlyScheduler) Stop(ctx context.Context) error {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HourlyScheduler) boundaryAfter(t time.Time) time.Time {
	return t.Truncate(h.interval).Add(h.interval)
}

// catchUp collapses boundaries that all passed during a long job into the most
// recent one, which then runs without waiting.
func (h *HourlyScheduler) catchUp(next time.Time) time.Time {
	now := h.now()
	if next.After(now) {
		return next
	}

	missed := 0
	for !next.Add(h.interval).After(now) {
		next = next.Add(h.interval)
		missed++
	}
	if missed > 0 {
		h.logger.Warn("scheduled slots missed while a cycle was running", "missed", missed, "catch_up_slot", next)
	} else {
		h.logger.Info("slot passed while a cycle was running, starting now", "slot", next)
	}
	return next
}
