package hostname

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"corsgate/logging"

	"github.com/robfig/cron/v3"
)

// Refresher forces a TLD refresh on a cron schedule so requests rarely pay
// the refresh latency themselves.
type Refresher struct {
	validator *Validator
	schedule  string
	timeout   time.Duration
	cron      *cron.Cron
	mu        sync.Mutex
	logger    *slog.Logger
	running   bool
}

// NewRefresher creates a refresher for validator.
//
// Parameters:
// - validator: The cache to refresh.
// - schedule: A standard five-field cron expression; empty disables the refresher.
// - timeout: Bound of each scheduled refresh; 0 means none.
// - logger: The logger for refresh outcomes.
//
// Returns:
// - *Refresher: The refresher, not yet started.
func NewRefresher(validator *Validator, schedule string, timeout time.Duration, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Refresher{
		validator: validator,
		schedule:  schedule,
		timeout:   timeout,
		cron:      cron.New(),
		logger:    logger.With("component", "tld.refresher"),
	}
}

// Start registers the job and starts the scheduler. The scheduler stops when
// ctx is cancelled.
//
// Common cron expressions:
//   - "0 3 * * *"    - Daily at 3 AM
//   - "0 */6 * * *"  - Every 6 hours
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.schedule == "" {
		r.logger.Debug("TLD refresh schedule not configured, skipping refresher")
		return nil
	}
	if r.running {
		return nil
	}

	if _, err := r.cron.AddFunc(r.schedule, func() { r.run(ctx) }); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", r.schedule, err)
	}

	r.cron.Start()
	r.running = true
	r.logger.Info("TLD refresher started", slog.String("schedule", r.schedule))

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return nil
}

// run performs one scheduled refresh.
func (r *Refresher) run(ctx context.Context) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := r.validator.Refresh(ctx); err != nil {
		logging.LogFailure(ctx, r.logger, "Scheduled TLD refresh failed", err)
		return
	}
	r.logger.Debug("Scheduled TLD refresh completed", slog.Int("count", r.validator.Size()))
}

// Stop stops the scheduler and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		<-r.cron.Stop().Done()
		r.running = false
		r.logger.Info("TLD refresher stopped")
	}
}

// NextRun returns the next scheduled refresh, nil when not running.
func (r *Refresher) NextRun() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.cron.Entries()
	if !r.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
