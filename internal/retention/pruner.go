// Package retention removes expired cache entries on a cron schedule.
//
// Entries are not deleted the moment they expire: the service keeps them
// around for stale fallback serving while the upstream is unavailable.
// The pruner only drops entries that have been expired for longer than
// the configured retention grace.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"stockd/internal/models"
	"stockd/internal/storage"
)

// Pruner runs storage cleanup cycles on a cron schedule.
type Pruner struct {
	storage storage.Storage
	config  models.CacheConfig

	cron    *cron.Cron
	mu      sync.Mutex
	running bool

	now func() time.Time
}

// NewPruner creates a pruner over the given storage backend.
func NewPruner(store storage.Storage, cfg models.CacheConfig) *Pruner {
	return &Pruner{
		storage: store,
		config:  cfg,
		cron:    cron.New(),
		now:     time.Now,
	}
}

// Start schedules pruning according to the configured cron expression
// and returns immediately. An empty schedule disables the pruner. The
// schedule stops when ctx is canceled.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.config.PruneSchedule == "" {
		slog.Info("Prune schedule not configured, retention pruner disabled")
		return nil
	}

	if _, err := cron.ParseStandard(p.config.PruneSchedule); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.config.PruneSchedule, err)
	}

	if _, err := p.cron.AddFunc(p.config.PruneSchedule, func() {
		p.runScheduled(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	p.cron.Start()
	p.running = true

	slog.Info("Retention pruner started",
		"schedule", p.config.PruneSchedule,
		"grace", p.config.RetentionGrace,
	)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	return nil
}

// runScheduled executes one pruning cycle on the cron goroutine.
func (p *Pruner) runScheduled(ctx context.Context) {
	removed, err := p.RunOnce(ctx)
	if err != nil {
		slog.Error("Scheduled pruning failed", "error", err)
		return
	}

	if removed > 0 {
		slog.Info("Scheduled pruning completed", "removed", removed)
	} else {
		slog.Debug("Scheduled pruning completed, nothing to remove")
	}
}

// RunOnce prunes entries that expired more than the retention grace ago
// and reports how many were removed.
func (p *Pruner) RunOnce(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.config.RetentionGrace)
	removed, err := p.storage.PruneExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune expired entries: %w", err)
	}
	return removed, nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	<-p.cron.Stop().Done()
	p.running = false
	slog.Info("Retention pruner stopped")
}

// IsRunning reports whether the schedule is active.
func (p *Pruner) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// NextRun returns the next scheduled pruning time, or the zero time when
// nothing is scheduled.
func (p *Pruner) NextRun() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
