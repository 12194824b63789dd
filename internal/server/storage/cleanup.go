package storage

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper applies the retention policy as of now and reports how many
// files it retired.
type Sweeper interface {
	RetentionSweep(ctx context.Context, now time.Time) (int, error)
}

// CleanupService periodically runs the retention sweep off the request path.
type CleanupService struct {
	sweeper  Sweeper
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(sweeper Sweeper, interval time.Duration) *CleanupService {
	return &CleanupService{
		sweeper:  sweeper,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval)

	go func() {
		defer close(cs.done)

		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.runCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := cs.now()
	deleted, err := cs.sweeper.RetentionSweep(ctx, start)
	if err != nil {
		slog.Error("retention sweep failed", "error", err)
		return
	}

	slog.Info("retention sweep complete",
		"deleted", deleted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
