package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/brandbeacon/mentions-pipeline/internal/store"
)

// Reaper periodically deletes expired rows from backends without native
// TTL. Failures are logged and retried on the next tick.
type Reaper struct {
	store    store.Store
	interval time.Duration
}

// NewReaper creates a background expiry sweeper.
func NewReaper(s store.Store, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reaper{store: s, interval: interval}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.reaper"))
	log.Info("starting expiry reaper", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("expiry reaper stopped")
			return
		case <-ticker.C:
			n, err := r.store.DeleteExpired(ctx)
			if err != nil {
				log.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Debug("swept expired rows", zap.Int("deleted", n))
			}
		}
	}
}
