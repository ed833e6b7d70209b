package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultTrackerMaxAge bounds memory growth from stalled cycles.
const DefaultTrackerMaxAge = 24 * time.Hour

// Reaper periodically evicts abandoned trackers. It runs on its own
// cadence, independent of the price-check loop, and is started and
// stopped by the host process.
type Reaper struct {
	service  *TradeService
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewReaper(service *TradeService, interval, maxAge time.Duration, logger *zap.Logger) *Reaper {
	if maxAge <= 0 {
		maxAge = DefaultTrackerMaxAge
	}
	return &Reaper{
		service:  service,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Start launches the sweep loop. Calling Start twice is a programming
// error; the second loop would double-sweep.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := r.service.ReapStale(ctx, time.Now(), r.maxAge); n > 0 {
					r.logger.Info("reaped stale trackers", zap.Int("count", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for it to drain.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}
