package discovery

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper replays due ledger failures on a fixed interval.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	limit    int
}

// NewSweeper creates a sweeper. A non-positive interval defaults to five
// minutes and a non-positive limit to 100.
func NewSweeper(svc *Service, interval time.Duration, limit int) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if limit <= 0 {
		limit = 100
	}
	return &Sweeper{svc: svc, interval: interval, limit: limit}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "discovery.sweeper"))
	log.Info("starting failure sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("failure sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx, log)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, log *zap.Logger) int {
	outcomes, err := s.svc.RetryFailed(ctx, s.limit)
	if err != nil {
		log.Error("failure sweep", zap.Error(err))
		return 0
	}
	ok := 0
	for _, o := range outcomes {
		if o.Err == nil {
			ok++
		}
	}
	if len(outcomes) > 0 {
		log.Info("failure sweep complete",
			zap.Int("retried", len(outcomes)),
			zap.Int("recovered", ok),
		)
	}
	return ok
}
