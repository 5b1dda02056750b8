package grants

import (
	"context"
	"time"

	"github.com/umakantv/go-utils/logger"
	"go.uber.org/zap"
)

// DefaultSweepInterval matches the usual token cleanup cadence
const DefaultSweepInterval = time.Hour

// Sweeper periodically removes expired grants
type Sweeper struct {
	manager  *Manager
	interval time.Duration
}

// NewSweeper creates a sweeper running every interval
func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{manager: m, interval: interval}
}

// Run sweeps once per interval until ctx is cancelled. Sweep failures are
// logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger.Info("Grant sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			logger.Info("Grant sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.manager.SweepExpired(ctx, s.manager.clock())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("Failed to sweep expired grants", zap.Int64("removed", n), zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("Swept expired grants", zap.Int64("removed", n))
	}
}
