// Package gc runs the periodic sweep that permanently forgets dead links.
package gc

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"vanish.share/internal/metrics"
)

const DefaultInterval = time.Hour

// Sweeper removes records that are past their grace window.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Collector sweeps the registry on a fixed interval.
type Collector struct {
	registry Sweeper
	interval time.Duration
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewCollector creates a collector. A zero interval means DefaultInterval.
func NewCollector(registry Sweeper, interval time.Duration, clock clockwork.Clock, m *metrics.Metrics, logger *zap.Logger) *Collector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		registry: registry,
		interval: interval,
		clock:    clock,
		metrics:  m,
		logger:   logger,
	}
}

// SweepNow runs one sweep at the current time and returns the number of
// records removed.
func (c *Collector) SweepNow() int {
	removed := c.registry.Sweep(c.clock.Now())
	c.metrics.Swept(removed)
	if removed > 0 {
		c.logger.Info("swept dead links", zap.Int("removed", removed))
	}
	return removed
}

// Run sweeps once per interval until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.SweepNow()
		}
	}
}
