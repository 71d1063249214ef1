package monitor

import (
	"context"
	"time"

	"github.com/nerrad567/fleetwatch/internal/clock"
)

// DefaultRetention is how long metric samples are kept.
const DefaultRetention = 30 * 24 * time.Hour

// MetricPruner deletes samples older than a cutoff.
// *telemetry.SQLiteRepository satisfies it.
type MetricPruner interface {
	PruneMetrics(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionSweeper prunes metric samples past their retention window.
type RetentionSweeper struct {
	pruner    MetricPruner
	clock     clock.Clock
	retention time.Duration
	logger    Logger
}

// NewRetentionSweeper creates a sweeper. A zero retention means
// DefaultRetention.
func NewRetentionSweeper(pruner MetricPruner, clk clock.Clock, retention time.Duration, logger Logger) *RetentionSweeper {
	if clk == nil {
		clk = clock.Real{}
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &RetentionSweeper{pruner: pruner, clock: clk, retention: retention, logger: logger}
}

// Sweep deletes samples recorded before now minus the retention window.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.clock.Now().Add(-s.retention)
	n, err := s.pruner.PruneMetrics(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metricSamplesPruned.Add(float64(n))
	return n, nil
}

// Run adapts Sweep to a SweepFunc. Failures are logged and retried on
// the next tick.
func (s *RetentionSweeper) Run(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("metric retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("pruned old metric samples", "deleted", n, "retention", s.retention.String())
	}
}
