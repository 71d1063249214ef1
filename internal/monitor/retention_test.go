package monitor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/fleetwatch/internal/device"
	"github.com/nerrad567/fleetwatch/internal/monitor"
	"github.com/nerrad567/fleetwatch/internal/telemetry"
	"github.com/nerrad567/fleetwatch/internal/testutil"
)

func TestRetentionSweep(t *testing.T) {
	db := testutil.OpenDB(t)
	clk := testutil.NewClock()
	devices := device.NewSQLiteRepository(db.DB, clk)
	samples := telemetry.NewSQLiteRepository(db.DB, clk)
	d := testutil.CreateDevice(t, devices)
	ctx := context.Background()

	now := clk.Now()
	window := 30 * 24 * time.Hour
	for _, at := range []time.Time{now.Add(-window - time.Second), now.Add(-window + time.Second), now} {
		require.NoError(t, samples.AppendMetric(ctx, &telemetry.MetricSample{DeviceID: d.ID, RecordedAt: at}))
	}

	sweeper := monitor.NewRetentionSweeper(samples, clk, 0, nil)
	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	remaining, err := samples.ListMetrics(ctx, d.ID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	clk.Advance(2 * time.Second)
	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

type failingPruner struct{}

func (failingPruner) PruneMetrics(context.Context, time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestRetentionSweep_FailureReturned(t *testing.T) {
	sweeper := monitor.NewRetentionSweeper(failingPruner{}, testutil.NewClock(), time.Hour, nil)
	_, err := sweeper.Sweep(context.Background())
	assert.Error(t, err)

	// Run only logs.
	sweeper.Run(context.Background())
}
