package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/fleetwatch/internal/alert"
	"github.com/nerrad567/fleetwatch/internal/bus"
	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/device"
)

// DefaultOfflineThreshold is how long an ONLINE device may stay silent.
const DefaultOfflineThreshold = 5 * time.Minute

var devicesMarkedOffline = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "fleetwatch_devices_marked_offline_total",
	Help: "ONLINE to OFFLINE transitions made by the offline sweep.",
})

var metricSamplesPruned = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "fleetwatch_metric_samples_pruned_total",
	Help: "Metric samples deleted by the retention sweep.",
})

func init() {
	prometheus.MustRegister(devicesMarkedOffline)
	prometheus.MustRegister(metricSamplesPruned)
}

// OfflineAlerter raises the alert for a device gone silent.
// *alert.Emitter satisfies it.
type OfflineAlerter interface {
	DeviceOffline(ctx context.Context, d *device.Device) (*alert.Alert, error)
}

// OfflineConfig holds the OfflineSweeper's collaborators.
type OfflineConfig struct {
	Devices   device.Repository
	Alerts    OfflineAlerter
	Bus       bus.Publisher
	Clock     clock.Clock
	Threshold time.Duration
	Logger    Logger
}

// OfflineSweeper detects silent devices.
type OfflineSweeper struct {
	devices   device.Repository
	alerts    OfflineAlerter
	bus       bus.Publisher
	clock     clock.Clock
	threshold time.Duration
	logger    Logger
}

// NewOfflineSweeper creates a sweeper. A zero threshold means
// DefaultOfflineThreshold.
func NewOfflineSweeper(cfg OfflineConfig) *OfflineSweeper {
	s := &OfflineSweeper{
		devices:   cfg.Devices,
		alerts:    cfg.Alerts,
		bus:       cfg.Bus,
		clock:     cfg.Clock,
		threshold: cfg.Threshold,
		logger:    cfg.Logger,
	}
	if s.bus == nil {
		s.bus = bus.Nop{}
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.threshold <= 0 {
		s.threshold = DefaultOfflineThreshold
	}
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	return s
}

// Sweep marks every stale ONLINE device OFFLINE and returns how many
// changed. A failure on one device is logged and the rest still run;
// only a failure to list candidates is returned.
func (s *OfflineSweeper) Sweep(ctx context.Context) (int, error) {
	threshold := s.clock.Now().Add(-s.threshold)

	stale, err := s.devices.ListStaleOnline(ctx, threshold)
	if err != nil {
		return 0, fmt.Errorf("listing stale devices: %w", err)
	}

	marked := 0
	for i := range stale {
		if ctx.Err() != nil {
			return marked, ctx.Err()
		}
		d := &stale[i]

		changed, err := s.devices.MarkOffline(ctx, d.ID, threshold)
		if err != nil {
			s.logger.Error("marking device offline failed", "device_id", d.DeviceID, "error", err)
			continue
		}
		if !changed {
			// Reported or changed status since it was listed.
			continue
		}
		marked++
		devicesMarkedOffline.Inc()
		d.Status = device.StatusOffline

		now := s.clock.Now()
		s.bus.Publish(bus.Event{
			Name:      bus.EventDeviceStatusChange,
			Scope:     bus.All(),
			Payload:   device.StatusChange{DeviceID: d.ID, Status: device.StatusOffline, Timestamp: now},
			Timestamp: now,
		})
		s.logger.Info("device went offline", "device_id", d.DeviceID, "last_heartbeat", d.LastHeartbeat)

		if s.alerts != nil {
			if _, err := s.alerts.DeviceOffline(ctx, d); err != nil {
				s.logger.Error("raising offline alert failed", "device_id", d.DeviceID, "error", err)
			}
		}
	}
	return marked, nil
}

// Run adapts Sweep to a SweepFunc, logging a listing failure.
func (s *OfflineSweeper) Run(ctx context.Context) {
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("offline sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("offline sweep complete", "marked_offline", n)
	}
}
