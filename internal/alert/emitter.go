package alert

import (
	"context"
	"fmt"

	"github.com/nerrad567/fleetwatch/internal/bus"
	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/device"
)

// Emitter creates alerts and announces them to every connected client.
type Emitter struct {
	repo  Repository
	bus   bus.Publisher
	clock clock.Clock
}

// NewEmitter creates an Emitter. A nil publisher discards announcements.
func NewEmitter(repo Repository, pub bus.Publisher, clk clock.Clock) *Emitter {
	if pub == nil {
		pub = bus.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Emitter{repo: repo, bus: pub, clock: clk}
}

// Raise stores the alert and publishes alert:new. Nothing is published
// when the store rejects it.
func (e *Emitter) Raise(ctx context.Context, a *Alert) error {
	if err := e.repo.Create(ctx, a); err != nil {
		return err
	}
	e.bus.Publish(bus.Event{
		Name:      bus.EventAlertNew,
		Scope:     bus.All(),
		Payload:   a,
		Timestamp: e.clock.Now(),
	})
	return nil
}

// DeviceOffline raises the WARNING alert for a device the sweep found silent.
func (e *Emitter) DeviceOffline(ctx context.Context, d *device.Device) (*Alert, error) {
	a := &Alert{
		DeviceID:   d.ID,
		DeviceName: d.DisplayName(),
		AlertType:  TypeDeviceOffline,
		Message:    fmt.Sprintf("Device %q has gone offline", d.DisplayName()),
		Severity:   SeverityWarning,
	}
	if err := e.Raise(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// FromEvent raises an alert for a device event when its severity is
// ERROR or CRITICAL. It returns nil without error for lower severities.
func (e *Emitter) FromEvent(ctx context.Context, d *device.Device, eventType, severity, message string) (*Alert, error) {
	sev, ok := ParseSeverity(severity)
	if !ok || !sev.Escalates() {
		return nil, nil //nolint:nilnil // no alert for this severity
	}
	if message == "" {
		message = eventType + " event occurred"
	}

	a := &Alert{
		DeviceID:   d.ID,
		DeviceName: d.DisplayName(),
		AlertType:  eventType,
		Message:    message,
		Severity:   sev,
	}
	if err := e.Raise(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
