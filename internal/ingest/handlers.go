package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/fleetwatch/internal/alert"
	"github.com/nerrad567/fleetwatch/internal/bus"
	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/command"
	"github.com/nerrad567/fleetwatch/internal/device"
	"github.com/nerrad567/fleetwatch/internal/telemetry"
)

// AlertRaiser escalates severe device events. *alert.Emitter satisfies it.
type AlertRaiser interface {
	FromEvent(ctx context.Context, d *device.Device, eventType, severity, message string) (*alert.Alert, error)
}

// Responder correlates command responses. *command.Dispatcher satisfies it.
type Responder interface {
	HandleResponse(ctx context.Context, commandID string, result command.Result) (*command.Command, error)
}

// Mirror receives a copy of every metric sample. *influxdb.Client
// satisfies it.
type Mirror interface {
	WriteDeviceSample(deviceID string, fields map[string]any, at time.Time)
}

// HandlersConfig holds the collaborators of the message handlers.
// Mirror is optional.
type HandlersConfig struct {
	Devices   device.Repository
	Telemetry telemetry.Repository
	Alerts    AlertRaiser
	Commands  Responder
	Bus       bus.Publisher
	Clock     clock.Clock
	Mirror    Mirror
}

// Handlers applies one device message of each type.
type Handlers struct {
	devices   device.Repository
	telemetry telemetry.Repository
	alerts    AlertRaiser
	commands  Responder
	bus       bus.Publisher
	clock     clock.Clock
	mirror    Mirror
}

// NewHandlers creates the handler set.
func NewHandlers(cfg HandlersConfig) *Handlers {
	h := &Handlers{
		devices:   cfg.Devices,
		telemetry: cfg.Telemetry,
		alerts:    cfg.Alerts,
		commands:  cfg.Commands,
		bus:       cfg.Bus,
		clock:     cfg.Clock,
		mirror:    cfg.Mirror,
	}
	if h.bus == nil {
		h.bus = bus.Nop{}
	}
	if h.clock == nil {
		h.clock = clock.Real{}
	}
	return h
}

func (h *Handlers) lookup(ctx context.Context, externalID string) (*device.Device, error) {
	d, err := h.devices.GetByDeviceID(ctx, externalID)
	if errors.Is(err, device.ErrDeviceNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, externalID)
	}
	return d, err
}

func decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}

// Status records a status report and announces the change. The receipt
// time becomes both last seen and last heartbeat.
func (h *Handlers) Status(ctx context.Context, externalID string, payload []byte) error {
	var p statusPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	status := device.Status(strings.ToUpper(p.Status))
	if !status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidPayload, p.Status)
	}

	d, err := h.lookup(ctx, externalID)
	if err != nil {
		return err
	}

	now := h.clock.Now()
	report := device.StatusReport{
		Status:          status,
		IPAddress:       p.IPAddress,
		FirmwareVersion: p.FirmwareVersion,
		Model:           p.Model,
	}
	if err := h.devices.ApplyStatusReport(ctx, d.ID, report, now); err != nil {
		return fmt.Errorf("applying status: %w", err)
	}

	h.bus.Publish(bus.Event{
		Name:      bus.EventDeviceStatusChange,
		Scope:     bus.All(),
		Payload:   device.StatusChange{DeviceID: d.ID, Status: status, Timestamp: now},
		Timestamp: now,
	})
	return nil
}

// Metrics stores a sample with the gauges the device reported and
// announces it fleet-wide.
func (h *Handlers) Metrics(ctx context.Context, externalID string, payload []byte) error {
	var p metricsPayload
	if err := decode(payload, &p); err != nil {
		return err
	}

	d, err := h.lookup(ctx, externalID)
	if err != nil {
		return err
	}

	now := h.clock.Now()
	sample := p.sample(d.ID, now)
	if err := h.telemetry.AppendMetric(ctx, sample); err != nil {
		return fmt.Errorf("storing metrics: %w", err)
	}

	if h.mirror != nil {
		h.mirror.WriteDeviceSample(d.DeviceID, sample.Gauges(), now)
	}

	h.bus.Publish(bus.Event{
		Name:      bus.EventDeviceMetrics,
		Scope:     bus.All(),
		Payload:   metricsNotification{DeviceID: d.ID, Metrics: append(json.RawMessage(nil), payload...), Timestamp: now},
		Timestamp: now,
	})
	return nil
}

// Log stores a device log line. Logs are not announced.
func (h *Handlers) Log(ctx context.Context, externalID string, payload []byte) error {
	var p logPayload
	if err := decode(payload, &p); err != nil {
		return err
	}

	d, err := h.lookup(ctx, externalID)
	if err != nil {
		return err
	}

	entry := &telemetry.LogEntry{
		DeviceID:  d.ID,
		Level:     strings.ToUpper(p.Level),
		Message:   p.Message,
		Source:    p.Source,
		Metadata:  p.Metadata,
		CreatedAt: h.clock.Now(),
	}
	if err := h.telemetry.AppendLog(ctx, entry); err != nil {
		return fmt.Errorf("storing log: %w", err)
	}
	return nil
}

// Event stores a device event and raises an alert when its severity is
// ERROR or CRITICAL.
func (h *Handlers) Event(ctx context.Context, externalID string, payload []byte) error {
	var p eventPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if p.EventType == "" {
		return fmt.Errorf("%w: eventType is required", ErrInvalidPayload)
	}

	d, err := h.lookup(ctx, externalID)
	if err != nil {
		return err
	}

	ev := &telemetry.DeviceEvent{
		DeviceID:  d.ID,
		EventType: p.EventType,
		Severity:  strings.ToUpper(p.Severity),
		EventData: p.EventData,
		CreatedAt: h.clock.Now(),
	}
	if err := h.telemetry.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("storing event: %w", err)
	}

	if h.alerts == nil {
		return nil
	}
	if _, err := h.alerts.FromEvent(ctx, d, ev.EventType, ev.Severity, p.Message); err != nil {
		return fmt.Errorf("raising event alert: %w", err)
	}
	return nil
}

// CommandResponse resolves the referenced command.
func (h *Handlers) CommandResponse(ctx context.Context, _ string, payload []byte) error {
	var p responsePayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if p.CommandID == "" {
		return fmt.Errorf("%w: commandId is required", ErrInvalidPayload)
	}
	if h.commands == nil {
		return nil
	}

	_, err := h.commands.HandleResponse(ctx, p.CommandID, command.Result{
		Success:  p.Success,
		Response: p.Response,
		Error:    p.errorText(),
	})
	return err
}
