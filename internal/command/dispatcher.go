package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/fleetwatch/internal/bus"
	"github.com/nerrad567/fleetwatch/internal/clock"
	"github.com/nerrad567/fleetwatch/internal/device"
	"github.com/nerrad567/fleetwatch/internal/infrastructure/mqtt"
)

// commandQoS is the delivery level for outbound commands.
const commandQoS byte = 1

var commandsDispatched = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleetwatch_commands_dispatched_total",
		Help: "Commands created, by whether the publish reached the broker.",
	},
	[]string{"outcome"},
)

var commandsResolved = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fleetwatch_commands_resolved_total",
		Help: "Command responses applied, by terminal status.",
	},
	[]string{"status"},
)

func init() {
	prometheus.MustRegister(commandsDispatched)
	prometheus.MustRegister(commandsResolved)
}

// Transport publishes to the device broker. *mqtt.Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Logger defines the logging interface for the dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// DispatcherConfig holds the Dispatcher's collaborators. Transport may be
// nil, in which case commands are stored but never sent.
type DispatcherConfig struct {
	Commands  Repository
	Devices   device.Repository
	Transport Transport
	Topics    mqtt.Topics
	Bus       bus.Publisher
	Clock     clock.Clock
}

// Dispatcher creates commands and publishes them to devices.
type Dispatcher struct {
	commands  Repository
	devices   device.Repository
	transport Transport
	topics    mqtt.Topics
	bus       bus.Publisher
	clock     clock.Clock
	logger    Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		commands:  cfg.Commands,
		devices:   cfg.Devices,
		transport: cfg.Transport,
		topics:    cfg.Topics,
		bus:       cfg.Bus,
		clock:     cfg.Clock,
		logger:    noopLogger{},
	}
	if d.bus == nil {
		d.bus = bus.Nop{}
	}
	if d.clock == nil {
		d.clock = clock.Real{}
	}
	return d
}

// SetLogger sets the logger for publish failures.
func (d *Dispatcher) SetLogger(logger Logger) {
	if logger != nil {
		d.logger = logger
	}
}

// Dispatch stores a PENDING command for dev and publishes it.
//
// The command is persisted before it is sent so a device that answers
// immediately always finds it. A publish failure is logged and the
// command stays PENDING.
//
// Parameters:
//   - ctx: Context for the database write
//   - dev: Target device; its DeviceID selects the MQTT topic
//   - name: Command name, e.g. "reboot" or "screenshot"
//   - payload: Optional command arguments (nil omits the field)
//   - issuedBy: User id of the caller, or "" for system commands
//
// Returns:
//   - *Command: The stored command with its generated id
//   - error: Only when the command could not be stored
func (d *Dispatcher) Dispatch(ctx context.Context, dev *device.Device, name string, payload map[string]any, issuedBy string) (*Command, error) {
	cmd := &Command{
		DeviceID: dev.ID,
		Command:  name,
		Payload:  payload,
		IssuedBy: issuedBy,
	}
	if err := d.commands.Create(ctx, cmd); err != nil {
		return nil, err
	}

	if err := d.publish(dev, cmd); err != nil {
		commandsDispatched.WithLabelValues("unpublished").Inc()
		d.logger.Warn("command stored but not published",
			"command_id", cmd.ID,
			"command", cmd.Command,
			"device_id", dev.DeviceID,
			"error", err,
		)
		return cmd, nil
	}

	commandsDispatched.WithLabelValues("published").Inc()
	d.logger.Info("command published",
		"command_id", cmd.ID,
		"command", cmd.Command,
		"device_id", dev.DeviceID,
	)
	return cmd, nil
}

func (d *Dispatcher) publish(dev *device.Device, cmd *Command) error {
	if d.transport == nil || !d.transport.IsConnected() {
		return mqtt.ErrNotConnected
	}

	body, err := json.Marshal(message{
		ID:        cmd.ID,
		Command:   cmd.Command,
		Payload:   cmd.Payload,
		Timestamp: cmd.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshalling command: %w", err)
	}
	return d.transport.Publish(d.topics.Command(dev.DeviceID), body, commandQoS, false)
}

// Reboot dispatches a reboot command and marks the device REBOOTING.
func (d *Dispatcher) Reboot(ctx context.Context, dev *device.Device, issuedBy string) (*Command, error) {
	cmd, err := d.Dispatch(ctx, dev, NameReboot, nil, issuedBy)
	if err != nil {
		return nil, err
	}

	if err := d.devices.SetStatus(ctx, dev.ID, device.StatusRebooting); err != nil {
		return cmd, fmt.Errorf("marking device rebooting: %w", err)
	}
	dev.Status = device.StatusRebooting

	now := d.clock.Now()
	d.bus.Publish(bus.Event{
		Name:      bus.EventDeviceStatusChange,
		Scope:     bus.All(),
		Payload:   device.StatusChange{DeviceID: dev.ID, Status: device.StatusRebooting, Timestamp: now},
		Timestamp: now,
	})
	return cmd, nil
}

// Screenshot requests a fresh capture from dev.
//
// Returns:
//   - requested: The new PENDING screenshot command
//   - latest: Newest completed screenshot, or nil before the first one
//   - err: If either lookup or the store fails
func (d *Dispatcher) Screenshot(ctx context.Context, dev *device.Device, issuedBy string) (requested, latest *Command, err error) {
	latest, err = d.commands.LatestCompleted(ctx, dev.ID, NameScreenshot)
	if err != nil && !errors.Is(err, ErrCommandNotFound) {
		return nil, nil, err
	}
	if errors.Is(err, ErrCommandNotFound) {
		latest = nil
	}

	requested, err = d.Dispatch(ctx, dev, NameScreenshot, nil, issuedBy)
	if err != nil {
		return nil, nil, err
	}
	return requested, latest, nil
}

// BulkReboot reboots each listed device by internal id. Unknown devices
// are reported in the results and do not stop the rest.
func (d *Dispatcher) BulkReboot(ctx context.Context, ids []string, issuedBy string) ([]BulkResult, error) {
	results := make([]BulkResult, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		dev, err := d.devices.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				results = append(results, BulkResult{DeviceID: id, Error: "device not found"})
				continue
			}
			return results, err
		}

		cmd, err := d.Reboot(ctx, dev, issuedBy)
		if err != nil {
			if cmd == nil {
				return results, err
			}
			results = append(results, BulkResult{DeviceID: id, CommandID: cmd.ID, Error: err.Error()})
			continue
		}
		results = append(results, BulkResult{DeviceID: id, CommandID: cmd.ID})
	}
	return results, nil
}

// HandleResponse applies a device's command response. Unknown and
// already-resolved commands are logged and ignored. On success the
// resolved command is announced on the device channel and, when the
// command has an issuer, on that user's channel.
func (d *Dispatcher) HandleResponse(ctx context.Context, commandID string, result Result) (*Command, error) {
	cmd, err := d.commands.Resolve(ctx, commandID, result)
	switch {
	case errors.Is(err, ErrCommandNotFound):
		d.logger.Warn("response for unknown command", "command_id", commandID)
		return nil, err
	case errors.Is(err, ErrAlreadyResolved):
		d.logger.Debug("duplicate command response ignored", "command_id", commandID, "status", cmd.Status)
		return nil, err
	case err != nil:
		return nil, err
	}

	commandsResolved.WithLabelValues(string(cmd.Status)).Inc()

	now := d.clock.Now()
	d.bus.Publish(bus.Event{Name: bus.EventCommandResponse, Scope: bus.Device(cmd.DeviceID), Payload: cmd, Timestamp: now})
	if cmd.IssuedBy != "" {
		d.bus.Publish(bus.Event{Name: bus.EventCommandResponse, Scope: bus.User(cmd.IssuedBy), Payload: cmd, Timestamp: now})
	}
	return cmd, nil
}
