package telemetry

import (
	"time"
)

// Default levels and severities applied when a device omits them.
const (
	DefaultLogLevel      = "INFO"
	DefaultEventSeverity = "INFO"
)

// MetricSample is one point-in-time resource reading. Every gauge is
// optional; nil means the device did not report it.
type MetricSample struct {
	ID               int64     `json:"id"`
	DeviceID         string    `json:"deviceId"`
	RecordedAt       time.Time `json:"recordedAt"`
	CPUUsage         *float64  `json:"cpuUsage,omitempty"`
	MemoryUsage      *float64  `json:"memoryUsage,omitempty"`
	MemoryTotal      *int64    `json:"memoryTotal,omitempty"`
	MemoryAvailable  *int64    `json:"memoryAvailable,omitempty"`
	StorageUsage     *float64  `json:"storageUsage,omitempty"`
	StorageTotal     *int64    `json:"storageTotal,omitempty"`
	StorageAvailable *int64    `json:"storageAvailable,omitempty"`
	CPUTemperature   *float64  `json:"cpuTemperature,omitempty"`
	NetworkType      *string   `json:"networkType,omitempty"`
	SignalStrength   *int64    `json:"signalStrength,omitempty"`
	DisplayOn        *bool     `json:"displayOn,omitempty"`
	Brightness       *int64    `json:"brightness,omitempty"`
	BatteryLevel     *int64    `json:"batteryLevel,omitempty"`
	BatteryCharging  *bool     `json:"batteryCharging,omitempty"`
}

// Gauges returns the reported gauges keyed by snake_case name, for
// writing to a time-series store. Absent gauges are omitted.
func (s *MetricSample) Gauges() map[string]any {
	fields := make(map[string]any)
	putFloat := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}
	putInt := func(name string, v *int64) {
		if v != nil {
			fields[name] = *v
		}
	}
	putBool := func(name string, v *bool) {
		if v != nil {
			fields[name] = *v
		}
	}

	putFloat("cpu_usage", s.CPUUsage)
	putFloat("memory_usage", s.MemoryUsage)
	putInt("memory_total", s.MemoryTotal)
	putInt("memory_available", s.MemoryAvailable)
	putFloat("storage_usage", s.StorageUsage)
	putInt("storage_total", s.StorageTotal)
	putInt("storage_available", s.StorageAvailable)
	putFloat("cpu_temperature", s.CPUTemperature)
	putInt("signal_strength", s.SignalStrength)
	putBool("display_on", s.DisplayOn)
	putInt("brightness", s.Brightness)
	putInt("battery_level", s.BatteryLevel)
	putBool("battery_charging", s.BatteryCharging)
	if s.NetworkType != nil {
		fields["network_type"] = *s.NetworkType
	}
	return fields
}

// LogEntry is a single log line forwarded by a device.
type LogEntry struct {
	ID        int64          `json:"id"`
	DeviceID  string         `json:"deviceId"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Source    string         `json:"source,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

// DeviceEvent is a discrete occurrence reported by a device.
type DeviceEvent struct {
	ID        int64          `json:"id"`
	DeviceID  string         `json:"deviceId"`
	EventType string         `json:"eventType"`
	Severity  string         `json:"severity"`
	EventData map[string]any `json:"eventData"`
	CreatedAt time.Time      `json:"createdAt"`
}

// LogFilter narrows ListLogs. Zero Limit means DefaultLogLimit.
type LogFilter struct {
	Level string
	Limit int
}

// EventFilter narrows ListEvents. Zero Limit means DefaultEventLimit.
type EventFilter struct {
	EventType string
	Limit     int
}
