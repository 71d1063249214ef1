package ingest

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/nerrad567/fleetwatch/internal/telemetry"
)

type statusPayload struct {
	Status          string `json:"status"`
	IPAddress       string `json:"ipAddress"`
	FirmwareVersion string `json:"firmwareVersion"`
	Model           string `json:"model"`
}

// metricsPayload decodes every number as float64 so a device sending
// 4096.0 for an integer gauge is not rejected.
type metricsPayload struct {
	CPUUsage         *float64 `json:"cpuUsage"`
	MemoryUsage      *float64 `json:"memoryUsage"`
	MemoryTotal      *float64 `json:"memoryTotal"`
	MemoryAvailable  *float64 `json:"memoryAvailable"`
	StorageUsage     *float64 `json:"storageUsage"`
	StorageTotal     *float64 `json:"storageTotal"`
	StorageAvailable *float64 `json:"storageAvailable"`
	CPUTemperature   *float64 `json:"cpuTemperature"`
	NetworkType      *string  `json:"networkType"`
	SignalStrength   *float64 `json:"signalStrength"`
	DisplayOn        *bool    `json:"displayOn"`
	Brightness       *float64 `json:"brightness"`
	BatteryLevel     *float64 `json:"batteryLevel"`
	BatteryCharging  *bool    `json:"batteryCharging"`
}

func (p *metricsPayload) sample(deviceID string, at time.Time) *telemetry.MetricSample {
	return &telemetry.MetricSample{
		DeviceID:         deviceID,
		RecordedAt:       at,
		CPUUsage:         p.CPUUsage,
		MemoryUsage:      p.MemoryUsage,
		MemoryTotal:      toInt(p.MemoryTotal),
		MemoryAvailable:  toInt(p.MemoryAvailable),
		StorageUsage:     p.StorageUsage,
		StorageTotal:     toInt(p.StorageTotal),
		StorageAvailable: toInt(p.StorageAvailable),
		CPUTemperature:   p.CPUTemperature,
		NetworkType:      p.NetworkType,
		SignalStrength:   toInt(p.SignalStrength),
		DisplayOn:        p.DisplayOn,
		Brightness:       toInt(p.Brightness),
		BatteryLevel:     toInt(p.BatteryLevel),
		BatteryCharging:  p.BatteryCharging,
	}
}

func toInt(v *float64) *int64 {
	if v == nil {
		return nil
	}
	n := int64(math.Round(*v))
	return &n
}

type logPayload struct {
	Level    string         `json:"level"`
	Message  string         `json:"message"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

type eventPayload struct {
	EventType string         `json:"eventType"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	EventData map[string]any `json:"eventData"`
}

// responsePayload keeps response and error raw: devices answer with
// whatever JSON their command produced.
type responsePayload struct {
	CommandID string          `json:"commandId"`
	Success   bool            `json:"success"`
	Response  json.RawMessage `json:"response"`
	Error     json.RawMessage `json:"error"`
}

// errorText returns the error as stored text. A JSON string is unquoted,
// any other value is kept as compact JSON.
func (p *responsePayload) errorText() string {
	if len(p.Error) == 0 || string(p.Error) == "null" {
		return ""
	}
	var s string
	if json.Unmarshal(p.Error, &s) == nil {
		return s
	}
	var buf bytes.Buffer
	if json.Compact(&buf, p.Error) != nil {
		return string(p.Error)
	}
	return buf.String()
}

// metricsNotification is the device:metrics payload. Metrics carries the
// message as the device sent it.
type metricsNotification struct {
	DeviceID  string          `json:"deviceId"`
	Metrics   json.RawMessage `json:"metrics"`
	Timestamp time.Time       `json:"timestamp"`
}

// isJSONObject reports whether payload is a well-formed JSON object.
func isJSONObject(payload []byte) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(payload, &obj) == nil && obj != nil
}
