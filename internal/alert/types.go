package alert

import (
	"strings"
	"time"
)

// Severity grades an alert.
type Severity string

// Alert severities, lowest first.
const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Alert types raised by the service itself. Event-driven alerts use the
// device's event type.
const (
	TypeDeviceOffline = "DEVICE_OFFLINE"
)

// ParseSeverity normalises s. ok is false for unknown values.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	switch sev {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return sev, true
	}
	return "", false
}

// Escalates reports whether an event of this severity raises an alert.
func (s Severity) Escalates() bool {
	return s == SeverityError || s == SeverityCritical
}

// Alert is a notification that needs operator attention.
type Alert struct {
	ID             string     `json:"id"`
	DeviceID       string     `json:"deviceId,omitempty"`
	DeviceName     string     `json:"deviceName,omitempty"`
	AlertType      string     `json:"alertType"`
	Message        string     `json:"message"`
	Severity       Severity   `json:"severity"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedBy string     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Filter narrows List results. Nil Acknowledged matches both states.
type Filter struct {
	Acknowledged *bool
	Severity     Severity
	DeviceID     string
	Limit        int
}
