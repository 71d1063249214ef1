package command

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a command.
type Status string

// Command statuses. PENDING moves to exactly one terminal state.
const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Well-known command names.
const (
	NameReboot     = "reboot"
	NameScreenshot = "screenshot"
)

// Command is an instruction sent to one device.
type Command struct {
	ID           string          `json:"id"`
	DeviceID     string          `json:"deviceId"`
	Command      string          `json:"command"`
	Payload      map[string]any  `json:"payload,omitempty"`
	Status       Status          `json:"status"`
	Response     json.RawMessage `json:"response,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	IssuedBy     string          `json:"issuedBy,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// Result is a device's answer to a command. Response may hold any JSON
// value; an empty or null Response is stored as {}.
type Result struct {
	Success  bool
	Response json.RawMessage
	Error    string
}

// BulkResult reports the outcome of one device in a bulk operation.
// Error is set, and CommandID empty, when the device was skipped.
type BulkResult struct {
	DeviceID  string `json:"deviceId"`
	CommandID string `json:"commandId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// message is the wire form of an outbound command.
type message struct {
	ID        string         `json:"id"`
	Command   string         `json:"command"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
