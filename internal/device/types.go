package device

import (
	"encoding/json"
	"time"
)

// Status is the liveness state of a device.
type Status string

// Device statuses.
const (
	// StatusPending is the initial status of a registered device that has not reported yet.
	StatusPending   Status = "PENDING"
	StatusOnline    Status = "ONLINE"
	StatusOffline   Status = "OFFLINE"
	StatusError     Status = "ERROR"
	StatusRebooting Status = "REBOOTING"
)

// AllStatuses returns every valid status.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusOnline, StatusOffline, StatusError, StatusRebooting}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := validStatuses[s]
	return ok
}

// Location describes where a device is installed.
type Location struct {
	Name     string `json:"name,omitempty"`
	Floor    string `json:"floor,omitempty"`
	Building string `json:"building,omitempty"`
}

// Device is a registered fleet member.
//
// ID is the internal identifier used by every other record. DeviceID is
// the identifier the device itself uses in its MQTT topics; it is unique
// and never changes after registration.
type Device struct {
	ID              string     `json:"id"`
	DeviceID        string     `json:"deviceId"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Status          Status     `json:"status"`
	LastSeen        *time.Time `json:"lastSeen,omitempty"`
	LastHeartbeat   *time.Time `json:"lastHeartbeat,omitempty"`
	IPAddress       string     `json:"ipAddress,omitempty"`
	FirmwareVersion string     `json:"firmwareVersion,omitempty"`
	Model           string     `json:"model,omitempty"`
	Location        Location   `json:"location"`
	Tags            []string   `json:"tags"`
	GroupID         string     `json:"groupId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// DisplayName returns the name, falling back to the external identifier.
func (d *Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.DeviceID
}

// StatusReport is the content of a status message from a device.
// Empty optional fields leave the stored values untouched.
type StatusReport struct {
	Status          Status
	IPAddress       string
	FirmwareVersion string
	Model           string
}

// Patch holds the operator-editable fields. Nil fields are left unchanged.
type Patch struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	Location    *Location `json:"location,omitempty"`
	Tags        []string  `json:"tags,omitempty"`

	// GroupID moves the device to another group; an explicit null
	// removes it from its group.
	GroupID NullableID `json:"groupId"`
}

// NullableID is an optional reference in a JSON patch. Set is false when
// the field was absent; an explicit null sets it with an empty Value.
type NullableID struct {
	Set   bool
	Value string
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *NullableID) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Value = ""
		return nil
	}
	return json.Unmarshal(data, &n.Value)
}

// Null reports whether the patch clears the reference.
func (n NullableID) Null() bool { return n.Set && n.Value == "" }

// Filter narrows List results.
type Filter struct {
	// Status restricts to one status when non-empty.
	Status Status

	// Search matches name, external id or location name, case-insensitively.
	Search string

	// GroupID restricts to the direct members of one group.
	GroupID string
}

// StatusChange is the payload announced whenever a device's status
// changes. DeviceID is the internal id.
type StatusChange struct {
	DeviceID  string    `json:"deviceId"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
