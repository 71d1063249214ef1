package mqtt

import "strings"

// ServiceStatusTopic carries the retained online/offline status of the
// fleetwatch service itself (including the LWT). It sits outside the
// device prefix so device wildcards never match it.
const ServiceStatusTopic = "fleetwatch/service/status"

// DefaultTopicPrefix is the root of every device topic.
const DefaultTopicPrefix = "devices"

// Topics builds device topics of the form {prefix}/{deviceId}/{kind}.
//
//	topics := mqtt.NewTopics("devices")
//	topics.Device("tablet-001", "status") // devices/tablet-001/status
//	topics.AllDevices("metrics")          // devices/+/metrics
type Topics struct {
	prefix string
}

// NewTopics returns a builder rooted at prefix, or DefaultTopicPrefix when empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the first topic level.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// Device returns the topic for one device and message kind.
func (t Topics) Device(deviceID, kind string) string {
	return t.Prefix() + "/" + deviceID + "/" + kind
}

// AllDevices returns the single-level wildcard filter for a message kind.
func (t Topics) AllDevices(kind string) string {
	return t.Prefix() + "/+/" + kind
}

// Command returns the outbound command topic for a device.
func (t Topics) Command(deviceID string) string {
	return t.Device(deviceID, "commands")
}

// Split breaks a concrete device topic into its device id and kind.
// ok is false when the topic has the wrong shape, the wrong prefix or an
// empty segment.
func (t Topics) Split(topic string) (deviceID, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != t.Prefix() || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
