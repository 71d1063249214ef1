package ingest

import (
	"github.com/nerrad567/fleetwatch/internal/infrastructure/mqtt"
)

// MessageType identifies what a device message carries.
type MessageType int

// Message types, keyed by the last topic level.
const (
	MessageUnknown MessageType = iota
	MessageStatus
	MessageMetrics
	MessageLog
	MessageEvent
	MessageCommandResponse
)

var messageSuffixes = map[MessageType]string{
	MessageStatus:          "status",
	MessageMetrics:         "metrics",
	MessageLog:             "logs",
	MessageEvent:           "events",
	MessageCommandResponse: "response",
}

// messageQoS is the subscription QoS per type. Metrics and logs are high
// volume and tolerate loss.
var messageQoS = map[MessageType]byte{
	MessageStatus:          1,
	MessageMetrics:         0,
	MessageLog:             0,
	MessageEvent:           1,
	MessageCommandResponse: 1,
}

// MessageTypes returns every known type in subscription order.
func MessageTypes() []MessageType {
	return []MessageType{MessageStatus, MessageMetrics, MessageLog, MessageEvent, MessageCommandResponse}
}

// Suffix returns the topic level for t, empty for MessageUnknown.
func (t MessageType) Suffix() string {
	return messageSuffixes[t]
}

// QoS returns the subscription QoS for t.
func (t MessageType) QoS() byte {
	return messageQoS[t]
}

func (t MessageType) String() string {
	if s, ok := messageSuffixes[t]; ok {
		return s
	}
	return "unknown"
}

// ParseMessageType maps a topic level to its type.
func ParseMessageType(suffix string) MessageType {
	for t, s := range messageSuffixes {
		if s == suffix {
			return t
		}
	}
	return MessageUnknown
}

// ParseTopic splits a device topic into the external device id and the
// message type. A topic with an unrecognised last level parses with
// MessageUnknown; a malformed topic returns ErrInvalidTopic.
func ParseTopic(topics mqtt.Topics, topic string) (string, MessageType, error) {
	deviceID, kind, ok := topics.Split(topic)
	if !ok {
		return "", MessageUnknown, ErrInvalidTopic
	}
	return deviceID, ParseMessageType(kind), nil
}
