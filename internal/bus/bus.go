package bus

import (
	"sync"
	"time"
)

// Event names published by the service.
const (
	EventDeviceStatusChange    = "device:statusChange"
	EventDeviceMetrics         = "device:metrics"
	EventDeviceCreated         = "device:created"
	EventDeviceUpdated         = "device:updated"
	EventDeviceDeleted         = "device:deleted"
	EventAlertNew              = "alert:new"
	EventAlertAcknowledged     = "alert:acknowledged"
	EventAlertsBulkAcknowledge = "alerts:bulkAcknowledged"
	EventCommandResponse       = "command:response"
)

// Channel names a client can join.
const (
	ChannelAlerts       = "alerts"
	channelDevicePrefix = "device:"
	channelUserPrefix   = "user:"
)

// Scope selects the recipients of an event. The zero Scope reaches every
// connected client.
type Scope struct {
	channel string
}

// All reaches every connected client.
func All() Scope { return Scope{} }

// Device reaches clients subscribed to one device's detail channel.
func Device(id string) Scope { return Scope{channel: DeviceChannel(id)} }

// Alerts reaches clients subscribed to the alert feed.
func Alerts() Scope { return Scope{channel: ChannelAlerts} }

// User reaches the connections authenticated as one user.
func User(id string) Scope { return Scope{channel: UserChannel(id)} }

// Broadcast reports whether the scope targets every client.
func (s Scope) Broadcast() bool { return s.channel == "" }

// Channel returns the channel name, empty for a broadcast.
func (s Scope) Channel() string { return s.channel }

func (s Scope) String() string {
	if s.Broadcast() {
		return "all"
	}
	return s.channel
}

// DeviceChannel returns the channel name for a device's internal id.
func DeviceChannel(id string) string { return channelDevicePrefix + id }

// UserChannel returns the channel name for a user id.
func UserChannel(id string) string { return channelUserPrefix + id }

// Event is one notification. Payload must be JSON-serialisable.
type Event struct {
	Name      string    `json:"type"`
	Scope     Scope     `json:"-"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events to subscribers. Publish must not block the
// caller on slow recipients.
type Publisher interface {
	Publish(event Event)
}

// Nop discards every event.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(Event) {}

// Recorder keeps published events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records the event.
func (r *Recorder) Publish(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
