// Package device holds the registered fleet and its liveness state.
//
// Every other record (samples, logs, events, alerts, commands) refers to
// a device by its internal ID. Devices identify themselves on MQTT with
// DeviceID, so ingestion resolves DeviceID to the stored Device first.
//
// Status changes come from three places:
//   - status messages (ApplyStatusReport, last writer wins)
//   - the offline sweep (MarkOffline, only from ONLINE)
//   - operator actions such as reboot (SetStatus)
//
// No transition leaves OFFLINE automatically; a device comes back when
// it sends a status message.
//
// Devices may be placed in a Group. Groups nest; GroupRepository rejects
// parent changes that would form a cycle.
package device
