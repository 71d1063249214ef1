// Package ingest turns device messages from the broker into store
// mutations, alerts and bus notifications.
//
// Devices publish on {prefix}/{deviceId}/{kind} where kind is one of
// status, metrics, logs, events or response. The Router parses the
// topic, checks the payload is a JSON object and hands it to the matching
// handler. Messages that cannot be handled (bad topic, bad payload,
// unregistered device, unknown command) are logged and dropped; nothing
// is ever sent back to the device.
package ingest
