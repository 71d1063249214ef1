// Package telemetry stores the append-only records devices send:
// metric samples, log entries and events.
//
// Samples are pruned by age; logs and events are kept until their device
// is deleted.
package telemetry
