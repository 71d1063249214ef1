// Package alert records operator-facing alerts and announces new ones.
//
// Alerts are raised by the offline sweep and by device events with
// ERROR or CRITICAL severity. They are never deduplicated: a device that
// goes offline twice produces two alerts. Apart from acknowledgement an
// alert is immutable.
package alert
