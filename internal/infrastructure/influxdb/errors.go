package influxdb

import "errors"

// Sentinel errors for InfluxDB operations. Check them with errors.Is.
var (
	ErrNotConnected = errors.New("influxdb: not connected")

	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates the mirror is switched off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
