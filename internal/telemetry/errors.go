package telemetry

import "errors"

// Domain errors for telemetry records.
var (
	ErrDeviceRequired = errors.New("telemetry: device id is required")
	ErrInvalidPeriod  = errors.New("telemetry: invalid period")
	ErrInvalidCutoff  = errors.New("telemetry: cutoff is zero")
)
