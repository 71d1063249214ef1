package telemetry

import (
	"fmt"
	"time"
)

// DefaultPeriod is used when a metrics query names no period.
const DefaultPeriod = "24h"

var periods = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// ParsePeriod maps a metrics window name to its duration. An empty name
// selects DefaultPeriod.
func ParsePeriod(name string) (time.Duration, error) {
	if name == "" {
		name = DefaultPeriod
	}
	d, ok := periods[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, name)
	}
	return d, nil
}
