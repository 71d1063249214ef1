package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceMetrics is the measurement holding mirrored samples.
const MeasurementDeviceMetrics = "device_metrics"

// WriteDeviceSample queues one metric sample for a device. fields holds
// only the gauges the device reported; an empty map writes nothing.
//
// Example:
//
//	client.WriteDeviceSample("tablet-001", map[string]any{"cpu_usage": 42.5}, time.Now())
func (c *Client) WriteDeviceSample(deviceID string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	point := samplePoint(deviceID, fields, at)
	if point == nil {
		return
	}
	c.writeAPI.WritePoint(point)
}

// samplePoint builds the line-protocol point for a sample, tagged by the
// device's external id.
func samplePoint(deviceID string, fields map[string]any, at time.Time) *write.Point {
	if len(fields) == 0 {
		return nil
	}
	return write.NewPoint(
		MeasurementDeviceMetrics,
		map[string]string{"device_id": deviceID},
		fields,
		at,
	)
}
