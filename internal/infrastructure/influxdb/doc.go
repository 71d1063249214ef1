// Package influxdb mirrors device metric samples into InfluxDB.
//
// SQLite stays the system of record for samples and their retention; the
// InfluxDB copy exists for long-range dashboards. Writes are non-blocking
// and batched according to influxdb.batch_size and influxdb.flush_interval.
// Asynchronous write failures are reported through SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // mirror not configured
//	}
//	defer client.Close()
//
//	client.WriteDeviceSample("tablet-001", map[string]any{"battery_level": int64(80)}, time.Now())
package influxdb
