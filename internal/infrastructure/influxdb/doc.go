// Package influxdb stores zigbee telemetry and device status history in
// InfluxDB v2.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteTelemetry("0x00158d0001", "kitchen_sensor", "temperature", 21.5)
//
// Attach the client as a platform.Observer to record every status change:
//
//	platform.New(platform.Options{Observer: client, ...})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are reported via
// SetOnError. Connection and health check errors are returned directly.
package influxdb
