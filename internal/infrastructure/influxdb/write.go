package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/founek2/IOT-Platforma-zigbee/internal/platform"
)

// Measurement names.
const (
	measurementTelemetry = "zigbee_telemetry"
	measurementStatus    = "device_status"
)

// WriteTelemetry records one numeric reading reported by zigbee2mqtt.
//
// Booleans are written as 0 or 1 by the caller. The write is non-blocking;
// points are batched and sent asynchronously.
//
// Parameters:
//   - deviceID: IEEE address of the device
//   - friendlyName: zigbee2mqtt friendly name, kept as a tag for dashboards
//   - property: Expose property, e.g. "temperature" or "linkquality"
//   - value: The reading
func (c *Client) WriteTelemetry(deviceID, friendlyName, property string, value float64) {
	c.write(telemetryPoint(deviceID, friendlyName, property, value, time.Now()))
}

// WriteStatus records a platform status transition of a device.
func (c *Client) WriteStatus(deviceID string, status platform.Status, mode platform.Mode, at time.Time) {
	c.write(statusPoint(deviceID, status, mode, at))
}

// HandleEvent implements platform.Observer. Only status changes are stored.
func (c *Client) HandleEvent(e platform.Event) {
	if e.Type != platform.EventStatusChanged {
		return
	}
	c.WriteStatus(e.DeviceID, e.Status, e.Mode, e.Time)
}

func (c *Client) write(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}

func telemetryPoint(deviceID, friendlyName, property string, value float64, at time.Time) *write.Point {
	return write.NewPoint(
		measurementTelemetry,
		map[string]string{
			"device_id": deviceID,
			"name":      friendlyName,
			"property":  property,
		},
		map[string]interface{}{
			"value": value,
		},
		at,
	)
}

func statusPoint(deviceID string, status platform.Status, mode platform.Mode, at time.Time) *write.Point {
	return write.NewPoint(
		measurementStatus,
		map[string]string{
			"device_id": deviceID,
			"mode":      mode.String(),
		},
		map[string]interface{}{
			"status": string(status),
		},
		at,
	)
}
