package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePowerMetrics records a smart plug's power telemetry from one poll.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: MAC-derived device identifier
//   - model: Device model for per-model dashboards
//   - currentWatts: Instantaneous power draw in watts
//   - totalKWh: Cumulative consumption in kWh (0 if the device doesn't report it)
//
// Example:
//
//	client.WritePowerMetrics("C4E90A123456", "DSP-W215", 23.4, 102.7)
func (c *Client) WritePowerMetrics(deviceID, model string, currentWatts, totalKWh float64) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"current_watts": currentWatts,
	}
	if totalKWh > 0 {
		fields["total_kwh"] = totalKWh
	}

	point := write.NewPoint(
		"power",
		map[string]string{
			"device_id": deviceID,
			"model":     model,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteTemperature records a device's internal temperature reading.
//
// Parameters:
//   - deviceID: MAC-derived device identifier
//   - model: Device model
//   - celsius: Temperature in degrees Celsius
func (c *Client) WriteTemperature(deviceID, model string, celsius float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"temperature",
		map[string]string{
			"device_id": deviceID,
			"model":     model,
		},
		map[string]interface{}{
			"celsius": celsius,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSensorEvent records a detection event from a motion or water sensor.
//
// The detection timestamp comes from the device itself, so the point is
// written at that time rather than "now".
//
// Parameters:
//   - deviceID: MAC-derived device identifier
//   - model: Device model
//   - eventType: "motion" or "water"
//   - detectedAt: When the device registered the detection
func (c *Client) WriteSensorEvent(deviceID, model, eventType string, detectedAt time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sensor_events",
		map[string]string{
			"device_id": deviceID,
			"model":     model,
			"event":     eventType,
		},
		map[string]interface{}{
			"detected": true,
		},
		detectedAt,
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
