package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteInfusionProgress records a progress sample for a running infusion.
//
// This is the primary historical record for infusion charting. The write
// is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Pump identifier
//   - infusionID: Infusion the sample belongs to
//   - timeRemainingMin: Minutes remaining as reported by the pump
//   - volumeRemainingMl: Volume remaining as reported by the pump
//
// Example:
//
//	client.WriteInfusionProgress("pump-icu-07", infusionID, 42, 85.0)
func (c *Client) WriteInfusionProgress(deviceID, infusionID string, timeRemainingMin, volumeRemainingMl float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"infusion_progress",
		map[string]string{
			"device_id":   deviceID,
			"infusion_id": infusionID,
		},
		map[string]interface{}{
			"time_remaining_min":  timeRemainingMin,
			"volume_remaining_ml": volumeRemainingMl,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceVitals records pump hardware vitals from a status report.
//
// Parameters:
//   - deviceID: Pump identifier
//   - batteryPercent: Battery charge level (0-100)
//   - reservoirMl: Remaining reservoir volume
func (c *Client) WriteDeviceVitals(deviceID string, batteryPercent, reservoirMl float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_vitals",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"battery_percent": batteryPercent,
			"reservoir_ml":    reservoirMl,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceError records an error report from a pump.
//
// The error code is a tag so dashboards can group by failure type;
// keep codes low-cardinality.
//
// Parameters:
//   - deviceID: Pump identifier
//   - code: Device error code (e.g., "occlusion", "air_in_line")
func (c *Client) WriteDeviceError(deviceID, code string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_errors",
		map[string]string{
			"device_id": deviceID,
			"code":      code,
		},
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
