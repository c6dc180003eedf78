// Package influxdb provides time-series storage for PumpLink telemetry.
//
// # Architecture
//
// Historical infusion data flows through this package into InfluxDB v2:
//
//	Router → influxdb.Client → InfluxDB (batched, async)
//
// The live streaming path (stream package) never blocks on this client;
// a slow or offline InfluxDB degrades history, not real-time delivery.
// Writes are batched by the non-blocking WriteAPI and flushed on the
// configured interval.
//
// # Measurements
//
//   - infusion_progress: cumulative volume and flow rate per sample
//   - device_vitals: battery and reservoir levels from status reports
//   - device_errors: error report counts tagged by code
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    // ErrDisabled when influxdb.enabled=false - run without history
//	}
//	defer client.Close()
//
//	client.WriteInfusionProgress("pump-icu-07", infusionID, 42.5, 2.0)
//
// # Security Considerations
//
// Points are tagged with device and infusion IDs only. Patient identifiers
// never reach the time-series store.
package influxdb
