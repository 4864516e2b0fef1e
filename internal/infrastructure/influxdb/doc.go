// Package influxdb records numeric device telemetry to InfluxDB v2.
//
// # Overview
//
// Polled samples that are worth charting over time - plug power draw,
// cumulative consumption, internal temperature, and sensor detection
// events - are written here in addition to being published on the MQTT
// state bus. The MQTT topics carry only the latest value; InfluxDB
// keeps the history.
//
// # Measurements
//
//	power          current_watts, total_kwh     tagged device_id, model
//	temperature    celsius                      tagged device_id, model
//	sensor_events  detected                     tagged device_id, model, event
//
// # Write Semantics
//
// Writes are non-blocking and batched by the underlying client. Errors
// surface asynchronously through the SetOnError callback. A disconnected
// client silently drops writes - telemetry history is best-effort and
// never blocks device polling.
//
// InfluxDB integration is optional; when disabled in config, Connect
// returns ErrDisabled and callers run without history.
package influxdb
