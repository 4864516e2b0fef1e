// Package statebus fans device state out to its consumers.
//
// Drivers write keyed state values; the bus caches them in memory for
// the API, publishes each change to a retained MQTT topic
// (dlink/state/<device-id>/<key>), and writes the telemetry keys -
// temperature, power, detection events - into InfluxDB. Unchanged
// values are deduplicated so steady-state polling produces no traffic.
package statebus
