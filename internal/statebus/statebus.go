package statebus

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/dlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/dlink-core/internal/infrastructure/mqtt"
)

// Publisher is the slice of the MQTT client the bus needs. Tests
// substitute a recorder.
type Publisher interface {
	PublishString(topic string, payload string, qos byte, retained bool) error
}

// Metrics is the slice of the InfluxDB client the bus needs. Nil or a
// disconnected client turns time-series writes into no-ops.
type Metrics interface {
	WritePowerMetrics(deviceID, model string, currentWatts, totalKWh float64)
	WriteTemperature(deviceID, model string, celsius float64)
	WriteSensorEvent(deviceID, model, eventType string, detectedAt time.Time)
}

// Bus is the single state sink for the device fleet. Every state write
// lands in three places: an in-memory cache the API reads, a retained
// MQTT topic per key so consumers see current state on subscribe, and
// - for the telemetry keys - an InfluxDB measurement.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	publisher Publisher
	metrics   Metrics
	logger    *logging.Logger
	topics    mqtt.Topics

	mu     sync.Mutex
	states map[string]map[string]any
}

// Deps wires a Bus. Publisher is required in production; Metrics and
// Logger are optional.
type Deps struct {
	Publisher Publisher
	Metrics   Metrics
	Logger    *logging.Logger
}

func New(deps Deps) *Bus {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Bus{
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    logger,
		states:    make(map[string]map[string]any),
	}
}

// SetState records a state value, publishes it retained when it
// changed, and routes telemetry to the time-series store. Unchanged
// values are dropped silently - drivers re-publish full state every
// poll and the retained topics must not churn on every tick.
func (b *Bus) SetState(deviceID, key string, value any) {
	b.mu.Lock()
	device, ok := b.states[deviceID]
	if !ok {
		device = make(map[string]any)
		b.states[deviceID] = device
	}
	previous, had := device[key]
	device[key] = value
	model, _ := device["model"].(string) //nolint:errcheck // empty model tag is fine
	totalKWh, _ := device["totalPower"].(float64)
	b.mu.Unlock()

	if had && previous == value {
		return
	}

	if b.publisher != nil {
		topic := b.topics.DeviceState(deviceID, key)
		if err := b.publisher.PublishString(topic, formatValue(value), 1, true); err != nil {
			b.logger.Warn("state publish failed",
				"device_id", deviceID,
				"key", key,
				"error", err)
		}
	}

	b.writeMetric(deviceID, model, key, value, previous, had, totalKWh)
}

// GetState returns the last recorded value of a state key.
func (b *Bus) GetState(deviceID, key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	device, ok := b.states[deviceID]
	if !ok {
		return nil, false
	}
	v, ok := device[key]
	return v, ok
}

// States returns a copy of everything recorded for a device.
func (b *Bus) States(deviceID string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	device, ok := b.states[deviceID]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(device))
	for k, v := range device {
		out[k] = v
	}
	return out
}

// Forget drops a device's cached state, used when a device is removed.
// Retained topics are cleared by publishing empty payloads.
func (b *Bus) Forget(deviceID string) {
	b.mu.Lock()
	device, ok := b.states[deviceID]
	delete(b.states, deviceID)
	b.mu.Unlock()
	if !ok || b.publisher == nil {
		return
	}
	for key := range device {
		topic := b.topics.DeviceState(deviceID, key)
		if err := b.publisher.PublishString(topic, "", 1, true); err != nil {
			b.logger.Debug("retained clear failed", "topic", topic, "error", err)
		}
	}
}

// writeMetric routes the telemetry keys into InfluxDB. Lifecycle and
// configuration keys never hit the time-series store.
func (b *Bus) writeMetric(deviceID, model, key string, value, previous any, had bool, totalKWh float64) {
	if b.metrics == nil {
		return
	}
	switch key {
	case "temperature":
		if celsius, ok := toFloat(value); ok {
			b.metrics.WriteTemperature(deviceID, model, celsius)
		}
	case "currentPower":
		if watts, ok := toFloat(value); ok {
			b.metrics.WritePowerMetrics(deviceID, model, watts, totalKWh)
		}
	case "lastDetected":
		// A moved detection timestamp is a sensor event, stamped at the
		// device's time, not ours. The first value after start is only
		// a baseline.
		ms, ok := toInt64(value)
		if !ok || !had {
			return
		}
		if prevMs, ok := toInt64(previous); ok && prevMs != ms && ms > 0 {
			b.metrics.WriteSensorEvent(deviceID, model, "detection", time.UnixMilli(ms))
		}
	}
}

// formatValue renders a state value for the wire. Booleans and numbers
// get canonical forms so MQTT consumers can parse without guessing.
func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// Ensure *influxdb.Client satisfies Metrics.
var _ Metrics = (*influxdb.Client)(nil)
