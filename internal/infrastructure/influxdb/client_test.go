package influxdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/dlink-core/internal/infrastructure/config"
)

func TestConnectDisabled(t *testing.T) {
	cfg := config.InfluxDBConfig{
		Enabled: false,
		URL:     "http://localhost:8086",
	}

	_, err := Connect(cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestCloseNil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v, want nil", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	client := &Client{}

	err := client.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestIsConnectedInitialState(t *testing.T) {
	client := &Client{}
	if client.IsConnected() {
		t.Error("IsConnected() = true on zero client, want false")
	}
}

func TestFlushDisconnected(t *testing.T) {
	client := &Client{}
	// Must not panic on a client that never connected.
	client.Flush()
}

func TestWritesDroppedWhenDisconnected(t *testing.T) {
	client := &Client{}

	// All write helpers must be silent no-ops without a connection.
	client.WritePowerMetrics("C4E90A123456", "DSP-W215", 23.4, 102.7)
	client.WriteTemperature("C4E90A123456", "DSP-W215", 31.0)
	client.WriteSensorEvent("C4E90A654321", "DCH-S150", "motion", time.Now())
	client.WritePoint("custom", map[string]string{"k": "v"}, map[string]interface{}{"f": 1.0})
}
