package device

import (
	"time"

	"github.com/nerrad567/dlink-core/internal/dlink"
)

// Poll interval bounds in milliseconds. Values outside the range are
// clamped rather than rejected; a non-positive value disables polling.
const (
	// DefaultPollIntervalMs is used when a device record carries none.
	DefaultPollIntervalMs = 30000

	// MinPollIntervalMs protects devices from being hammered.
	MinPollIntervalMs = 500

	// MaxPollIntervalMs is the largest interval a 32-bit timer can hold.
	MaxPollIntervalMs = 1<<31 - 2
)

// Identity is the persistent record of one managed device. It is
// created by the factory from a stored row or an API request, mutated
// by identify responses (model/MAC correction) and by auto-discovery
// (address correction), and saved back through the Repository.
type Identity struct {
	// ID is the MAC-derived identifier (uppercase hex, no separators).
	ID string `json:"id"`

	// MAC is the canonical colon-separated hardware address.
	MAC string `json:"mac,omitempty"`

	// Address is the device's last known IP.
	Address string `json:"address"`

	// PIN is the cleartext device PIN. It lives only in memory; the
	// repository stores it obfuscated with the process secret. Never
	// serialized in API responses.
	PIN string `json:"-"`

	// Model is the model string as reported by the device.
	Model string `json:"model,omitempty"`

	// Name is an optional friendly name; defaults to Model on identify.
	Name string `json:"name,omitempty"`

	// Enabled pauses the device without forgetting it when false.
	Enabled bool `json:"enabled"`

	// PollIntervalMs is the poll cadence. Non-positive disables polling.
	PollIntervalMs int `json:"poll_interval_ms"`

	// UseWebsocket records which transport the device speaks.
	UseWebsocket bool `json:"use_websocket"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NormalizeMAC fills ID from MAC and canonicalises the MAC formatting.
func (id *Identity) NormalizeMAC() {
	if id.MAC == "" {
		return
	}
	id.MAC = dlink.FormatMAC(id.MAC)
	id.ID = dlink.IDFromMAC(id.MAC)
}

// PollInterval returns the effective poll interval after clamping.
//
// Returns:
//   - time.Duration: the interval to use (zero when polling is disabled)
//   - bool: true when the configured value was clamped to a bound
//   - bool: true when polling is enabled at all
func (id *Identity) PollInterval() (time.Duration, bool, bool) {
	ms, clamped, enabled := ClampPollInterval(id.PollIntervalMs)
	if !enabled {
		return 0, clamped, false
	}
	return time.Duration(ms) * time.Millisecond, clamped, true
}

// ClampPollInterval applies the poll interval bounds.
//
// A non-positive value means polling is disabled and is passed through
// unchanged. Values below the minimum or above the maximum are clamped
// to the nearest bound.
func ClampPollInterval(ms int) (clampedMs int, wasClamped, enabled bool) {
	if ms <= 0 {
		return ms, false, false
	}
	if ms < MinPollIntervalMs {
		return MinPollIntervalMs, true, true
	}
	if ms > MaxPollIntervalMs {
		return MaxPollIntervalMs, true, true
	}
	return ms, false, true
}
