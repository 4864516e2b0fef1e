package device

import (
	"testing"
	"time"
)

func TestClampPollInterval(t *testing.T) {
	tests := []struct {
		name        string
		in          int
		wantMs      int
		wantClamped bool
		wantEnabled bool
	}{
		{"zero disables", 0, 0, false, false},
		{"negative disables", -1, -1, false, false},
		{"below minimum", 499, 500, true, true},
		{"at minimum", 500, 500, false, true},
		{"typical", 30000, 30000, false, true},
		{"above maximum", 1<<31 - 1, 1<<31 - 2, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms, clamped, enabled := ClampPollInterval(tt.in)
			if ms != tt.wantMs || clamped != tt.wantClamped || enabled != tt.wantEnabled {
				t.Errorf("ClampPollInterval(%d) = (%d, %v, %v), want (%d, %v, %v)",
					tt.in, ms, clamped, enabled, tt.wantMs, tt.wantClamped, tt.wantEnabled)
			}
		})
	}
}

func TestIdentityPollInterval(t *testing.T) {
	id := Identity{PollIntervalMs: 2000}
	d, clamped, enabled := id.PollInterval()
	if d != 2*time.Second || clamped || !enabled {
		t.Errorf("PollInterval() = (%v, %v, %v)", d, clamped, enabled)
	}

	id.PollIntervalMs = -1
	if _, _, enabled := id.PollInterval(); enabled {
		t.Error("negative interval should disable polling")
	}
}

func TestNormalizeMAC(t *testing.T) {
	id := Identity{MAC: "aa-bb-cc-dd-ee-ff"}
	id.NormalizeMAC()
	if id.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("MAC = %q", id.MAC)
	}
	if id.ID != "AABBCCDDEEFF" {
		t.Errorf("ID = %q", id.ID)
	}

	// Idempotent.
	id.NormalizeMAC()
	if id.MAC != "AA:BB:CC:DD:EE:FF" || id.ID != "AABBCCDDEEFF" {
		t.Errorf("second pass changed values: %q %q", id.MAC, id.ID)
	}
}
