package device

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
)

// Telemetry keys published by sensor variants.
const (
	KeyLastDetected = "lastDetected"
	KeyNoMotion     = "noMotion"
)

// soapSensor drives the SOAP event sensors: DCH-S150 motion and
// DCH-S160 water. Both expose only a last-detection timestamp, so an
// active event is inferred: a timestamp that moved since the previous
// poll means a detection happened in between. The first poll after
// start only seeds the baseline and never reports an event - the
// recorded timestamp may be hours old.
type soapSensor struct {
	soapBase

	// lastMs is the previous poll's detection timestamp (unix ms).
	// Zero until the baseline poll has run.
	lastMs int64
}

func newSOAPSensor(identity *Identity, store StateStore, logger *logging.Logger) Hooks {
	return &soapSensor{soapBase: newSOAPBase(identity, store, logger)}
}

func (s *soapSensor) Poll(ctx context.Context) error {
	if err := s.checkReady(ctx); err != nil {
		return err
	}

	detectedMs, err := s.client.LastDetection(ctx)
	if err != nil {
		return fmt.Errorf("read last detection: %w", err)
	}

	triggered := s.lastMs != 0 && detectedMs != s.lastMs
	s.lastMs = detectedMs

	s.set(KeyState, triggered)
	s.set(KeyLastDetected, detectedMs)
	if detectedMs > 0 {
		quiet := time.Now().UnixMilli() - detectedMs
		if quiet < 0 {
			quiet = 0
		}
		s.set(KeyNoMotion, quiet/1000)
	}
	return nil
}

func (s *soapSensor) HandleCommand(ctx context.Context, key, payload string) error {
	if key == "reboot" {
		return s.client.Reboot(ctx)
	}
	return fmt.Errorf("device %s: command %q: %w", s.identity.ID, key, ErrNotSupported)
}
