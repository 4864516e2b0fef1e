package device

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
)

// Telemetry keys published by plug variants.
const (
	KeyState       = "state"
	KeyTemperature = "temperature"
	KeyPower       = "currentPower"
	KeyTotalPower  = "totalPower"
)

// soapSwitch drives SOAP smart plugs (DSP-W215, DSP-W110). The
// descriptor says which optional sensors the model carries; a W110
// polls only the relay, a W215 adds temperature and both power
// readings.
type soapSwitch struct {
	soapBase
	desc Descriptor
}

func newSOAPSwitch(identity *Identity, desc Descriptor, store StateStore, logger *logging.Logger) Hooks {
	return &soapSwitch{
		soapBase: newSOAPBase(identity, store, logger),
		desc:     desc,
	}
}

func (s *soapSwitch) Poll(ctx context.Context) error {
	if err := s.checkReady(ctx); err != nil {
		return err
	}

	state, err := s.client.State(ctx)
	if err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	s.set(KeyState, state)

	if s.desc.HasTemperature {
		temp, err := s.client.Temperature(ctx)
		if err != nil {
			return fmt.Errorf("read temperature: %w", err)
		}
		s.set(KeyTemperature, temp)
	}
	if s.desc.HasPower {
		watts, err := s.client.Consumption(ctx)
		if err != nil {
			return fmt.Errorf("read power: %w", err)
		}
		s.set(KeyPower, watts)
	}
	if s.desc.HasTotalPower {
		kwh, err := s.client.TotalConsumption(ctx)
		if err != nil {
			return fmt.Errorf("read total power: %w", err)
		}
		s.set(KeyTotalPower, kwh)
	}
	return nil
}

func (s *soapSwitch) HandleCommand(ctx context.Context, key, payload string) error {
	switch key {
	case KeyState:
		on, err := strconv.ParseBool(payload)
		if err != nil {
			return fmt.Errorf("device %s: bad state payload %q: %w", s.identity.ID, payload, err)
		}
		if err := s.client.Switch(ctx, on); err != nil {
			return fmt.Errorf("switch: %w", err)
		}
		// Read back rather than assume: the relay is the source of
		// truth and some firmwares quietly refuse the write.
		state, err := s.client.State(ctx)
		if err != nil {
			return fmt.Errorf("confirm state: %w", err)
		}
		s.set(KeyState, state)
		return nil
	case "reboot":
		return s.client.Reboot(ctx)
	default:
		return fmt.Errorf("device %s: command %q: %w", s.identity.ID, key, ErrNotSupported)
	}
}
