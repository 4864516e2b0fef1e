package device

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nerrad567/dlink-core/internal/infrastructure/logging"
)

// Sound parameter keys and bounds for the DCH-S220 siren.
const (
	KeySoundType     = "soundType"
	KeySoundVolume   = "soundVolume"
	KeySoundDuration = "soundDuration"

	minSoundType = 1
	maxSoundType = 6
	minVolume    = 1
	maxVolume    = 100
	minDuration  = 1
	maxDuration  = 88888
)

// soapSiren drives the DCH-S220 siren. Sound type, volume and duration
// are cached locally and sent together when the siren is switched on;
// setting a parameter does not start the siren. A rejected parameter
// write leaves the cached value untouched.
type soapSiren struct {
	soapBase

	soundType int
	volume    int
	duration  int
}

func newSOAPSiren(identity *Identity, store StateStore, logger *logging.Logger) Hooks {
	return &soapSiren{
		soapBase:  newSOAPBase(identity, store, logger),
		soundType: 1,
		volume:    50,
		duration:  10,
	}
}

func (s *soapSiren) Poll(ctx context.Context) error {
	if err := s.checkReady(ctx); err != nil {
		return err
	}

	sounding, err := s.client.GetSoundPlay(ctx)
	if err != nil {
		return fmt.Errorf("read sound state: %w", err)
	}
	s.set(KeyState, sounding)
	s.set(KeySoundType, s.soundType)
	s.set(KeySoundVolume, s.volume)
	s.set(KeySoundDuration, s.duration)
	return nil
}

func (s *soapSiren) HandleCommand(ctx context.Context, key, payload string) error {
	switch key {
	case KeyState:
		on, err := strconv.ParseBool(payload)
		if err != nil {
			return fmt.Errorf("device %s: bad state payload %q: %w", s.identity.ID, payload, err)
		}
		if on {
			if err := s.client.SetSoundPlay(ctx, s.soundType, s.volume, s.duration); err != nil {
				return fmt.Errorf("sound play: %w", err)
			}
		} else {
			if err := s.client.SetAlarmDismissed(ctx); err != nil {
				return fmt.Errorf("dismiss alarm: %w", err)
			}
		}
		s.set(KeyState, on)
		return nil
	case KeySoundType:
		v, err := parseSoundParam(payload, minSoundType, maxSoundType, ErrInvalidSoundType)
		if err != nil {
			return err
		}
		s.soundType = v
		s.set(KeySoundType, v)
		return nil
	case KeySoundVolume:
		v, err := parseSoundParam(payload, minVolume, maxVolume, ErrInvalidVolume)
		if err != nil {
			return err
		}
		s.volume = v
		s.set(KeySoundVolume, v)
		return nil
	case KeySoundDuration:
		v, err := parseSoundParam(payload, minDuration, maxDuration, ErrInvalidDuration)
		if err != nil {
			return err
		}
		s.duration = v
		s.set(KeySoundDuration, v)
		return nil
	case "reboot":
		return s.client.Reboot(ctx)
	default:
		return fmt.Errorf("device %s: command %q: %w", s.identity.ID, key, ErrNotSupported)
	}
}

func parseSoundParam(payload string, minVal, maxVal int, invalid error) (int, error) {
	v, err := strconv.Atoi(payload)
	if err != nil || v < minVal || v > maxVal {
		return 0, fmt.Errorf("%w: %q", invalid, payload)
	}
	return v, nil
}
