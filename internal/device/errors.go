package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrNotFound) {
//	    // handle not found case
//	}
var (
	// ErrNotFound is returned when a device ID does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrExists is returned when creating a device with an ID that already exists.
	ErrExists = errors.New("device: already exists")

	// ErrUnknownModel is returned by the factory for a model string the
	// catalog does not recognise.
	ErrUnknownModel = errors.New("device: unknown model")

	// ErrNotStarted is returned for operations requiring a running device.
	ErrNotStarted = errors.New("device: not started")

	// ErrDisabled is returned for commands sent to a disabled device.
	ErrDisabled = errors.New("device: disabled")

	// ErrNotSupported is returned for commands a device's capability
	// flags rule out (switching a sensor, sounding a plug).
	ErrNotSupported = errors.New("device: operation not supported by model")

	// ErrInvalidSoundType is returned for siren sound types outside 1-6.
	ErrInvalidSoundType = errors.New("device: sound type must be 1-6")

	// ErrInvalidVolume is returned for siren volumes outside 1-100.
	ErrInvalidVolume = errors.New("device: volume must be 1-100")

	// ErrInvalidDuration is returned for siren durations outside 1-88888.
	ErrInvalidDuration = errors.New("device: duration must be 1-88888")
)
