package device

import "context"

// Client is the transport session a driver drives. Both the HNAP/SOAP
// client and the websocket client satisfy it.
type Client interface {
	// Login authenticates the session. The bool reports whether the
	// session is now authenticated; a false with a nil error means the
	// device rejected the credentials.
	Login(ctx context.Context) (bool, error)

	// LoggedIn reports whether the session is currently authenticated.
	LoggedIn() bool

	// Disconnect tears the session down. Safe to call repeatedly.
	Disconnect()
}

// StateStore receives device state as it is observed. Implementations
// publish to the state bus (MQTT retained topics, time-series writes);
// drivers only ever write keys and read back their last value.
type StateStore interface {
	// SetState records the current value of a state key for a device.
	SetState(deviceID, key string, value any)

	// GetState returns the last recorded value of a state key.
	GetState(deviceID, key string) (any, bool)
}

// Reporter receives diagnostics for devices the catalog does not
// recognise. Implementations publish the report so an operator can
// extend the catalog.
type Reporter interface {
	ReportUnknownModel(deviceID, model, settingsXML, profilesXML string)
}

// Hooks is the per-variant behaviour a driver composes over. One
// generic driver owns lifecycle, scheduling and error handling; the
// hooks own transport and protocol specifics.
type Hooks interface {
	// Login authenticates the underlying transport session.
	Login(ctx context.Context) (bool, error)

	// LoggedIn reports whether the transport session is authenticated.
	LoggedIn() bool

	// Invalidate discards any cached session state so the next Login
	// performs a full handshake.
	Invalidate()

	// Identify verifies (or learns) the device identity against live
	// data. Conflicts surface as a NeedsRebuild outcome, never as an
	// error; errors mean the pass could not complete.
	Identify(ctx context.Context) (IdentifyOutcome, error)

	// Poll performs one liveness-and-telemetry pass, writing observed
	// state to the store. An error marks the device unreachable.
	Poll(ctx context.Context) error

	// HandleCommand applies an inbound command value to the device.
	HandleCommand(ctx context.Context, key, payload string) error

	// Close releases transport resources. Safe to call repeatedly.
	Close()
}
