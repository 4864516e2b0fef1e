// Package device runs the D-Link device fleet.
//
// One generic Driver owns every device's lifecycle - login, identity
// verification, scheduled polling, command handling, teardown - and
// composes over a Hooks implementation for the model's transport and
// protocol specifics. SOAP plugs, SOAP sensors, the siren and the
// websocket plugs are all the same driver with different hooks.
//
// # Catalog and factory
//
// A static catalog maps model strings to capability descriptors. The
// Factory turns stored identities into running drivers and owns the
// decisions the driver must not make itself: transport fallback when a
// model is unknown, reconstruction when live identity contradicts the
// recorded one, and diagnostics for models outside the catalog.
//
// # Identity conflicts
//
// An identify pass compares live MAC and model against the recorded
// identity. Conflicts are ordinary values (IdentifyOutcome), not
// errors; they flow back to the factory, which rebuilds the device
// once with the corrected identity and persists the correction. A
// conflict found later, on a running device, is logged and leaves the
// device unidentified until a restart.
//
// # Persistence
//
// Identities live in SQLite behind the Repository interface. PINs are
// obfuscated with a configured secret before hitting disk and exist in
// cleartext only in memory.
//
// # Fleet
//
// The Manager loads identities at startup, runs one driver each,
// subscribes to the MQTT command topic (dlink/command/<id>/<key>) and
// applies discovery observations - address moves restart the device,
// learned models are recorded. State flows out through the StateStore
// interface; the manager never touches state topics directly.
package device
