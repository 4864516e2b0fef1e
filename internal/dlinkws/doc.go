// Package dlinkws implements the JSON-over-websocket protocol spoken
// by newer D-Link smart plugs (DSP-W115 single socket, DSP-W245 four
// sockets).
//
// # Protocol
//
// The device serves a TLS websocket with a self-signed certificate on
// port 8080. Every frame is a JSON object; outgoing frames carry an
// incrementing sequence_id, a fixed local_cid, a unix timestamp, and -
// once signed in - a device_token recomputed per frame as
// deviceID + "-" + SHA1(pin + salt). Replies echo the sequence_id of
// the request they answer.
//
// # Session
//
// SignIn sends the sign_in command; the reply carries the session salt
// and the device id. A keep_alive frame goes out every five seconds
// while connected, each one re-arming a single pending timer.
//
// # State Pushes
//
// Relay changes (local button, app) arrive as unsolicited "event"
// frames carrying the same setting entries a set_setting command uses.
// The client folds them into a local per-socket state array; reading
// state never costs a device round-trip.
//
// # Model Identification
//
// The websocket protocol does not state the model. ProbeModel scrapes
// the device's plain-HTTP status page for its setup SSID; a refused
// probe defaults to the single-socket DSP-W115.
package dlinkws
