// Package hnap implements the SOAP transport spoken by older D-Link
// smart-home devices (plugs, motion/water sensors, sirens).
//
// # Protocol
//
// Every request is an HTTP POST to /HNAP1 with a fixed SOAP envelope
// under the namespace http://purenetworks.com/HNAP1/. Authentication
// is a two-phase challenge-response: the device issues a challenge and
// public key, the client derives a session private key with MD5-HMAC,
// and every subsequent request is signed in the HNAP_AUTH header with
// that key over a timestamp and the quoted action URI. The session is
// carried by a uid cookie.
//
// # Session Expiry
//
// Devices drop sessions freely. Two signals mean "log in again": an
// HTTP 403, and a literal ERROR in the action's Result element (which
// some firmwares send with a 2xx status). Both invalidate the client's
// session state and surface as errors matching SessionExpired; the
// device layer reacts by re-running Login on the next cycle.
//
// # Response Parsing
//
// Responses are parsed into a generic element tree rather than
// per-action structs: extraction is by local element name, a leaf
// element yields its text, and a container element yields its
// children's texts as an ordered list (module type lists come back
// this way).
package hnap
