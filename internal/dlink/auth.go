// Package dlink holds the small pure helpers shared by both D-Link
// transports: credential obfuscation, the HMAC signing used by the
// HNAP challenge-response handshake, and MAC address normalisation.
package dlink

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // HNAP protocol mandates MD5-HMAC
	"crypto/sha1" //nolint:gosec // websocket device tokens mandate SHA-1
	"encoding/hex"
	"strings"
)

// Obfuscate applies a symmetric XOR stream between secret (cycled) and
// value. The same call encrypts and decrypts: applying it twice with
// the same secret returns the original value.
//
// An empty secret or value returns value unchanged. That fails open on
// purpose - a missing secret stores the PIN as-is rather than refusing
// to start, and round-tripping still holds.
func Obfuscate(secret, value string) string {
	if secret == "" || value == "" {
		return value
	}

	out := []byte(value)
	key := []byte(secret)
	for i := range out {
		out[i] ^= key[i%len(key)]
	}
	return string(out)
}

// HMACMD5Hex computes the uppercase hex MD5-HMAC of message under key.
//
// HNAP uses this twice during login (private key derivation, login
// password) and once per authenticated request (the HNAP_AUTH header).
// The digest casing matters: devices compare it verbatim.
func HMACMD5Hex(key, message string) string {
	mac := hmac.New(md5.New, []byte(key))
	mac.Write([]byte(message))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// SHA1Hex returns the lowercase hex SHA-1 digest of s.
//
// Websocket devices authenticate each message with
// deviceID + "-" + SHA1Hex(pin + salt).
func SHA1Hex(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec // protocol-mandated digest
	return hex.EncodeToString(sum[:])
}

// IDFromMAC derives the canonical device identifier from a MAC address:
// uppercase hex with the separators stripped.
//
//	IDFromMAC("c4:e9:0a:12:34:56") == "C4E90A123456"
func IDFromMAC(mac string) string {
	id := strings.ToUpper(mac)
	id = strings.ReplaceAll(id, ":", "")
	id = strings.ReplaceAll(id, "-", "")
	return id
}

// FormatMAC normalises a MAC address to uppercase colon-separated form.
// Input may use colons, hyphens, or no separators. Strings that do not
// contain twelve hex digits are returned uppercased but otherwise
// untouched.
func FormatMAC(mac string) string {
	id := IDFromMAC(mac)
	if len(id) != 12 {
		return strings.ToUpper(mac)
	}

	var b strings.Builder
	for i := 0; i < len(id); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(id[i : i+2])
	}
	return b.String()
}
