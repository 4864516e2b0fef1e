// Package config loads and validates dlink-core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by DLINKCORE_* environment variables. The loaded
// Config is treated as read-only after startup; in particular the security
// secret that keys the credential codec must never change while devices
// are running.
package config
