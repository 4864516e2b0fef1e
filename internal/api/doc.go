// Package api provides the HTTP interface to the device fleet.
//
// The server exposes a versioned REST API under /api/v1:
//
//   - /devices           — fleet CRUD, cached state reads, command writes
//   - /discovery         — auto-discovered candidates and manual identify
//   - /health, /system   — backend health probes and process info
//
// Handlers talk to the rest of the system through small service
// interfaces (DeviceService, DiscoveryService, StateReader) so tests
// can exercise the HTTP surface without a running fleet.
package api
