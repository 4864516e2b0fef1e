// Package mqtt provides the broker connection used as dlinkcore's state
// bus and command channel.
//
// # Overview
//
// The Client wraps paho.mqtt.golang with connection management,
// automatic reconnection, subscription restoration, and Last Will and
// Testament (LWT) handling. Device drivers publish retained state to
// dlink/state/{device_id}/{key} and the device manager subscribes to
// dlink/command/+/+ for inbound commands.
//
// # Topic Scheme
//
//	dlink/state/{device_id}/{key}        retained device state attributes
//	dlink/command/{device_id}/{command}  commands to a managed device
//	dlink/system/status                  service online/offline (LWT)
//	dlink/discovery/report               discovery diagnostics
//	dlink/discovery/candidate/{id}       unmanaged devices seen on the network
//
// Use the Topics helpers rather than hand-building topic strings.
//
// # Reconnection
//
// The paho library reconnects automatically with exponential backoff
// (bounds come from config). Subscriptions registered through
// Subscribe are tracked and restored on every reconnect, and the
// online status message is republished.
//
// # Thread Safety
//
// All Client methods are safe for concurrent use. Message handlers run
// on paho's goroutines and are wrapped with panic recovery.
package mqtt
