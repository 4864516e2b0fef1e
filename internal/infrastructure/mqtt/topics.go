package mqtt

import "fmt"

// Topic prefixes for the dlink MQTT namespace.
//
// Device state uses the flat scheme: dlink/state/{device_id}/{key}
// where device_id is the MAC-derived identifier and key is a state
// attribute (state, temperature, unreachable, ...).
const (
	// TopicPrefix is the base for all dlink topics.
	TopicPrefix = "dlink"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "dlink/system"

	// TopicPrefixDiscovery is the base for discovery topics.
	TopicPrefixDiscovery = "dlink/discovery"
)

// Topics provides builders for dlink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("C4E90A123456", "temperature")
//	// Returns: "dlink/state/C4E90A123456/temperature"
type Topics struct{}

// DeviceState returns the topic for a single device state attribute.
//
// Example: dlink/state/C4E90A123456/state
func (Topics) DeviceState(deviceID, key string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, deviceID, key)
}

// DeviceCommand returns the topic for commands to a device.
//
// Example: dlink/command/C4E90A123456/state
func (Topics) DeviceCommand(deviceID, command string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, deviceID, command)
}

// DeviceAvailability returns the topic carrying a device's reachability flag.
//
// Example: dlink/state/C4E90A123456/unreachable
func (Topics) DeviceAvailability(deviceID string) string {
	return fmt.Sprintf("%s/state/%s/unreachable", TopicPrefix, deviceID)
}

// SystemStatus returns the service status topic (also used for the LWT).
//
// Example: dlink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// DiscoveryReport returns the topic for discovery diagnostics, such as
// reports of devices with models the catalog does not recognise.
//
// Example: dlink/discovery/report
func (Topics) DiscoveryReport() string {
	return fmt.Sprintf("%s/report", TopicPrefixDiscovery)
}

// DiscoveryCandidate returns the topic announcing an unmanaged device
// seen on the network.
//
// Example: dlink/discovery/candidate/C4E90A123456
func (Topics) DiscoveryCandidate(deviceID string) string {
	return fmt.Sprintf("%s/candidate/%s", TopicPrefixDiscovery, deviceID)
}

// AllDeviceCommands returns a pattern matching every device command topic.
//
// Pattern: dlink/command/+/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: dlink/state/+/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefix)
}

// AllTopics returns a pattern matching all dlink topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: dlink/#
func (Topics) AllTopics() string {
	return "dlink/#"
}
