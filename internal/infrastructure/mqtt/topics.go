package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the PumpLink MQTT hierarchy.
//
// Device traffic uses two flat schemes:
//
//	pumplink/command/{device_id}              - commands to a pump
//	pumplink/telemetry/{device_id}/{category} - reports from a pump
const (
	// TopicPrefix is the base for all PumpLink topics.
	TopicPrefix = "pumplink"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "pumplink/system"
)

// Telemetry categories published by pumps.
// These form the final segment of telemetry topics.
const (
	CategoryProgress     = "progress"
	CategoryError        = "error"
	CategoryStatus       = "status"
	CategoryConfirmation = "confirmation"
	CategoryCompletion   = "completion"
	CategoryAction       = "action"
)

// Topics provides builders for PumpLink MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommand("pump-icu-07")
//	// Returns: "pumplink/command/pump-icu-07"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceCommand returns the topic for commands to a specific pump.
//
// Example: pumplink/command/pump-icu-07
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// DeviceTelemetry returns the topic a pump publishes a telemetry category to.
//
// Example: pumplink/telemetry/pump-icu-07/progress
func (Topics) DeviceTelemetry(deviceID, category string) string {
	return fmt.Sprintf("%s/telemetry/%s/%s", TopicPrefix, deviceID, category)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
// Carries the service's retained online/offline status and LWT.
//
// Example: pumplink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllTelemetry returns a pattern matching every telemetry category from
// every pump.
//
// Pattern: pumplink/telemetry/+/+
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+/+", TopicPrefix)
}

// AllDeviceTelemetry returns a pattern matching all telemetry from one pump.
//
// Pattern: pumplink/telemetry/pump-icu-07/+
func (Topics) AllDeviceTelemetry(deviceID string) string {
	return fmt.Sprintf("%s/telemetry/%s/+", TopicPrefix, deviceID)
}

// AllTopics returns a pattern matching all PumpLink topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: pumplink/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// =============================================================================
// Parsing
// =============================================================================

// ParseTelemetryTopic extracts the device ID and category from a telemetry
// topic. It is the inverse of DeviceTelemetry.
//
// Returns ok=false for topics that are not well-formed telemetry topics;
// callers should drop such messages.
func ParseTelemetryTopic(topic string) (deviceID, category string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		return "", "", false
	}
	if parts[0] != TopicPrefix || parts[1] != "telemetry" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
