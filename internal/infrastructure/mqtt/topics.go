package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots. Bridge topics use the flat scheme
// graylogic/{category}/{protocol}/{id}.
const (
	TopicRoot         = "graylogic"
	TopicPrefixCore   = "graylogic/core"
	TopicPrefixSystem = "graylogic/system"
)

// Bridge topic categories.
const (
	CategoryState   = "state"
	CategoryCommand = "command"
	CategoryAck     = "ack"
	CategoryHealth  = "health"
)

// Topics provides builders for the topics this service publishes and
// subscribes to.
//
//	topics := mqtt.Topics{}
//	topics.BridgeState("ble", "AA:BB:CC:DD:EE:FF")
//	// graylogic/state/ble/AA:BB:CC:DD:EE:FF
type Topics struct{}

// BridgeState returns the retained state topic for a device.
func (Topics) BridgeState(protocol, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicRoot, CategoryState, protocol, id)
}

// BridgeCommand returns the command topic for a device or adapter target.
func (Topics) BridgeCommand(protocol, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicRoot, CategoryCommand, protocol, id)
}

// BridgeAck returns the acknowledgement topic for a command target.
func (Topics) BridgeAck(protocol, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicRoot, CategoryAck, protocol, id)
}

// BridgeHealth returns the health topic for a bridge.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/%s/%s", TopicRoot, CategoryHealth, protocol)
}

// BridgeCommands returns a pattern matching every command to one bridge.
//
// Pattern: graylogic/command/{protocol}/+
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/%s/%s/+", TopicRoot, CategoryCommand, protocol)
}

// CoreEvent returns the topic for a lifecycle event.
//
// Example: graylogic/core/event/device.connected
func (Topics) CoreEvent(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixCore, eventType)
}

// AllCoreEvents returns a pattern matching all core events.
func (Topics) AllCoreEvents() string {
	return TopicPrefixCore + "/event/+"
}

// SystemStatus returns the online/offline status topic for a client.
//
// Example: graylogic/system/graylogic-ble/status
func (Topics) SystemStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixSystem, clientID)
}

// ParseBridgeTopic splits a flat bridge topic into its parts. Device IDs
// contain colons but never slashes, so the ID is the final segment.
func ParseBridgeTopic(topic string) (category, protocol, id string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicRoot {
		return "", "", "", false
	}
	if parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return "", "", "", false
	}
	return parts[1], parts[2], parts[3], true
}
