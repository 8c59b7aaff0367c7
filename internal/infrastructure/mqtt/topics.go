package mqtt

import "strings"

// TopicPrefix is the base for all shadow topics.
//
// Topic scheme:
//
//	isyshadow/status/{kind}/{address}     retained entity status (JSON)
//	isyshadow/control/{kind}/{address}    raw control events, not retained
//	isyshadow/command/{kind}/{address}    inbound commands (JSON)
//	isyshadow/ack/{kind}/{address}        command acknowledgments
//	isyshadow/connection                  retained stream connection state
//	isyshadow/system/status               client online/offline (LWT)
const TopicPrefix = "isyshadow"

// Topics provides builders for shadow MQTT topics. Using these helpers
// keeps topic naming consistent between the relay and subscribers.
type Topics struct{}

// topicAddress makes an entity address safe for use as a topic level.
// Insteon addresses contain spaces and MQTT levels must not contain
// the separator, so both are folded to underscores.
func topicAddress(address string) string {
	address = strings.ReplaceAll(address, "/", "_")
	return strings.ReplaceAll(address, " ", "_")
}

// EntityStatus returns the retained status topic for an entity.
//
// Example: isyshadow/status/node/16_2E_45_1
func (Topics) EntityStatus(kind, address string) string {
	return TopicPrefix + "/status/" + kind + "/" + topicAddress(address)
}

// EntityControl returns the control event topic for an entity.
//
// Example: isyshadow/control/node/16_2E_45_1
func (Topics) EntityControl(kind, address string) string {
	return TopicPrefix + "/control/" + kind + "/" + topicAddress(address)
}

// EntityCommand returns the inbound command topic for an entity.
//
// Example: isyshadow/command/program/001A
func (Topics) EntityCommand(kind, address string) string {
	return TopicPrefix + "/command/" + kind + "/" + topicAddress(address)
}

// EntityAck returns the command acknowledgment topic for an entity.
//
// Example: isyshadow/ack/node/16_2E_45_1
func (Topics) EntityAck(kind, address string) string {
	return TopicPrefix + "/ack/" + kind + "/" + topicAddress(address)
}

// Connection returns the retained connection state topic.
//
// Example: isyshadow/connection
func (Topics) Connection() string {
	return TopicPrefix + "/connection"
}

// SystemStatus returns the client online/offline status topic.
// The broker publishes the LWT here on an unexpected disconnect.
//
// Example: isyshadow/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// AllStatus returns a pattern matching every entity status topic.
//
// Pattern: isyshadow/status/+/+
func (Topics) AllStatus() string {
	return TopicPrefix + "/status/+/+"
}

// AllControls returns a pattern matching every control event topic.
//
// Pattern: isyshadow/control/+/+
func (Topics) AllControls() string {
	return TopicPrefix + "/control/+/+"
}

// AllCommands returns a pattern matching every inbound command topic.
//
// Pattern: isyshadow/command/+/+
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+/+"
}

// AllAcks returns a pattern matching every command acknowledgment topic.
//
// Pattern: isyshadow/ack/+/+
func (Topics) AllAcks() string {
	return TopicPrefix + "/ack/+/+"
}
