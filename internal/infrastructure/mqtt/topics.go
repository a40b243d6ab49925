package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the growrack bus.
//
// Gateways publish readings and acknowledgements; core publishes commands,
// automation events and its own status.
const (
	// TopicPrefix is the root of every growrack topic.
	TopicPrefix = "growrack"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "growrack/system"
)

// Topics provides builders for growrack MQTT topics.
// Using these helpers keeps topic naming consistent between the ingress,
// dispatch and event packages.
//
//	topic := mqtt.Topics{}.Command("rack-a", "watering")
//	// Returns: "growrack/command/rack-a/watering"
type Topics struct{}

// Reading returns the topic a rack gateway publishes sensor readings on.
//
// Example: growrack/reading/rack-a
func (Topics) Reading(rackID string) string {
	return fmt.Sprintf("%s/reading/%s", TopicPrefix, rackID)
}

// Command returns the topic an actuator command for one channel is sent on.
//
// Example: growrack/command/rack-a/watering
func (Topics) Command(rackID, channel string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, rackID, channel)
}

// Ack returns the topic a gateway acknowledges a single command on.
//
// Example: growrack/ack/rack-a/3f1c...
func (Topics) Ack(rackID, commandID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, rackID, commandID)
}

// Event returns the topic automation events for a rack are published on.
//
// Example: growrack/event/rack-a
func (Topics) Event(rackID string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, rackID)
}

// SystemStatus returns the retained core status topic (online/offline, LWT).
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllReadings matches sensor readings from every rack.
func (Topics) AllReadings() string {
	return TopicPrefix + "/reading/+"
}

// AllAcks matches command acknowledgements from every rack.
func (Topics) AllAcks() string {
	return TopicPrefix + "/ack/+/+"
}

// AllEvents matches automation events for every rack.
func (Topics) AllEvents() string {
	return TopicPrefix + "/event/+"
}

// AllTopics matches everything under the growrack prefix.
// Use with care; intended for debugging.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// ParseReadingTopic extracts the rack ID from a reading topic.
// It returns false for any topic that is not growrack/reading/<rack>.
func ParseReadingTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix || parts[1] != "reading" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// ParseAckTopic extracts the rack and command IDs from an ack topic.
func ParseAckTopic(topic string) (rackID, commandID string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "ack" || parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
