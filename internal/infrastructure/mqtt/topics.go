package mqtt

import "fmt"

// Topic prefixes for the Tile Core MQTT namespace.
//
// Tracker topics use the scheme: tilecore/tracker/{entry_id}/{tile_uuid}/{suffix}
const (
	// TopicPrefix is the base for all Tile Core topics.
	TopicPrefix = "tilecore"

	// TopicPrefixTracker is the base for device-tracker topics.
	TopicPrefixTracker = "tilecore/tracker"
)

// Topics provides builders for Tile Core MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.TrackerState("home", "ab12cd34")
//	// Returns: "tilecore/tracker/home/ab12cd34/state"
type Topics struct{}

// SystemStatus returns the topic for service online/offline status.
// Used for the LWT message and graceful shutdown notification.
//
// Example: tilecore/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/status"
}

// TrackerState returns the topic for a tile's location state.
// Published retained after every successful refresh cycle.
//
// Example: tilecore/tracker/home/ab12cd34/state
func (Topics) TrackerState(entryID, tileUUID string) string {
	return fmt.Sprintf("%s/%s/%s/state", TopicPrefixTracker, entryID, tileUUID)
}

// TrackerAvailability returns the topic for a tile's availability.
// Published retained: "online" after a successful refresh, "offline"
// after a failed one or on entry unload.
//
// Example: tilecore/tracker/home/ab12cd34/availability
func (Topics) TrackerAvailability(entryID, tileUUID string) string {
	return fmt.Sprintf("%s/%s/%s/availability", TopicPrefixTracker, entryID, tileUUID)
}

// AllTrackerStates returns a wildcard subscription for every tracker state.
//
// Example: tilecore/tracker/+/+/state
func (Topics) AllTrackerStates() string {
	return TopicPrefixTracker + "/+/+/state"
}
