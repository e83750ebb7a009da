// Package mqtt provides the MQTT client for Tile Core.
//
// Tracker entities publish their location state here; the broker is the
// integration surface for dashboards and downstream automations.
//
// # Topic Hierarchy
//
//	tilecore/status                                      service online/offline (retained, LWT)
//	tilecore/tracker/{entry_id}/{tile_uuid}/state        tile location state (retained JSON)
//	tilecore/tracker/{entry_id}/{tile_uuid}/availability "online"/"offline" (retained)
//
// # Reliability
//
//   - Automatic reconnection with exponential backoff
//   - Subscriptions restored on reconnect
//   - Last Will and Testament marks the service offline after a crash
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.TrackerState(entryID, tileUUID)
//	err = client.PublishRetained(topic, payload)
package mqtt
