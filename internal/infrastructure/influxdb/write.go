package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteLocationPoint records a tile's position after a refresh cycle.
//
// The write is non-blocking; data is batched and sent asynchronously.
// Timestamp should be the tile's own last-seen time, not time.Now(), so
// history reflects when the tile actually reported, not when we polled.
//
// Parameters:
//   - tileUUID: The tile's unique identifier
//   - name: Display name (tag, low cardinality)
//   - latitude, longitude: Reported position in degrees
//   - accuracy: Position accuracy in metres
//   - timestamp: When the tile last reported this position
func (c *Client) WriteLocationPoint(tileUUID, name string, latitude, longitude, accuracy float64, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"tile_location",
		map[string]string{
			"tile_uuid": tileUUID,
			"name":      name,
		},
		map[string]interface{}{
			"latitude":  latitude,
			"longitude": longitude,
			"accuracy":  accuracy,
		},
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteTileStatus records a tile's availability after a refresh cycle.
//
// Parameters:
//   - tileUUID: The tile's unique identifier
//   - available: Whether the refresh succeeded
func (c *Client) WriteTileStatus(tileUUID string, available bool) {
	if !c.IsConnected() {
		return
	}

	status := 0.0
	if available {
		status = 1.0
	}

	point := write.NewPoint(
		"tile_status",
		map[string]string{
			"tile_uuid": tileUUID,
		},
		map[string]interface{}{
			"available": status,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
