// Package influxdb provides time-series recording of tile history.
//
// Each successful refresh cycle writes the tile's position to the
// tile_location measurement; availability transitions go to tile_status.
// The integration is optional - when disabled in config, no client is
// created and callers skip history recording.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLocationPoint(uuid, name, lat, lon, accuracy, lastSeen)
//
// # Write Model
//
// Writes are non-blocking and batched by the underlying client. Failures
// surface asynchronously through SetOnError.
package influxdb
