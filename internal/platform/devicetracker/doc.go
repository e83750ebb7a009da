// Package devicetracker renders tiles as device tracker entities.
//
// One tracker is created per eligible tile during entry setup. Trackers
// publish a retained JSON state document and an online/offline
// availability flag over MQTT after every coordinator refresh, and
// record location points in the time series store. Unique IDs are
// account scoped ("<username>_<tile_uuid>") so the same tile on two
// accounts yields two distinct entities.
package devicetracker
