// Package registry persists tracker entities in SQLite.
//
// The registry maps stable unique IDs to entity rows so that trackers
// keep their identity across restarts. Unique IDs are scoped to the
// owning account ("<username>_<tile_uuid>"); UpdateUniqueID exists to
// migrate rows written under the older unscoped scheme.
package registry
