// Package tile wires the Tile cloud API into the entry lifecycle.
//
// The manager authenticates each configured account, discovers its
// tiles, gives every tile a polling coordinator and hands the set to
// the entity platforms. Setup is strictly ordered: legacy unique IDs
// are migrated before any network traffic, and the initial population
// pass runs with bounded concurrency before platforms load, so entities
// always start from whole data.
//
// Failures divide into two classes. Rejected credentials and platform
// errors are permanent (ErrSetupFailed); an unreachable or erroring
// cloud service is transient (ErrNotReady) and Run retries those
// entries on a fixed delay.
package tile
