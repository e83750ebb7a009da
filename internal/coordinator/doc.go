// Package coordinator provides periodic data refresh with bounded
// initial population.
//
// Each data source gets its own Coordinator running a ticker loop.
// Before the loops start, RefreshGroup performs one refresh per
// coordinator with capped concurrency so startup cannot flood the
// upstream service. Update outcomes are three-valued: a Success, a
// SoftRetry that keeps the loop polling, or a HardFailure for errors
// retrying cannot cure.
package coordinator
