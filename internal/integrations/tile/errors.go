package tile

import "errors"

// Sentinel errors for entry lifecycle operations. ErrNotReady marks a
// transient condition worth retrying after a delay; ErrSetupFailed marks
// a condition retrying cannot cure, such as rejected credentials.
var (
	// ErrSetupFailed indicates entry setup failed permanently.
	ErrSetupFailed = errors.New("tile integration: setup failed")

	// ErrNotReady indicates the upstream service was unavailable and
	// setup should be retried later.
	ErrNotReady = errors.New("tile integration: not ready")

	// ErrAlreadySetUp indicates the entry is already loaded.
	ErrAlreadySetUp = errors.New("tile integration: entry already set up")

	// ErrNotLoaded indicates the entry has no live state to unload.
	ErrNotLoaded = errors.New("tile integration: entry not loaded")
)
