package registry

import "errors"

// Sentinel errors for registry operations. Callers use errors.Is to
// distinguish a missing entity from an identifier collision.
var (
	// ErrEntityNotFound indicates no entity matches the requested ID.
	ErrEntityNotFound = errors.New("registry: entity not found")

	// ErrUniqueIDTaken indicates the target unique ID is already in use
	// by another entity.
	ErrUniqueIDTaken = errors.New("registry: unique id already taken")
)
